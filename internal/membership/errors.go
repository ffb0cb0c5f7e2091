package membership

import "errors"

var (
	// ErrInsufficientExamples is returned when training cannot collect the
	// requested number of samples.
	ErrInsufficientExamples = errors.New("membership: insufficient training examples")

	// ErrUnknownMode is returned for a scoring mode other than marker or histogram.
	ErrUnknownMode = errors.New("membership: unknown mode")

	// ErrNoModel is returned when a mode has no trained classifier.
	ErrNoModel = errors.New("membership: no model for mode")

	// ErrModelShape is returned when a loaded model does not match the
	// feature width of the catalog.
	ErrModelShape = errors.New("membership: model does not match feature width")

	// ErrStaleModel is returned when a loaded model was trained on a
	// different catalog.
	ErrStaleModel = errors.New("membership: model trained on a different catalog")
)
