package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"
	"github.com/spf13/cobra"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/config"
	"github.com/Kelaxon/opinedb-public/internal/engine"
	"github.com/Kelaxon/opinedb-public/internal/store"
)

var (
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "opine",
	Short: "opine - subjective query ranking over review data",
	Long: `opine interprets subjective query terms such as "quiet room" against the
attributes extracted from reviews, and ranks entities by how well they
satisfy a mix of subjective terms and objective predicates.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config (default: ./opine.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Load the catalog from this SQLite file instead of the data files")
}

// env is the state shared by every command.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	fs     *osfs.FS
}

func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &env{cfg: cfg, logger: logger, fs: osfs.NewFS()}, nil
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

// path converts an OS path to a path on e.fs.
func (e *env) path(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return e.fs.FromOSPath(abs)
}

func (e *env) files() (catalog.Files, error) {
	f := e.cfg.Data
	for _, p := range []*string{&f.Entities, &f.Reviews, &f.Sentiment, &f.Word2Vec, &f.IDF, &f.Labels, &f.Objective, &f.Restrict} {
		var err error
		if *p, err = e.path(*p); err != nil {
			return catalog.Files{}, err
		}
	}
	return f, nil
}

// loadCatalog reads the catalog from --db when given, else from the data
// files of the config.
func (e *env) loadCatalog() (*catalog.Catalog, error) {
	if dbPath != "" {
		s, err := store.NewSQLiteStoreWithDSN(dbPath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = s.Close() }()
		return store.LoadCatalog(s)
	}
	files, err := e.files()
	if err != nil {
		return nil, err
	}
	return catalog.Load(e.fs, files)
}

func (e *env) buildEngine(ctx context.Context) (*engine.Engine, error) {
	cat, err := e.loadCatalog()
	if err != nil {
		return nil, err
	}
	cfg := e.cfg.Engine
	if cfg.Models, err = e.path(cfg.Models); err != nil {
		return nil, err
	}
	if cfg.Index.Snapshot, err = e.path(cfg.Index.Snapshot); err != nil {
		return nil, err
	}
	return engine.Build(ctx, cat, cfg, engine.WithLogger(e.logger), engine.WithFS(e.fs))
}

// removeModels deletes the model file so the next build retrains.
func (e *env) removeModels() error {
	p, err := e.path(e.cfg.Engine.Models)
	if err != nil || p == "" {
		return err
	}
	if err := hackpadfs.Remove(e.fs, p); err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
		return err
	}
	return nil
}
