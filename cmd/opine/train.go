package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trainForce bool

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the membership classifiers",
	Long: `Train the marker and histogram membership classifiers from the labels and
save them to engine.models. Existing models are reused unless --force is
given or they no longer match the catalog.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().BoolVarP(&trainForce, "force", "f", false, "Retrain even if a model file exists")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	if trainForce {
		if err := e.removeModels(); err != nil {
			return err
		}
	}
	eng, err := e.buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Close()

	m := eng.Models()
	fmt.Fprintf(cmd.OutOrStdout(), "Models ready at %s (objective features: %t, marker dim %d, histogram dim %d)\n",
		e.cfg.Engine.Models, m.Objective, m.Marker.Dim(), m.Histogram.Dim())
	return nil
}
