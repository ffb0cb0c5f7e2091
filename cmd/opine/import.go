package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kelaxon/opinedb-public/internal/catalog"
	"github.com/Kelaxon/opinedb-public/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Copy the catalog data files into a SQLite database",
	Long: `Read the entity, review, sentiment, embedding, label and objective files
named in the config and store them in a SQLite database, which later
commands load with --db.

Examples:
  opine import                       # Write to store.path (default opine.db)
  opine import --out hotels.db`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

var importOut string

func init() {
	importCmd.Flags().StringVarP(&importOut, "out", "o", "", "Database file to write (default: store.path)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	files, err := e.files()
	if err != nil {
		return err
	}
	cat, err := catalog.Load(e.fs, files)
	if err != nil {
		return err
	}

	out := importOut
	if out == "" {
		out = e.cfg.Store.Path
	}
	s, err := store.NewSQLiteStoreWithDSN(out)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if err := store.Import(s, cat); err != nil {
		return err
	}

	e.logger.Info("imported catalog",
		"path", out,
		"entities", cat.Len(),
		"reviews", len(cat.Reviews()),
		"labels", len(cat.Labels()),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entities into %s\n", cat.Len(), out)
	return nil
}
