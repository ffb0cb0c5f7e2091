package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kelaxon/opinedb-public/internal/eval"
)

var (
	evalQueries string
	evalN       int
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure ranking quality",
	Long: `Generate random queries from a file of subjective terms and the objective
schema, rank them under every configured mode and policy, and report the
mean NDCG against the labels.

Examples:
  opine eval --queries data/query_terms.txt
  opine eval --queries data/query_terms.txt -n 20`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalQueries, "queries", "", "File of subjective query terms, one per line (default: eval.queries)")
	evalCmd.Flags().IntVarP(&evalN, "n", "n", 0, "Queries per set (default: eval.n)")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	cfg := e.cfg.Eval
	if evalQueries != "" {
		cfg.Queries = evalQueries
	}
	if evalN > 0 {
		cfg.N = evalN
	}
	if cfg.Queries == "" {
		return errors.New("no query terms file: set --queries or eval.queries")
	}
	queries, err := e.path(cfg.Queries)
	if err != nil {
		return err
	}
	terms, err := eval.ReadQueryTerms(e.fs, queries)
	if err != nil {
		return err
	}

	eng, err := e.buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Close()

	run := eval.NewRun(eng.Catalog(), cfg.K)
	results, err := eval.Evaluate(cmd.Context(), eng, run, terms, cfg, e.logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "SET\tSETTING\tNDCG@%d\tTIME\n", cfg.K)
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%s\n", r.Set, r.Setting, r.NDCG, r.Elapsed.Round(time.Millisecond))
	}
	return w.Flush()
}
