package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Kelaxon/opinedb-public/internal/combine"
	"github.com/Kelaxon/opinedb-public/internal/membership"
	"github.com/Kelaxon/opinedb-public/internal/query"
)

var (
	rankMode   string
	rankPolicy string
	rankLimit  int
	rankIDs    []string
)

var rankCmd = &cobra.Command{
	Use:   "rank <term>...",
	Short: "Rank entities for a query",
	Long: `Rank entities by a query made of subjective terms and objective predicates.
Predicates use the form "<type>:<attribute> <op> <value>" with type bool,
cate or num.

Examples:
  opine rank "clean room" "bool:has_wifi = True"
  opine rank --mode histogram --policy agnostic "quiet" "num:price < 120"
  opine rank --ids a1,b2,c3 "friendly staff"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRank,
}

func init() {
	rankCmd.Flags().StringVar(&rankMode, "mode", string(membership.ModeMarker), "Membership mode (marker, histogram)")
	rankCmd.Flags().StringVar(&rankPolicy, "policy", string(combine.Sensitive), "Objective policy (sensitive, agnostic, boolean, ignore)")
	rankCmd.Flags().IntVarP(&rankLimit, "limit", "n", 10, "Number of results to print (0 for all)")
	rankCmd.Flags().StringSliceVar(&rankIDs, "ids", nil, "Rank only these entity ids")
	rootCmd.AddCommand(rankCmd)
}

func runRank(cmd *cobra.Command, args []string) error {
	mode, err := membership.ParseMode(rankMode)
	if err != nil {
		return err
	}
	policy, err := combine.ParsePolicy(rankPolicy)
	if err != nil {
		return err
	}
	terms, err := canonicalTerms(args)
	if err != nil {
		return err
	}
	e, err := setup()
	if err != nil {
		return err
	}
	eng, err := e.buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Close()

	e.logger.Info("ranking", "query", terms, "mode", mode, "policy", policy)
	ranked, err := eng.RankScored(cmd.Context(), terms, rankIDs, mode, policy)
	if err != nil {
		return err
	}
	if rankLimit > 0 && len(ranked) > rankLimit {
		ranked = ranked[:rankLimit]
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tID\tSCORE")
	for i, r := range ranked {
		fmt.Fprintf(w, "%d\t%s\t%.6g\n", i+1, r.ID, r.Score)
	}
	return w.Flush()
}

// canonicalTerms rewrites each query term into its canonical form so that
// malformed predicates fail before the catalog is loaded.
func canonicalTerms(args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		t, err := query.Canonical(a)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
