package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var interpretCmd = &cobra.Command{
	Use:   "interpret <term>...",
	Short: "Map subjective terms to attributes",
	Long: `Show the attribute each subjective term is interpreted as, with the phrase
that matched, whether it came from the phrase index or review co-occurrence,
and the closest marker summary of that attribute.

Examples:
  opine interpret "quiet room" "friendly staff"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInterpret,
}

func init() {
	rootCmd.AddCommand(interpretCmd)
}

func runInterpret(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	eng, err := e.buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TERM\tATTRIBUTE\tPHRASE\tSIMILARITY\tSOURCE\tMARKER")
	for _, term := range args {
		r := eng.Interpret(strings.ToLower(term))
		marker, ok := eng.Marker(r.Attribute, r.Phrase)
		if !ok {
			marker = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%s\t%s\n", term, r.Attribute, r.Phrase, r.Similarity, r.Source, marker)
	}
	return w.Flush()
}
