package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/internal/catalog"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

// summary is the JSON output of the summary command.
type summary struct {
	Participants int                        `json:"participants"`
	Experiments  map[types.Status]int       `json:"experiments"`
	Trials       map[types.Status]int       `json:"trials"`
	Conditions   []catalog.ConditionSummary `json:"conditions"`
	Skipped      int                        `json:"skipped_documents"`
}

func newSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarize the data directory",
		Long: `Index every participant and experiment document and report how many
experiments and trials are in each status, and the number and mean duration
of finished, non-practice trials per condition.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCatalog(func(c *catalog.Catalog) error {
				var (
					out summary
					err error
				)
				participants, err := c.Participants()
				if err != nil {
					return fail("summarize participants", err)
				}
				out.Participants = len(participants)
				if out.Experiments, err = c.ExperimentStatusCounts(); err != nil {
					return fail("summarize experiments", err)
				}
				if out.Trials, err = c.TrialStatusCounts(); err != nil {
					return fail("summarize trials", err)
				}
				if out.Conditions, err = c.Conditions(); err != nil {
					return fail("summarize conditions", err)
				}
				if out.Conditions == nil {
					out.Conditions = []catalog.ConditionSummary{}
				}
				out.Skipped = c.Skipped()
				return a.emit(cmd, out, func(w io.Writer) { printSummary(w, out) })
			})
		},
	}
}

func printSummary(w io.Writer, s summary) {
	fmt.Fprintf(w, "Participants: %d\n", s.Participants)
	printCounts(w, "Experiments", s.Experiments)
	printCounts(w, "Trials", s.Trials)
	if len(s.Conditions) > 0 {
		fmt.Fprintf(w, "\n%-16s %-7s %s\n", "CONDITION", "TRIALS", "MEAN")
		for _, c := range s.Conditions {
			fmt.Fprintf(w, "%-16s %-7d %s\n", orDash(c.Condition), c.Trials, optSeconds(c.MeanDuration))
		}
	}
	if s.Skipped > 0 {
		fmt.Fprintf(w, "\n%d document(s) could not be read\n", s.Skipped)
	}
}

// printCounts lists counts in lifecycle order, leaving out empty statuses.
func printCounts(w io.Writer, label string, counts map[types.Status]int) {
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Fprintf(w, "%s: %d\n", label, total)
	for _, s := range types.Statuses() {
		if n := counts[s]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", s, n)
		}
	}
}
