package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/internal/catalog"
	"github.com/mesh-intelligence/expflow/pkg/expflow"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

func newExperimentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"experiments", "e"},
		Short:   "Create, run and inspect experiments",
		Long: `Experiments belong to a participant and hold an ordered list of trials.
"next" performs one step of the run: it finishes the current trial and starts
the following one. The experiment is paused between invocations, so the time
between two "next" calls outside a trial is not counted.`,
	}
	cmd.AddCommand(newExperimentCreateCmd(a))
	cmd.AddCommand(newExperimentShowCmd(a))
	cmd.AddCommand(newExperimentListCmd(a))
	cmd.AddCommand(newExperimentNextCmd(a))
	cmd.AddCommand(newExperimentPauseCmd(a))
	cmd.AddCommand(newExperimentSkipCmd(a))
	cmd.AddCommand(newExperimentTimeOutCmd(a))
	cmd.AddCommand(newExperimentDeleteCmd(a))
	return cmd
}

func newExperimentCreateCmd(a *app) *cobra.Command {
	var (
		numTrials  int
		trialsFile string
	)
	cmd := &cobra.Command{
		Use:   "create <participant-id> <experiment-id>",
		Short: "Create an experiment for an existing participant",
		Example: `  expflow experiment create p001 stroop --trials 40
  expflow experiment create p001 flanker --trials-file flanker.yaml`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var trials []types.TrialItem
			switch {
			case trialsFile != "":
				var err error
				if trials, err = readTrialsFile(trialsFile); err != nil {
					return err
				}
			case numTrials < 0:
				return fmt.Errorf("%w: --trials must not be negative", types.ErrValidation)
			default:
				trials = types.NumberedTrials(numTrials)
			}

			return a.withStore(func(s *expflow.Store) error {
				e, err := s.NewExperiment(args[0], args[1], trials...)
				if err != nil {
					return fail("create experiment", err)
				}
				return a.emit(cmd, e, func(w io.Writer) {
					fmt.Fprintf(w, "Created experiment %s for %s with %d trial(s)\n", e.ExperimentID, e.ParticipantID, e.Len())
					fmt.Fprintf(w, "  path: %s\n", e.Path)
				})
			})
		},
	}
	cmd.Flags().IntVar(&numTrials, "trials", 0, "number of plain numbered trials")
	cmd.Flags().StringVar(&trialsFile, "trials-file", "", "YAML file describing the trials")
	cmd.MarkFlagsMutuallyExclusive("trials", "trials-file")
	return cmd
}

func newExperimentShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <participant-id> <experiment-id>",
		Short: "Display an experiment and its trials",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *expflow.Store) error {
				e, err := s.LoadExperiment(args[0], args[1])
				if err != nil {
					return fail("load experiment", err)
				}
				return a.emit(cmd, e, func(w io.Writer) { printExperiment(w, e) })
			})
		},
	}
}

func printExperiment(w io.Writer, e *expflow.Experiment) {
	fmt.Fprintf(w, "Participant: %s\n", e.ParticipantID)
	fmt.Fprintf(w, "Experiment:  %s\n", e.ExperimentID)
	fmt.Fprintf(w, "Type:        %s\n", e.DeclaredType)
	fmt.Fprintf(w, "Status:      %s (%s)\n", e.Status(), e.Status().Description())
	fmt.Fprintf(w, "Cursor:      %s of %d\n", optInt(e.TrialIndex), e.Len())
	fmt.Fprintf(w, "Duration:    %s\n", optSeconds(e.Duration))
	if e.LastSavedAt != nil {
		fmt.Fprintf(w, "Saved:       %s\n", e.LastSavedAt.Format(timeLayout))
	}
	if e.Len() == 0 {
		return
	}
	fmt.Fprintf(w, "\n  %-5s %-6s %-5s %-14s %-9s %s\n", "#", "NUMBER", "BLOCK", "CONDITION", "STATUS", "DURATION")
	for i, item := range e.Trials {
		t := item.TrialBase()
		marker := " "
		if e.TrialIndex != nil && *e.TrialIndex == i {
			marker = ">"
		}
		condition := orDash(t.Condition)
		if t.Practice {
			condition += "*"
		}
		fmt.Fprintf(w, "%s %-5d %-6s %-5s %-14s %-9s %s\n", marker, i, optInt(t.TrialNumber), optInt(t.BlockNumber),
			condition, t.Status(), optSeconds(t.Duration))
	}
}

func newExperimentListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [participant-id]",
		Short: "List experiments, optionally of one participant",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pid string
			if len(args) == 1 {
				pid = args[0]
			}
			return a.withCatalog(func(c *catalog.Catalog) error {
				rows, err := c.Experiments(pid)
				if err != nil {
					return fail("list experiments", err)
				}
				if rows == nil {
					rows = []catalog.ExperimentSummary{}
				}
				return a.emit(cmd, rows, func(w io.Writer) {
					if len(rows) == 0 {
						fmt.Fprintln(w, "No experiments")
						return
					}
					fmt.Fprintf(w, "%-16s %-16s %-9s %-8s %s\n", "PARTICIPANT", "EXPERIMENT", "STATUS", "TRIALS", "DURATION")
					for _, r := range rows {
						progress := fmt.Sprintf("%d/%d", r.TrialsDone, r.Trials)
						fmt.Fprintf(w, "%-16s %-16s %-9s %-8s %s\n", r.ParticipantID, r.ExperimentID, r.Status, progress, optSeconds(r.Duration))
					}
				})
			})
		},
	}
}

// stepResult is the JSON output of next.
type stepResult struct {
	ParticipantID string          `json:"participant_id"`
	ExperimentID  string          `json:"experiment_id"`
	Status        types.Status    `json:"status"`
	TrialIndex    *int            `json:"trial_index"`
	Trial         types.TrialItem `json:"trial,omitempty"`
	Finished      bool            `json:"finished"`
}

func newExperimentNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next <participant-id> <experiment-id>",
		Short: "Finish the current trial and start the next one",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *expflow.Store) error {
				e, err := s.LoadExperiment(args[0], args[1])
				if err != nil {
					return fail("load experiment", err)
				}
				// The previous invocation left the experiment paused on its
				// current trial.
				if e.IsPaused() {
					if err := e.Resume(); err != nil {
						return fail("resume experiment", err)
					}
				}
				trial, err := e.Next()
				finished := errors.Is(err, types.ErrNoMoreTrials)
				if err != nil && !finished {
					return fail("next trial", err)
				}
				out := stepResult{
					ParticipantID: e.ParticipantID,
					ExperimentID:  e.ExperimentID,
					Status:        e.Status(),
					TrialIndex:    e.TrialIndex,
					Trial:         trial,
					Finished:      finished,
				}
				return a.emit(cmd, out, func(w io.Writer) {
					if finished {
						fmt.Fprintf(w, "Experiment %s finished (%s)\n", e.ExperimentID, optSeconds(e.Duration))
						return
					}
					t := trial.TrialBase()
					fmt.Fprintf(w, "Trial %d of %d running", *e.TrialIndex+1, e.Len())
					if t.Condition != "" {
						fmt.Fprintf(w, " (condition %s)", t.Condition)
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
}

// runTransition loads an experiment, applies fn and prints the new status.
func (a *app) runTransition(cmd *cobra.Command, args []string, op string, fn func(e *expflow.Experiment) error) error {
	return a.withStore(func(s *expflow.Store) error {
		e, err := s.LoadExperiment(args[0], args[1])
		if err != nil {
			return fail("load experiment", err)
		}
		if err := fn(e); err != nil {
			return fail(op, err)
		}
		out := struct {
			ParticipantID string       `json:"participant_id"`
			ExperimentID  string       `json:"experiment_id"`
			Status        types.Status `json:"status"`
		}{e.ParticipantID, e.ExperimentID, e.Status()}
		return a.emit(cmd, out, func(w io.Writer) {
			fmt.Fprintf(w, "Experiment %s is %s\n", e.ExperimentID, e.Status())
		})
	})
}

func newExperimentPauseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <participant-id> <experiment-id>",
		Short: "Pause a running experiment",
		Long: `Pause a running experiment and its current trial. Experiments are saved
paused at the end of every invocation, so this is only needed by callers that
share a data directory with a process still running the experiment.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTransition(cmd, args, "pause experiment", func(e *expflow.Experiment) error {
				if e.IsPaused() {
					return nil
				}
				return e.Pause()
			})
		},
	}
}

func newExperimentSkipCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <participant-id> <experiment-id>",
		Short: "Mark a pending experiment and all its trials as skipped",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTransition(cmd, args, "skip experiment", func(e *expflow.Experiment) error {
				return e.Skip()
			})
		},
	}
}

func newExperimentTimeOutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "timeout <participant-id> <experiment-id>",
		Short: "End a started experiment as timed out",
		Long: `Mark a started experiment timed out. Its current trial is timed out as well
and the trials that never ran are skipped.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTransition(cmd, args, "time out experiment", func(e *expflow.Experiment) error {
				if e.IsPaused() {
					if err := e.Resume(); err != nil {
						return err
					}
				}
				return e.TimeOut()
			})
		},
	}
}

func newExperimentDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <participant-id> <experiment-id>",
		Short: "Delete an experiment document",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *expflow.Store) error {
				e, err := s.LoadExperiment(args[0], args[1])
				if err != nil {
					return fail("load experiment", err)
				}
				if err := e.Delete(); err != nil {
					return fail("delete experiment", err)
				}
				out := struct {
					ParticipantID string `json:"participant_id"`
					ExperimentID  string `json:"experiment_id"`
					Deleted       bool   `json:"deleted"`
				}{e.ParticipantID, e.ExperimentID, true}
				return a.emit(cmd, out, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted experiment %s of %s\n", e.ExperimentID, e.ParticipantID)
				})
			})
		},
	}
}
