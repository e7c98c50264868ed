package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/internal/catalog"
	"github.com/mesh-intelligence/expflow/pkg/expflow"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

func newParticipantCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "participant",
		Aliases: []string{"participants", "p"},
		Short:   "Create, inspect and delete participants",
	}
	cmd.AddCommand(newParticipantCreateCmd(a))
	cmd.AddCommand(newParticipantShowCmd(a))
	cmd.AddCommand(newParticipantListCmd(a))
	cmd.AddCommand(newParticipantDeleteCmd(a))
	return cmd
}

func newParticipantCreateCmd(a *app) *cobra.Command {
	var (
		dob       string
		age       int
		gender    string
		language  string
		group     string
		comments  string
		temporary bool
	)
	cmd := &cobra.Command{
		Use:   "create <participant-id>",
		Short: "Create a participant document",
		Long: `Create a participant. IDs are at least three characters of letters, digits,
"_" and "-", and must not be taken by another participant.`,
		Example: `  expflow participant create p001 --dob 1990-04-12 --group control
  expflow participant create pilot-01 --temporary`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &expflow.Participant{
				ParticipantID: args[0],
				Gender:        gender,
				Language:      language,
				Group:         group,
				Comments:      comments,
				Temporary:     temporary,
			}
			if dob != "" {
				d, err := types.ParseDate(dob)
				if err != nil {
					return fmt.Errorf("%w: --dob %q is not a YYYY-MM-DD date", types.ErrValidation, dob)
				}
				p.DOB = &d
			}
			if cmd.Flags().Changed("age") {
				if age < 0 {
					return fmt.Errorf("%w: --age must not be negative", types.ErrValidation)
				}
				p.Age = &age
			}

			return a.withStore(func(s *expflow.Store) error {
				if err := expflow.CreateParticipant(s, p); err != nil {
					return fail("create participant", err)
				}
				return a.emit(cmd, p, func(w io.Writer) {
					fmt.Fprintf(w, "Created participant %s\n", p.ParticipantID)
					fmt.Fprintf(w, "  path: %s\n", p.Path)
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&dob, "dob", "", "date of birth (YYYY-MM-DD)")
	f.IntVar(&age, "age", 0, "age in years")
	f.StringVar(&gender, "gender", "", "gender")
	f.StringVar(&language, "language", "", "first language")
	f.StringVar(&group, "group", "", "study group or condition")
	f.StringVar(&comments, "comments", "", "free-form comments")
	f.BoolVar(&temporary, "temporary", false, "mark as a pilot or test participant")
	return cmd
}

func newParticipantShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <participant-id>",
		Short: "Display a participant and its experiments",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *expflow.Store) error {
				p, err := s.LoadParticipant(args[0])
				if err != nil {
					return fail("load participant", err)
				}
				experiments, err := s.ParticipatedIn(p.ParticipantID)
				if err != nil {
					return fail("list experiments", err)
				}
				out := struct {
					Participant *expflow.Participant `json:"participant"`
					Experiments []string             `json:"experiments"`
				}{p, experiments}
				return a.emit(cmd, out, func(w io.Writer) {
					dob := "-"
					if p.DOB != nil {
						dob = p.DOB.String()
					}
					fmt.Fprintf(w, "ID:          %s\n", p.ParticipantID)
					fmt.Fprintf(w, "Type:        %s\n", p.DeclaredType)
					fmt.Fprintf(w, "Created:     %s by %s@%s\n", p.CreatedAt.Format(timeLayout), p.Username, p.Hostname)
					fmt.Fprintf(w, "Group:       %s\n", orDash(p.Group))
					fmt.Fprintf(w, "DOB:         %s\n", dob)
					fmt.Fprintf(w, "Age:         %s\n", optInt(p.Age))
					fmt.Fprintf(w, "Gender:      %s\n", orDash(p.Gender))
					fmt.Fprintf(w, "Language:    %s\n", orDash(p.Language))
					fmt.Fprintf(w, "Temporary:   %t\n", p.Temporary)
					if p.Comments != "" {
						fmt.Fprintf(w, "Comments:    %s\n", p.Comments)
					}
					fmt.Fprintf(w, "Experiments: %s\n", orDash(strings.Join(experiments, ", ")))
				})
			})
		},
	}
}

func newParticipantListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List participants with their experiment counts",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCatalog(func(c *catalog.Catalog) error {
				rows, err := c.Participants()
				if err != nil {
					return fail("list participants", err)
				}
				if rows == nil {
					rows = []catalog.ParticipantSummary{}
				}
				return a.emit(cmd, rows, func(w io.Writer) {
					if len(rows) == 0 {
						fmt.Fprintln(w, "No participants")
						return
					}
					fmt.Fprintf(w, "%-16s %-12s %-11s %s\n", "PARTICIPANT", "GROUP", "EXPERIMENTS", "FINISHED")
					for _, r := range rows {
						fmt.Fprintf(w, "%-16s %-12s %-11d %d\n", r.ParticipantID, orDash(r.Group), r.Experiments, r.Finished)
					}
				})
			})
		},
	}
}

func newParticipantDeleteCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <participant-id>",
		Short: "Delete a participant document",
		Long: `Delete a participant. A participant with experiments is only deleted with
--force, which deletes its experiments first.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *expflow.Store) error {
				p, err := s.LoadParticipant(args[0])
				if err != nil {
					return fail("load participant", err)
				}
				experiments, err := s.ParticipatedIn(p.ParticipantID)
				if err != nil {
					return fail("list experiments", err)
				}
				if len(experiments) > 0 && !force {
					return fmt.Errorf("%w: participant %s has %d experiment(s); use --force to delete them too",
						types.ErrValidation, p.ParticipantID, len(experiments))
				}
				for _, eid := range experiments {
					e, err := s.LoadExperiment(p.ParticipantID, eid)
					if err != nil {
						return fail("load experiment "+eid, err)
					}
					if err := e.Delete(); err != nil {
						return fail("delete experiment "+eid, err)
					}
				}
				if err := p.Delete(); err != nil {
					return fail("delete participant", err)
				}
				out := struct {
					ParticipantID string   `json:"participant_id"`
					Experiments   []string `json:"deleted_experiments"`
				}{p.ParticipantID, experiments}
				return a.emit(cmd, out, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted participant %s\n", p.ParticipantID)
					for _, eid := range experiments {
						fmt.Fprintf(w, "  and experiment %s\n", eid)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also delete the participant's experiments")
	return cmd
}
