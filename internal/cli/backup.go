package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/internal/backup"
	"github.com/mesh-intelligence/expflow/pkg/expflow"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

func newBackupCmd(a *app) *cobra.Command {
	var (
		restore bool
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Mirror the data directory to an S3 bucket",
		Long: `Upload every participant and experiment document whose content differs from
the copy in the bucket configured under backup: in config.yaml. With --restore,
download the documents missing from the data directory instead; local
documents are never overwritten.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []backup.Option{}
			for _, fn := range a.s3opts {
				opts = append(opts, backup.WithS3Options(fn))
			}
			return a.withStore(func(s *expflow.Store) error {
				opts = append(opts, backup.WithLogger(a.log))
				m, err := backup.New(cmd.Context(), a.settings.Backup, opts...)
				if errors.Is(err, backup.ErrNoBucket) {
					return fmt.Errorf("%w: %v; set backup.bucket in config.yaml", types.ErrValidation, err)
				}
				if err != nil {
					return fail("connect to bucket", err)
				}

				if list {
					keys, err := m.List(cmd.Context())
					if err != nil {
						return fail("list bucket", err)
					}
					if keys == nil {
						keys = []string{}
					}
					return a.emit(cmd, keys, func(w io.Writer) {
						for _, k := range keys {
							fmt.Fprintln(w, k)
						}
					})
				}

				var rep backup.Report
				op := "push"
				if restore {
					op = "restore"
					rep, err = m.Restore(cmd.Context(), s.DataDir())
				} else {
					rep, err = m.Push(cmd.Context(), s.DataDir())
				}
				if err != nil {
					return fail(op, err)
				}
				return a.emit(cmd, rep, func(w io.Writer) {
					for _, k := range rep.Transferred {
						fmt.Fprintln(w, "  "+k)
					}
					verb := "Uploaded"
					if restore {
						verb = "Restored"
					}
					fmt.Fprintf(w, "%s %d document(s), %d unchanged\n", verb, len(rep.Transferred), len(rep.Unchanged))
				})
			})
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "download missing documents instead of uploading")
	cmd.Flags().BoolVar(&list, "list", false, "list the documents in the bucket")
	cmd.MarkFlagsMutuallyExclusive("restore", "list")
	return cmd
}
