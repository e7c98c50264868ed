package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/pkg/expflow"
)

const modulePath = "github.com/mesh-intelligence/expflow"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the expflow version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "expflow v%s\nmodule: %s\n", expflow.Version, modulePath)
			return nil
		},
	}
}
