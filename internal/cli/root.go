// Package cli implements the expflow command-line interface.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/internal/logger"
	"github.com/mesh-intelligence/expflow/internal/paths"
	"github.com/mesh-intelligence/expflow/pkg/expflow"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// app holds the global flag values and the settings loaded for one
// invocation.
type app struct {
	configDir string
	dataDir   string
	jsonMode  bool
	compress  bool

	settings settings
	log      *logger.Logger

	// s3opts adjust the backup client; tests use them to replace the
	// transport.
	s3opts []func(*s3.Options)
}

// NewRootCmd creates the top-level "expflow" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "expflow",
		Short: "Record participants, experiments and trials as JSON documents",
		Long: `expflow keeps the participants of a study, their experiments and the trials
of each experiment as JSON documents in a data directory. Experiments are run
one trial at a time with "expflow experiment next" and can be paused and
resumed across invocations.`,
		Version: expflow.Version,
		// Errors are printed once by run.
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.loadSettings,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configDir, "config-dir", "", "configuration directory (default: platform config dir, or $"+paths.EnvConfigDir+")")
	pf.StringVar(&a.dataDir, "data-dir", "", "data directory (default: data_dir in config.yaml, or $"+paths.EnvDataDir+")")
	pf.BoolVar(&a.jsonMode, "json", false, "output as JSON")
	pf.BoolVar(&a.compress, "compress", false, "write new documents gzip-compressed")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newParticipantCmd(a))
	root.AddCommand(newExperimentCmd(a))
	root.AddCommand(newSummaryCmd(a))
	root.AddCommand(newBackupCmd(a))
	return root
}

// Execute runs the root command against os.Args and returns the exit code.
func Execute() int {
	return run(NewRootCmd(), os.Args[1:], os.Stderr)
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "expflow:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// loadSettings resolves the configuration directory and reads config.yaml.
// version needs no configuration and init writes its own.
func (a *app) loadSettings(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "version", "init":
		return nil
	}
	configDir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return fail("resolve config dir", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	a.settings = readSettings(v)
	return nil
}
