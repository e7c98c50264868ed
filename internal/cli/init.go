package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/expflow/internal/paths"
	"github.com/mesh-intelligence/expflow/pkg/expflow"
)

// configFile is the structure init writes to config.yaml.
type configFile struct {
	DataDir     string `yaml:"data_dir,omitempty"`
	Compression bool   `yaml:"compression"`
	LogMode     string `yaml:"log_mode"`
	Redact      bool   `yaml:"redact"`
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration file and the data directory",
		Long: `Write config.yaml into the configuration directory if it has none, recording
--data-dir and --compress, then create the data directory and its
subdirectories. Running init again leaves an existing config.yaml alone.`,
		Args: exactArgs(0),
		RunE: a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(a.configDir)
	if err != nil {
		return fail("resolve config dir", err)
	}
	if err := ensureConfigDir(configDir); err != nil {
		return fail("create config dir", err)
	}
	recorded := a.dataDir
	if recorded != "" {
		if recorded, err = filepath.Abs(recorded); err != nil {
			return fail("resolve data dir", err)
		}
	}
	written, err := writeConfigIfMissing(paths.ConfigFile(configDir), configFile{
		DataDir:     recorded,
		Compression: a.compress,
		LogMode:     defaultLogMode,
	})
	if err != nil {
		return fail("write config", err)
	}

	if err := a.loadSettings(cmd.Root(), args); err != nil {
		return err
	}

	var dataDir string
	err = a.withStore(func(s *expflow.Store) error {
		dataDir = s.DataDir()
		return nil
	})
	if err != nil {
		return err
	}

	result := struct {
		ConfigDir     string `json:"config_dir"`
		DataDir       string `json:"data_dir"`
		ConfigWritten bool   `json:"config_written"`
	}{configDir, dataDir, written}
	return a.emit(cmd, result, func(w io.Writer) {
		fmt.Fprintln(w, "expflow initialized")
		fmt.Fprintln(w, "  config:", paths.ConfigFile(configDir))
		fmt.Fprintln(w, "  data:  ", dataDir)
	})
}

// writeConfigIfMissing writes cfg to path unless the file exists. It reports
// whether it wrote the file.
func writeConfigIfMissing(path string, cfg configFile) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
