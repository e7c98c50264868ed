// Package paths resolves where expflow keeps its configuration file, its
// data directory and its log file.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mesh-intelligence/expflow/pkg/expflow"
)

// AppName is the directory name used under the platform base directories.
const AppName = "expflow"

// File names inside the configuration and data directories.
const (
	ConfigFileName = "config.yaml"
	LogFileName    = "expflow.log"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "EXPFLOW_CONFIG_DIR"
	EnvDataDir   = "EXPFLOW_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// appDir returns <base>/expflow where base is the XDG directory named by
// xdgEnv on Linux (falling back to ~/<linuxFallback>) and the user
// configuration directory elsewhere.
func appDir(xdgEnv string, linuxFallback ...string) (string, error) {
	if platformDir.goos == "linux" {
		if xdg := os.Getenv(xdgEnv); xdg != "" {
			return filepath.Join(xdg, AppName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(append(append([]string{home}, linuxFallback...), AppName)...), nil
	}
	// ~/Library/Application Support on macOS, %APPDATA% on Windows.
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName), nil
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/expflow (fallback ~/.config/expflow)
// macOS:   ~/Library/Application Support/expflow
// Windows: %APPDATA%/expflow
func DefaultConfigDir() (string, error) {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific default data directory.
//
// Linux:   $XDG_DATA_HOME/expflow (fallback ~/.local/share/expflow)
// macOS and Windows: same as the configuration directory.
func DefaultDataDir() (string, error) {
	return appDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir returns the configuration directory following the precedence
// chain: flag > EXPFLOW_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > EXPFLOW_DATA_DIR env > data_dir from config.yaml > DefaultDataDir().
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	if configYAMLValue != "" {
		return filepath.Abs(expandHome(configYAMLValue))
	}
	return DefaultDataDir()
}

// ConfigFile returns the path of config.yaml inside configDir.
func ConfigFile(configDir string) string {
	return filepath.Join(configDir, ConfigFileName)
}

// LogFile returns the path of the log file inside dataDir.
func LogFile(dataDir string) string {
	return filepath.Join(dataDir, expflow.DirLogs, LogFileName)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
