package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/expflow/internal/backup"
	"github.com/mesh-intelligence/expflow/internal/logger"
	"github.com/mesh-intelligence/expflow/internal/paths"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "EXPFLOW"

	cfgKeyDataDir     = "data_dir"
	cfgKeyCompression = "compression"
	cfgKeyLogMode     = "log_mode"
	cfgKeyRedact      = "redact"

	cfgKeyBackupBucket    = "backup.bucket"
	cfgKeyBackupRegion    = "backup.region"
	cfgKeyBackupEndpoint  = "backup.endpoint"
	cfgKeyBackupPrefix    = "backup.prefix"
	cfgKeyBackupPathStyle = "backup.path_style"

	// Credentials are read from the environment only
	// (EXPFLOW_BACKUP_ACCESS_KEY_ID, EXPFLOW_BACKUP_SECRET_ACCESS_KEY); without
	// them the default AWS credential chain applies.
	cfgKeyBackupAccessKey = "backup.access_key_id"
	cfgKeyBackupSecretKey = "backup.secret_access_key"

	defaultLogMode = logger.ModeProduction
)

// defaultConfigYAML is the content written to config.yaml on first run.
const defaultConfigYAML = `# expflow configuration

# Data directory (optional; overridden by --data-dir and EXPFLOW_DATA_DIR)
# data_dir:

# Write new participant and experiment documents gzip-compressed.
compression: false

# development (console, debug level) or production (JSON, info level)
log_mode: production

# Hash participant ids and drop demographics from log entries.
redact: false

# S3 or MinIO bucket used by "expflow backup".
# backup:
#   bucket: lab-data
#   region: us-east-1
#   endpoint: http://localhost:9000
#   prefix: expflow
#   path_style: true
`

// settings are the values of config.yaml after environment overrides.
type settings struct {
	DataDir     string
	Compression bool
	LogMode     string
	Redact      bool
	Backup      backup.Config
}

// loadConfig reads config.yaml from configDir using Viper, creating the
// directory and a default config.yaml on first run. EXPFLOW_* environment
// variables override file values (backup.bucket is EXPFLOW_BACKUP_BUCKET).
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := ensureConfigDir(configDir); err != nil {
		return nil, fail("ensure config dir", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fail("ensure default config", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyCompression, false)
	v.SetDefault(cfgKeyLogMode, defaultLogMode)
	v.SetDefault(cfgKeyRedact, false)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config %s: %w", paths.ConfigFile(configDir), err)
	}
	return v, nil
}

func readSettings(v *viper.Viper) settings {
	return settings{
		DataDir:     v.GetString(cfgKeyDataDir),
		Compression: v.GetBool(cfgKeyCompression),
		LogMode:     v.GetString(cfgKeyLogMode),
		Redact:      v.GetBool(cfgKeyRedact),
		Backup: backup.Config{
			Bucket:          v.GetString(cfgKeyBackupBucket),
			Region:          v.GetString(cfgKeyBackupRegion),
			Endpoint:        v.GetString(cfgKeyBackupEndpoint),
			Prefix:          v.GetString(cfgKeyBackupPrefix),
			PathStyle:       v.GetBool(cfgKeyBackupPathStyle),
			AccessKeyID:     v.GetString(cfgKeyBackupAccessKey),
			SecretAccessKey: v.GetString(cfgKeyBackupSecretKey),
		},
	}
}

func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile creates a default config.yaml if configDir has
// none.
func ensureDefaultConfigFile(configDir string) error {
	path := paths.ConfigFile(configDir)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
