package types

import (
	"errors"
	"os"
)

// Config holds the parameters of an expflow store. It replaces process-wide
// settings: two stores in one process can use different directories and
// compression defaults.
type Config struct {
	// DataDir is the root of the data directory. Empty selects a temporary
	// directory that is removed when the store is closed.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Compression selects gzip-compressed documents for entities created
	// through the store. It is read when an entity is constructed; changing it
	// later does not affect existing records.
	Compression bool `json:"compression" yaml:"compression"`
}

// Config validation errors.
var (
	ErrDataDirNotDir = errors.New("data directory is not a directory")
)

// Validate checks that the Config is well-formed.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return nil
	}
	info, err := os.Stat(c.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return ErrDataDirNotDir
	}
	return nil
}

// Temporary reports whether the config selects a throwaway data directory.
func (c Config) Temporary() bool {
	return c.DataDir == ""
}
