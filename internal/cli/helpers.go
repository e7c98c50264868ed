package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/expflow/internal/catalog"
	"github.com/mesh-intelligence/expflow/internal/logger"
	"github.com/mesh-intelligence/expflow/internal/paths"
	"github.com/mesh-intelligence/expflow/pkg/expflow"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

const timeLayout = "2006-01-02 15:04:05"

// resolveDataDir applies flag > env > config.yaml > default.
func (a *app) resolveDataDir() (string, error) {
	return paths.ResolveDataDir(a.dataDir, a.settings.DataDir)
}

// openStore opens the resolved data directory, logging to stderr and to
// the data directory's log file. The caller must close the store.
func (a *app) openStore() (*expflow.Store, error) {
	dataDir, err := a.resolveDataDir()
	if err != nil {
		return nil, fail("resolve data dir", err)
	}
	log, err := logger.New(a.settings.LogMode, logger.Options{
		LogFile: paths.LogFile(dataDir),
		Redact:  a.settings.Redact,
	})
	if err != nil {
		return nil, fmt.Errorf("log_mode: %w", err)
	}
	a.log = log

	cfg := types.Config{
		DataDir:     dataDir,
		Compression: a.compress || a.settings.Compression,
	}
	s, err := expflow.Open(cfg, expflow.WithLog(log))
	if err != nil {
		return nil, fail("open data dir", err)
	}
	return s, nil
}

// withStore runs fn against an open store and closes it afterwards, which
// saves every record fn loaded.
func (a *app) withStore(fn func(s *expflow.Store) error) (err error) {
	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fail("close data dir", cerr)
		}
		a.log.Sync()
	}()
	return fn(s)
}

// withCatalog indexes the data directory for read-only queries.
func (a *app) withCatalog(fn func(c *catalog.Catalog) error) error {
	var dataDir string
	// Opening the store creates the subdirectories the catalog reads.
	if err := a.withStore(func(s *expflow.Store) error {
		dataDir = s.DataDir()
		return nil
	}); err != nil {
		return err
	}
	c, err := catalog.Open(dataDir)
	if err != nil {
		return fail("index data dir", err)
	}
	defer c.Close()
	if n := c.Skipped(); n > 0 {
		a.log.Warn("documents could not be indexed", "skipped", n)
	}
	return fn(c)
}

// emit writes v as indented JSON in --json mode and calls human otherwise.
func (a *app) emit(cmd *cobra.Command, v any, human func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if a.jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fail("marshal JSON", err)
		}
		return nil
	}
	human(w)
	return nil
}

// optInt formats a nullable integer, "-" when absent.
func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

// optSeconds formats a nullable duration in seconds.
func optSeconds(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', 3, 64) + "s"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
