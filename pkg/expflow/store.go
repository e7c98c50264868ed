package expflow

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/expflow/internal/logger"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

// Subdirectories of a data directory.
const (
	DirParticipants = "Participants"
	DirExperiments  = "Experiments"
	DirTrials       = "Trials"
	DirTrash        = "Trash"
	DirLogs         = "Logs"
)

// Subdirs lists every subdirectory Open creates.
var Subdirs = []string{DirParticipants, DirExperiments, DirTrials, DirTrash, DirLogs}

// File extensions of stored documents.
const (
	extJSON   = ".json"
	extGzip   = ".gz"
	extJSONGz = extJSON + extGzip
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sends store and record diagnostics to z. The default logger
// discards everything.
func WithLogger(z *zap.Logger) Option {
	return func(s *Store) {
		s.log = logger.FromZap(z)
	}
}

// WithLog is WithLogger for a logger built by the expflow command, keeping
// its redaction setting.
func WithLog(l *logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store is an open expflow data directory. It replaces process-wide settings:
// several stores can be open at once, each with its own directory and
// compression default.
//
// The store keeps track of every record it hands out. Close closes them all,
// which gives each one a final save, and removes the directory if it was
// temporary.
type Store struct {
	mu        sync.Mutex
	dataDir   string
	temporary bool
	compress  bool
	closed    bool
	open      map[*Record]io.Closer
	log       *logger.Logger
}

// Open prepares the data directory named by cfg and creates its
// subdirectories. An empty cfg.DataDir selects a fresh temporary directory
// that Close removes.
func Open(cfg types.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		compress: cfg.Compression,
		open:     make(map[*Record]io.Closer),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	dataDir := cfg.DataDir
	if cfg.Temporary() {
		dir, err := os.MkdirTemp("", "expflow-*")
		if err != nil {
			return nil, fmt.Errorf("creating temporary data directory: %w", err)
		}
		dataDir = dir
		s.temporary = true
		s.log.Warn("using temporary directory; data will be lost when the store is closed", "data_dir", dir)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	s.dataDir = abs

	for _, sub := range Subdirs {
		if err := os.MkdirAll(filepath.Join(s.dataDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	s.log.Debug("store opened", "data_dir", s.dataDir, "compression", s.compress)
	return s, nil
}

// DataDir returns the absolute path of the data directory.
func (s *Store) DataDir() string { return s.dataDir }

// Temporary reports whether the data directory is removed on Close.
func (s *Store) Temporary() bool { return s.temporary }

// Compression reports whether new entities are stored gzip-compressed.
func (s *Store) Compression() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compress
}

// SetCompression changes the compression default for entities created from
// now on. Existing records keep the setting they were created with.
func (s *Store) SetCompression(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compress = on
}

// Dir returns the subdirectory sub of the data directory, creating it if it
// has gone missing.
func (s *Store) Dir(sub string) (string, error) {
	dir := filepath.Join(s.dataDir, sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s directory: %w", sub, err)
	}
	return dir, nil
}

// Logger returns the store's logger.
func (s *Store) Logger() *logger.Logger { return s.log }

// DefaultPath returns where an entity of the given kind is stored. It depends
// only on its arguments and the data directory. An experiment without an
// experiment ID has no path yet and yields "". Trials are stored inside
// their experiment and have no path of their own.
func (s *Store) DefaultPath(kind types.Kind, participantID, experimentID string, compressed bool) (string, error) {
	ext := extJSON
	if compressed {
		ext = extJSONGz
	}
	switch kind {
	case types.KindParticipant:
		if participantID == "" {
			return "", nil
		}
		return filepath.Join(s.dataDir, DirParticipants, participantID+ext), nil
	case types.KindExperiment:
		if participantID == "" || experimentID == "" {
			return "", nil
		}
		return filepath.Join(s.dataDir, DirExperiments, participantID+"."+experimentID+ext), nil
	case types.KindTrial:
		return "", types.ErrNoDefaultPath
	default:
		return "", fmt.Errorf("%w: unknown kind %q", types.ErrValidation, kind)
	}
}

// findDocument returns the existing document of an entity, trying the plain
// file before the compressed one.
func (s *Store) findDocument(kind types.Kind, participantID, experimentID string) (string, bool) {
	for _, compressed := range []bool{false, true} {
		path, err := s.DefaultPath(kind, participantID, experimentID, compressed)
		if err != nil || path == "" {
			return "", false
		}
		if fileExists(path) {
			return path, true
		}
	}
	return "", false
}

func (s *Store) participantExists(participantID string) bool {
	_, ok := s.findDocument(types.KindParticipant, participantID, "")
	return ok
}

func (s *Store) experimentExists(participantID, experimentID string) bool {
	_, ok := s.findDocument(types.KindExperiment, participantID, experimentID)
	return ok
}

func (s *Store) track(r *Record, c io.Closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	s.open[r] = c
	return nil
}

func (s *Store) untrack(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, r)
}

// OpenRecords returns how many records handed out by the store are still
// open.
func (s *Store) OpenRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Close closes every record that is still open, then removes the data
// directory if it is temporary. Record errors are logged and joined; Close
// still visits every record. Calling Close again does nothing.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := make([]io.Closer, 0, len(s.open))
	for _, c := range s.open {
		closers = append(closers, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.temporary {
		if err := os.RemoveAll(s.dataDir); err != nil {
			errs = append(errs, fmt.Errorf("removing temporary data directory: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.log.Error("closing store", "data_dir", s.dataDir, "error", err)
	}
	s.log.Sync()
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
