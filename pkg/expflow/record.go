package expflow

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/mesh-intelligence/expflow/internal/logger"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

// Record is the persistence state embedded in participants and experiments:
// where the document lives, when it was last written and whether it is
// compressed. A Record is bound to its Store when the entity is created or
// loaded; an unbound Record cannot be saved.
type Record struct {
	Path        string     `json:"path,omitempty"`
	LastSavedAt *time.Time `json:"last_saved_at"`
	Compressed  bool       `json:"compressed"`

	store   *Store
	doc     any
	deleted bool
	closed  bool
}

// bind attaches the record to s. doc is the outermost entity value, the one
// that is marshaled on save.
func (r *Record) bind(s *Store, path string, doc any) {
	r.store = s
	r.Path = path
	r.doc = doc
	r.deleted = false
	r.closed = false
}

// register adds the record to the store's open set so Store.Close reaches it.
func (r *Record) register(c io.Closer) error {
	return r.store.track(r, c)
}

// closerFor returns the Close the store should call for doc: the entity
// kind's own, if it has one, otherwise fallback.
func closerFor(doc any, fallback io.Closer) io.Closer {
	if c, ok := doc.(io.Closer); ok {
		return c
	}
	return fallback
}

func (r *Record) log() *logger.Logger {
	if r.store == nil {
		return logger.Nop()
	}
	return r.store.log
}

// Save writes the entity to its path. LastSavedAt strictly increases with
// every save. A record with no path is not saved; a warning is logged and
// Save returns nil.
func (r *Record) Save() error {
	if r.store == nil || r.doc == nil {
		return types.ErrRecordUnbound
	}
	if r.Path == "" {
		r.log().Warn("record has no path, not saving")
		return nil
	}

	prev := r.LastSavedAt
	now := types.Now()
	if prev != nil && !now.After(*prev) {
		now = prev.Add(time.Nanosecond)
	}
	r.LastSavedAt = &now

	data, err := encodeDocument(r.doc, r.Compressed)
	if err == nil {
		err = writeFileAtomic(r.Path, data)
	}
	if err != nil {
		r.LastSavedAt = prev
		return fmt.Errorf("saving %s: %w", r.Path, err)
	}
	if r.store.temporary {
		r.log().Warn("saved to temporary directory; data will be lost when the store is closed", "path", r.Path)
	}
	return nil
}

// MarshalDocument returns the JSON text Save would write, uncompressed,
// without touching the disk.
func (r *Record) MarshalDocument() ([]byte, error) {
	if r.doc == nil {
		return nil, types.ErrRecordUnbound
	}
	return encodeDocument(r.doc, false)
}

// Exists reports whether the backing file is present.
func (r *Record) Exists() bool {
	return r.Path != "" && fileExists(r.Path)
}

// IsDeleted reports whether Delete has been called.
func (r *Record) IsDeleted() bool { return r.deleted }

// Delete removes the backing file and marks the record so that Close does
// not write it again. A missing file is logged, not returned as an error.
func (r *Record) Delete() error {
	r.deleted = true
	if r.Path == "" {
		r.log().Warn("record has no path, nothing to delete")
		return nil
	}
	if err := os.Remove(r.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log().Warn("record file does not exist", "path", r.Path)
			return nil
		}
		return fmt.Errorf("deleting %s: %w", r.Path, err)
	}
	r.log().Debug("record deleted", "path", r.Path)
	return nil
}

// Close releases the record. If its file still exists and it was not
// deleted, it is saved one last time. Close never panics; a failed final
// save is logged and returned. Calling Close again does nothing.
func (r *Record) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.store != nil {
		r.store.untrack(r)
	}
	if r.deleted || !r.Exists() {
		return nil
	}
	if err := r.Save(); err != nil {
		r.log().Error("final save failed", "path", r.Path, "error", err)
		return err
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (r *Record) IsClosed() bool { return r.closed }
