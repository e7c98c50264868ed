package types

import (
	"fmt"
	"os"
	"os/user"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Kind is the abstract category of an entity.
type Kind string

// Entity kinds. A kind is recorded in every document as declared_base.
const (
	KindParticipant Kind = "Participant"
	KindExperiment  Kind = "Experiment"
	KindTrial       Kind = "Trial"
)

// Identity is the creation provenance attached to every entity. Provenance
// and UniqueID are set once and never change. DeclaredType and DeclaredBase
// record the concrete Go type and the kind the entity was created as; they
// are checked against the value on every construction and load so that a
// document read through the wrong type is rejected.
type Identity struct {
	Hostname     string    `json:"hostname"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	UniqueID     string    `json:"unique_id"`
	DeclaredType string    `json:"declared_type"`
	DeclaredBase Kind      `json:"declared_base"`
}

// NewIdentity captures provenance for a new entity. The declared type and
// base are left empty; StampIdentity fills them from the value.
func NewIdentity() Identity {
	return Identity{
		Hostname:  hostname(),
		Username:  username(),
		CreatedAt: Now(),
		UniqueID:  generateUUID(),
	}
}

// IsParticipant reports whether the entity was declared as a participant.
func (id Identity) IsParticipant() bool { return id.DeclaredBase == KindParticipant }

// IsExperiment reports whether the entity was declared as an experiment.
func (id Identity) IsExperiment() bool { return id.DeclaredBase == KindExperiment }

// IsTrial reports whether the entity was declared as a trial.
func (id Identity) IsTrial() bool { return id.DeclaredBase == KindTrial }

// StampIdentity completes the identity of a freshly built entity v. Missing
// provenance is captured, a missing declared type is set to the runtime type
// name of v and a missing declared base to base. The result is validated, so
// an identity copied from a different type fails here.
func StampIdentity(id *Identity, v any, base Kind) error {
	if id.UniqueID == "" {
		fresh := NewIdentity()
		id.Hostname = fresh.Hostname
		id.Username = fresh.Username
		id.CreatedAt = fresh.CreatedAt
		id.UniqueID = fresh.UniqueID
	}
	if id.DeclaredType == "" {
		id.DeclaredType = TypeName(v)
	}
	if id.DeclaredBase == "" {
		id.DeclaredBase = base
	}
	return ValidateIdentity(*id, v, base)
}

// ValidateIdentity returns ErrTypeMismatch unless the declared type equals the
// runtime type name of v and the declared base equals base. A mismatch almost
// always means the data was loaded with the wrong loader.
func ValidateIdentity(id Identity, v any, base Kind) error {
	if actual := TypeName(v); id.DeclaredType != actual {
		return fmt.Errorf("%w: declared type %q, loaded as %q", ErrTypeMismatch, id.DeclaredType, actual)
	}
	if id.DeclaredBase != base {
		return fmt.Errorf("%w: declared base %q, loaded as %q", ErrTypeMismatch, id.DeclaredBase, base)
	}
	return nil
}

// TypeName returns the name of the concrete type behind v, with pointers
// removed: TypeName(&Trial{}) is "Trial".
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// generateUUID returns a UUID v7 so unique ids sort by creation time.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func username() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
