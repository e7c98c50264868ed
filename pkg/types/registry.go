package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// TrialFactory returns a new, empty value of one trial type.
type TrialFactory func() TrialItem

var trialRegistry = struct {
	mu        sync.RWMutex
	factories map[string]TrialFactory
}{
	factories: map[string]TrialFactory{
		"Trial": func() TrialItem { return &Trial{} },
	},
}

// RegisterTrialType makes a custom trial type loadable. The declared type
// name is taken from the value factory returns, so the name recorded in
// documents and the registry key cannot drift apart. Registering a name twice
// panics, as database/sql does for drivers.
func RegisterTrialType(factory TrialFactory) {
	if factory == nil {
		panic("types: RegisterTrialType factory is nil")
	}
	name := TypeName(factory())
	if name == "" {
		panic("types: RegisterTrialType factory returned an unnamed type")
	}
	trialRegistry.mu.Lock()
	defer trialRegistry.mu.Unlock()
	if _, dup := trialRegistry.factories[name]; dup {
		panic("types: RegisterTrialType called twice for " + name)
	}
	trialRegistry.factories[name] = factory
}

// RegisteredTrialTypes lists the declared type names that can be decoded.
func RegisteredTrialTypes() []string {
	trialRegistry.mu.RLock()
	defer trialRegistry.mu.RUnlock()
	names := make([]string, 0, len(trialRegistry.factories))
	for name := range trialRegistry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupTrialType(name string) (TrialFactory, bool) {
	trialRegistry.mu.RLock()
	defer trialRegistry.mu.RUnlock()
	f, ok := trialRegistry.factories[name]
	return f, ok
}

// TrialList is the ordered trial sequence of an experiment. Each element is
// encoded as its concrete type; decoding resolves the element's declared_type
// through the registry, so custom trial types come back as themselves.
type TrialList []TrialItem

// UnmarshalJSON decodes a JSON array of trial documents.
func (l *TrialList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	if raws == nil {
		*l = nil
		return nil
	}
	out := make(TrialList, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			DeclaredType string `json:"declared_type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("trial %d: %w", i, err)
		}
		factory, ok := lookupTrialType(head.DeclaredType)
		if !ok {
			return fmt.Errorf("trial %d: %w: trial type %q is not registered", i, ErrTypeMismatch, head.DeclaredType)
		}
		item := factory()
		if err := json.Unmarshal(raw, item); err != nil {
			return fmt.Errorf("trial %d: %w", i, err)
		}
		if err := ValidateIdentity(item.TrialBase().Identity, item, KindTrial); err != nil {
			return fmt.Errorf("trial %d: %w", i, err)
		}
		out = append(out, item)
	}
	*l = out
	return nil
}

// isNil reports whether item is nil or a typed nil pointer.
func isNil(item TrialItem) bool {
	if item == nil {
		return true
	}
	v := reflect.ValueOf(item)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
