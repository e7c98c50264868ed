package types

// Trial is one unit of an experiment: a stimulus shown to the participant and
// the response collected. Stimulus and Response are opaque; expflow stores
// them as given. A trial is persisted only inside its experiment's document.
//
// Custom trial types embed Trial and are registered with RegisterTrialType so
// that experiments holding them can be loaded back:
//
//	type RTTrial struct {
//		types.Trial
//		ReactionTime float64 `json:"reaction_time"`
//	}
//
//	func init() {
//		types.RegisterTrialType(func() types.TrialItem { return &RTTrial{} })
//	}
type Trial struct {
	Identity
	StatusMachine

	Stimulus    any    `json:"stimulus"`
	Response    any    `json:"response"`
	TrialNumber *int   `json:"trial_number"`
	BlockNumber *int   `json:"block_number"`
	Condition   string `json:"condition"`
	Practice    bool   `json:"practice"`
}

// TrialItem is implemented by *Trial and by every type that embeds Trial.
type TrialItem interface {
	TrialBase() *Trial
}

// TrialBase returns the embedded trial. Types embedding Trial inherit it.
func (t *Trial) TrialBase() *Trial { return t }

// NewTrial returns a pending trial with its identity stamped.
func NewTrial() *Trial {
	t := &Trial{}
	// A bare *Trial always matches its own declared type.
	_ = StampTrial(t)
	return t
}

// NewTrialAs returns a pending trial of the custom type T, stamped with T's
// name:
//
//	t := types.NewTrialAs[RTTrial]()
func NewTrialAs[T any, P interface {
	*T
	TrialItem
}]() P {
	p := P(new(T))
	_ = StampTrial(p)
	return p
}

// StampTrial completes the identity of item and puts its status machine in
// the pending state if it has none. It fails with ErrNotATrial for a nil item
// and ErrTypeMismatch if item carries an identity declared for another type.
func StampTrial(item TrialItem) error {
	if isNil(item) {
		return ErrNotATrial
	}
	base := item.TrialBase()
	if base == nil {
		return ErrNotATrial
	}
	if base.CurrentStatus == "" {
		base.CurrentStatus = StatusPending
	}
	return StampIdentity(&base.Identity, item, KindTrial)
}

// NumberedTrials returns n pending trials numbered 0..n-1, a convenience for
// experiments whose trials are built at run time.
func NumberedTrials(n int) []TrialItem {
	out := make([]TrialItem, 0, n)
	for i := 0; i < n; i++ {
		t := NewTrial()
		num := i
		t.TrialNumber = &num
		out = append(out, t)
	}
	return out
}
