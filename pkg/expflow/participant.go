package expflow

import (
	"fmt"

	"github.com/mesh-intelligence/expflow/pkg/types"
)

// Participant is a person taking part in experiments. ParticipantID is its
// identity: no two participants of any kind may share one, because the ID
// alone determines the document path.
//
// Custom participant kinds embed Participant:
//
//	type Student struct {
//		expflow.Participant
//		Course string `json:"course"`
//	}
//
// and go through CreateParticipant and LoadParticipantAs.
type Participant struct {
	types.Identity
	Record

	ParticipantID string      `json:"participant_id"`
	DOB           *types.Date `json:"dob"`
	Age           *int        `json:"age"`
	Gender        string      `json:"gender"`
	Language      string      `json:"language"`
	Comments      string      `json:"comments"`
	Group         string      `json:"group"`
	Temporary     bool        `json:"temporary"`
}

// ParticipantDoc is implemented by *Participant and every type embedding
// Participant.
type ParticipantDoc interface {
	participantRecord() *Participant
}

func (p *Participant) participantRecord() *Participant { return p }

// NewParticipant creates and saves a participant with the given ID.
func (s *Store) NewParticipant(participantID string) (*Participant, error) {
	p := &Participant{ParticipantID: participantID}
	if err := CreateParticipant(s, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateParticipant stamps p with its identity, checks that its ID is free
// and saves it. Fields set on p beforehand are kept.
func CreateParticipant(s *Store, p ParticipantDoc) error {
	var base *Participant
	if p != nil {
		base = p.participantRecord()
	}
	if base == nil {
		return fmt.Errorf("%w: nil participant", types.ErrValidation)
	}
	if !types.IsValidID(base.ParticipantID) {
		return fmt.Errorf("%w: participant id %q", types.ErrInvalidID, base.ParticipantID)
	}
	if err := types.StampIdentity(&base.Identity, p, types.KindParticipant); err != nil {
		return err
	}

	base.Compressed = s.Compression()
	path, err := s.DefaultPath(types.KindParticipant, base.ParticipantID, "", base.Compressed)
	if err != nil {
		return err
	}
	if s.participantExists(base.ParticipantID) {
		return fmt.Errorf("%w: %s", types.ErrParticipantExists, base.ParticipantID)
	}

	base.bind(s, path, p)
	if err := base.register(closerFor(p, &base.Record)); err != nil {
		return err
	}
	if err := base.Save(); err != nil {
		s.untrack(&base.Record)
		return err
	}
	s.log.Info("participant created", "participant_id", base.ParticipantID, "type", base.DeclaredType)
	return nil
}

// LoadParticipant loads the participant with the given ID.
func (s *Store) LoadParticipant(participantID string) (*Participant, error) {
	return LoadParticipantAs[Participant](s, participantID)
}

// LoadParticipantAs loads a participant of kind T. A document created as a
// different kind fails with types.ErrTypeMismatch.
func LoadParticipantAs[T any, P interface {
	*T
	ParticipantDoc
}](s *Store, participantID string) (P, error) {
	if !types.IsValidID(participantID) {
		return nil, fmt.Errorf("%w: participant id %q", types.ErrInvalidID, participantID)
	}
	path, ok := s.findDocument(types.KindParticipant, participantID, "")
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrParticipantNotFound, participantID)
	}

	p := P(new(T))
	if err := decodeDocument(path, p); err != nil {
		return nil, err
	}
	base := p.participantRecord()
	if err := types.ValidateIdentity(base.Identity, p, types.KindParticipant); err != nil {
		return nil, fmt.Errorf("loading participant %s: %w", participantID, err)
	}
	base.bind(s, path, p)
	if err := base.register(closerFor(p, &base.Record)); err != nil {
		return nil, err
	}
	return p, nil
}
