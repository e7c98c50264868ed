package expflow

import (
	"errors"
	"fmt"
	"iter"
	"os"

	"github.com/mesh-intelligence/expflow/pkg/types"
)

// Experiment is one participant's run of one experiment: an ordered list of
// trials and a cursor into it. The pair (ParticipantID, ExperimentID) is its
// identity; a participant never repeats an experiment.
//
// Every mutation (iteration step, status override, added trial) is saved
// before the call returns, so an interrupted session can be loaded and
// resumed where it stopped.
type Experiment struct {
	types.Identity
	types.StatusMachine
	Record

	ParticipantID string          `json:"participant_id"`
	ExperimentID  string          `json:"experiment_id"`
	TrialIndex    *int            `json:"trial_index"`
	Trials        types.TrialList `json:"trials"`
}

// ExperimentDoc is implemented by *Experiment and every type embedding
// Experiment.
type ExperimentDoc interface {
	experimentRecord() *Experiment
}

func (e *Experiment) experimentRecord() *Experiment { return e }

// NewExperiment creates and saves an experiment for an existing participant.
func (s *Store) NewExperiment(participantID, experimentID string, trials ...types.TrialItem) (*Experiment, error) {
	e := &Experiment{
		ParticipantID: participantID,
		ExperimentID:  experimentID,
		Trials:        types.TrialList(trials),
	}
	if err := CreateExperiment(s, e); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateExperiment stamps e and its trials with their identities, checks
// that the (participant, experiment) pair is free, saves e and finally
// checks that the participant exists. When it does not, the new document is
// removed again and types.ErrParticipantNotFound is returned.
func CreateExperiment(s *Store, e ExperimentDoc) error {
	var base *Experiment
	if e != nil {
		base = e.experimentRecord()
	}
	if base == nil {
		return fmt.Errorf("%w: nil experiment", types.ErrValidation)
	}
	if !types.IsValidID(base.ParticipantID) {
		return fmt.Errorf("%w: participant id %q", types.ErrInvalidID, base.ParticipantID)
	}
	if !types.IsValidID(base.ExperimentID) {
		return fmt.Errorf("%w: experiment id %q", types.ErrInvalidID, base.ExperimentID)
	}
	if err := types.StampIdentity(&base.Identity, e, types.KindExperiment); err != nil {
		return err
	}
	if base.CurrentStatus == "" {
		base.CurrentStatus = types.StatusPending
	}
	for i, t := range base.Trials {
		if err := types.StampTrial(t); err != nil {
			return fmt.Errorf("trial %d: %w", i, err)
		}
	}

	base.Compressed = s.Compression()
	path, err := s.DefaultPath(types.KindExperiment, base.ParticipantID, base.ExperimentID, base.Compressed)
	if err != nil {
		return err
	}
	if s.experimentExists(base.ParticipantID, base.ExperimentID) {
		return fmt.Errorf("%w: %s.%s", types.ErrExperimentExists, base.ParticipantID, base.ExperimentID)
	}

	base.bind(s, path, e)
	if err := base.register(closerFor(e, base)); err != nil {
		return err
	}
	if err := base.Save(); err != nil {
		s.untrack(&base.Record)
		return err
	}
	if !s.participantExists(base.ParticipantID) {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.log.Error("removing orphaned experiment", "path", path, "error", rmErr)
		}
		s.untrack(&base.Record)
		base.deleted = true
		base.closed = true
		return fmt.Errorf("%w: %s", types.ErrParticipantNotFound, base.ParticipantID)
	}
	s.log.Info("experiment created",
		"participant_id", base.ParticipantID,
		"experiment_id", base.ExperimentID,
		"trials", len(base.Trials),
	)
	return nil
}

// LoadExperiment loads the experiment experimentID of participantID.
func (s *Store) LoadExperiment(participantID, experimentID string) (*Experiment, error) {
	return LoadExperimentAs[Experiment](s, participantID, experimentID)
}

// LoadExperimentAs loads an experiment of kind T. The document's declared
// type and those of its trials are checked. An experiment found running was
// interrupted without being closed; it is paused, along with its current
// trial, and saved. The time between the interruption and the load is lost
// from the duration bookkeeping.
func LoadExperimentAs[T any, P interface {
	*T
	ExperimentDoc
}](s *Store, participantID, experimentID string) (P, error) {
	if !types.IsValidID(participantID) {
		return nil, fmt.Errorf("%w: participant id %q", types.ErrInvalidID, participantID)
	}
	if !types.IsValidID(experimentID) {
		return nil, fmt.Errorf("%w: experiment id %q", types.ErrInvalidID, experimentID)
	}
	path, ok := s.findDocument(types.KindExperiment, participantID, experimentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrExperimentNotFound, participantID, experimentID)
	}

	e := P(new(T))
	if err := decodeDocument(path, e); err != nil {
		return nil, err
	}
	base := e.experimentRecord()
	if err := types.ValidateIdentity(base.Identity, e, types.KindExperiment); err != nil {
		return nil, fmt.Errorf("loading experiment %s.%s: %w", participantID, experimentID, err)
	}
	if !s.participantExists(base.ParticipantID) {
		return nil, fmt.Errorf("%w: %s", types.ErrParticipantNotFound, base.ParticipantID)
	}

	base.bind(s, path, e)
	if err := base.register(closerFor(e, base)); err != nil {
		return nil, err
	}
	if base.IsRunning() {
		s.log.Warn("experiment was loaded while running; pausing it, duration may be inaccurate",
			"participant_id", base.ParticipantID,
			"experiment_id", base.ExperimentID,
		)
		if err := base.Pause(); err != nil {
			s.untrack(&base.Record)
			return nil, err
		}
	}
	return e, nil
}

// Len returns the number of trials.
func (e *Experiment) Len() int { return len(e.Trials) }

func (e *Experiment) trialAt(i int) (types.TrialItem, error) {
	if i < 0 || i >= len(e.Trials) {
		return nil, fmt.Errorf("%w: index %d of %d", types.ErrNoCurrentTrial, i, len(e.Trials))
	}
	return e.Trials[i], nil
}

func (e *Experiment) cursor() (int, error) {
	if e.TrialIndex == nil {
		return 0, types.ErrNoCurrentTrial
	}
	return *e.TrialIndex, nil
}

// CurrentTrial returns the trial at the cursor.
func (e *Experiment) CurrentTrial() (types.TrialItem, error) {
	i, err := e.cursor()
	if err != nil {
		return nil, err
	}
	return e.trialAt(i)
}

// PreviousTrial returns the trial before the cursor.
func (e *Experiment) PreviousTrial() (types.TrialItem, error) {
	i, err := e.cursor()
	if err != nil {
		return nil, err
	}
	return e.trialAt(i - 1)
}

// NextTrial returns the trial after the cursor.
func (e *Experiment) NextTrial() (types.TrialItem, error) {
	i, err := e.cursor()
	if err != nil {
		return nil, err
	}
	return e.trialAt(i + 1)
}

// RemainingTrials returns the trials after the cursor, or every trial when
// iteration has not started.
func (e *Experiment) RemainingTrials() []types.TrialItem {
	start := 0
	if e.TrialIndex != nil {
		start = *e.TrialIndex + 1
	}
	if start >= len(e.Trials) {
		return nil
	}
	out := make([]types.TrialItem, len(e.Trials)-start)
	copy(out, e.Trials[start:])
	return out
}

// IsFirstTrial reports whether the cursor is on the first trial.
func (e *Experiment) IsFirstTrial() bool {
	return e.TrialIndex != nil && *e.TrialIndex == 0
}

func (e *Experiment) checkOpen() error {
	if e.IsTerminal() {
		return fmt.Errorf("%w: %s.%s is %s", types.ErrExperimentOver, e.ParticipantID, e.ExperimentID, e.Status())
	}
	return nil
}

// AppendTrial adds t at the end of the trial list and saves.
func (e *Experiment) AppendTrial(t types.TrialItem) error {
	return e.AppendTrials(t)
}

// AppendTrials adds trials at the end of the trial list and saves. Nothing
// is added if any of them is invalid.
func (e *Experiment) AppendTrials(trials ...types.TrialItem) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	for i, t := range trials {
		if err := types.StampTrial(t); err != nil {
			return fmt.Errorf("trial %d: %w", i, err)
		}
	}
	e.Trials = append(e.Trials, trials...)
	return e.Save()
}

// InsertTrial inserts t before position index, 0 <= index <= Len(), and
// saves. The cursor is not moved.
func (e *Experiment) InsertTrial(index int, t types.TrialItem) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if index < 0 || index > len(e.Trials) {
		return fmt.Errorf("%w: %d not in [0, %d]", types.ErrIndexOutOfRange, index, len(e.Trials))
	}
	if err := types.StampTrial(t); err != nil {
		return err
	}
	e.Trials = append(e.Trials, nil)
	copy(e.Trials[index+1:], e.Trials[index:])
	e.Trials[index] = t
	return e.Save()
}

// Next advances the experiment by one trial and returns it.
//
// The experiment is put in the running state, the cursor moves forward, a
// still-running previous trial is finished and the new trial is started (or
// resumed if it was paused). Skipped trials are passed over. After the last
// trial the experiment is finished, the cursor is cleared and
// types.ErrNoMoreTrials is returned. The experiment is saved on every call.
// Only a running previous trial is finished: after Pause, call Resume before
// Next or the interrupted trial stays paused behind the cursor.
// Calling Next on a finished, skipped or timed out experiment fails with
// types.ErrExperimentOver.
func (e *Experiment) Next() (types.TrialItem, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.IsPending() || e.IsPaused() {
		if err := e.StatusMachine.Run(); err != nil {
			return nil, err
		}
	}

	next := 0
	if e.TrialIndex != nil {
		next = *e.TrialIndex + 1
	}
	e.TrialIndex = &next

	if next > 0 && next-1 < len(e.Trials) {
		if prev := e.Trials[next-1].TrialBase(); prev.IsRunning() {
			if err := prev.Finish(); err != nil {
				return nil, err
			}
		}
	}

	if next >= len(e.Trials) {
		if err := e.StatusMachine.Finish(); err != nil {
			return nil, err
		}
		e.TrialIndex = nil
		if err := e.Save(); err != nil {
			return nil, err
		}
		e.log().Info("experiment finished", "participant_id", e.ParticipantID, "experiment_id", e.ExperimentID)
		return nil, types.ErrNoMoreTrials
	}

	item := e.Trials[next]
	t := item.TrialBase()
	switch t.Status() {
	case types.StatusPending, types.StatusPaused:
		if err := t.Run(); err != nil {
			return nil, err
		}
	case types.StatusSkipped:
		return e.Next()
	}
	if err := e.Save(); err != nil {
		return nil, err
	}
	return item, nil
}

// Iterate returns a sequence over the remaining trials, driven by Next:
//
//	for trial, err := range e.Iterate() {
//		if err != nil {
//			return err
//		}
//		...
//	}
//
// The sequence stops after the last trial or after yielding an error.
func (e *Experiment) Iterate() iter.Seq2[types.TrialItem, error] {
	return func(yield func(types.TrialItem, error) bool) {
		for {
			t, err := e.Next()
			if errors.Is(err, types.ErrNoMoreTrials) {
				return
			}
			if !yield(t, err) || err != nil {
				return
			}
		}
	}
}

func (e *Experiment) currentBase() *types.Trial {
	t, err := e.CurrentTrial()
	if err != nil {
		return nil
	}
	return t.TrialBase()
}

// skipPending marks every pending trial from the cursor on as skipped.
func (e *Experiment) skipPending() error {
	start := 0
	if e.TrialIndex != nil {
		start = *e.TrialIndex
	}
	for i := start; i < len(e.Trials); i++ {
		if t := e.Trials[i].TrialBase(); t.IsPending() {
			if err := t.Skip(); err != nil {
				return fmt.Errorf("trial %d: %w", i, err)
			}
		}
	}
	return nil
}

// Pause pauses the experiment and its current trial, if that trial is
// running, then saves.
func (e *Experiment) Pause() error {
	if err := e.StatusMachine.Pause(); err != nil {
		return err
	}
	if t := e.currentBase(); t != nil && t.IsRunning() {
		if err := t.Pause(); err != nil {
			return err
		}
	}
	return e.Save()
}

// Resume restarts a paused experiment together with its paused current trial,
// then saves. The following Next finishes that trial instead of leaving it
// paused behind the cursor.
func (e *Experiment) Resume() error {
	if !e.IsPaused() {
		return fmt.Errorf("%w: experiment is %s, not paused", types.ErrIllegalTransition, e.Status())
	}
	if err := e.StatusMachine.Resume(); err != nil {
		return err
	}
	if t := e.currentBase(); t != nil && t.IsPaused() {
		if err := t.Resume(); err != nil {
			return err
		}
	}
	return e.Save()
}

// Skip marks the experiment skipped together with every pending trial from
// the cursor on, then saves. Only a pending experiment can be skipped.
func (e *Experiment) Skip() error {
	if err := e.StatusMachine.Skip(); err != nil {
		return err
	}
	if err := e.skipPending(); err != nil {
		return err
	}
	return e.Save()
}

// TimeOut marks the experiment timed out. A running current trial is timed
// out as well and every pending trial after it is skipped. The experiment is
// saved.
func (e *Experiment) TimeOut() error {
	if err := e.StatusMachine.TimeOut(); err != nil {
		return err
	}
	if t := e.currentBase(); t != nil && t.IsRunning() {
		if err := t.TimeOut(); err != nil {
			return err
		}
	}
	if err := e.skipPending(); err != nil {
		return err
	}
	return e.Save()
}

// Close pauses a running experiment, with its current trial, and then closes
// the record, which saves it one last time.
func (e *Experiment) Close() error {
	if e.closed {
		return nil
	}
	var pauseErr error
	if e.IsRunning() && !e.deleted && e.Exists() {
		pauseErr = e.Pause()
		if pauseErr != nil {
			e.log().Error("pausing experiment on close", "experiment_id", e.ExperimentID, "error", pauseErr)
		}
	}
	return errors.Join(pauseErr, e.Record.Close())
}
