package expflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/expflow/pkg/types"
)

type reactionTrial struct {
	types.Trial
	ReactionTime float64 `json:"reaction_time"`
}

type stroopExperiment struct {
	Experiment
	Congruent bool `json:"congruent"`
}

func init() {
	types.RegisterTrialType(func() types.TrialItem { return &reactionTrial{} })
}

// newExperiment creates participant pid and an experiment for it with n
// numbered trials.
func newExperiment(t *testing.T, s *Store, pid, eid string, n int) *Experiment {
	t.Helper()
	if !s.participantExists(pid) {
		_, err := s.NewParticipant(pid)
		require.NoError(t, err)
	}
	e, err := s.NewExperiment(pid, eid, types.NumberedTrials(n)...)
	require.NoError(t, err)
	return e
}

func trialNumber(t *testing.T, item types.TrialItem) int {
	t.Helper()
	require.NotNil(t, item)
	require.NotNil(t, item.TrialBase().TrialNumber)
	return *item.TrialBase().TrialNumber
}

func readRaw(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := ReadDocument(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestFullIterationScenario(t *testing.T) {
	s := openStore(t, false)
	_, err := s.NewParticipant("p01")
	require.NoError(t, err)
	e, err := s.NewExperiment("p01", "e01", types.NewTrial(), types.NewTrial(), types.NewTrial())
	require.NoError(t, err)

	var yielded []types.TrialItem
	for trial, err := range e.Iterate() {
		require.NoError(t, err)
		yielded = append(yielded, trial)
	}

	require.Len(t, yielded, 3)
	for i, trial := range yielded {
		assert.Same(t, e.Trials[i], trial, "trials are yielded in order")
		assert.True(t, trial.TrialBase().IsFinished(), "trial %d", i)
	}
	assert.True(t, e.IsFinished())
	assert.Nil(t, e.TrialIndex)

	doc := readRaw(t, e.Path)
	assert.Equal(t, "finished", doc["current_status"])
	assert.Nil(t, doc["trial_index"])
}

func TestNextFinishesPredecessorBeforeStartingSuccessor(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 4)

	for i := 0; i < 4; i++ {
		item, err := e.Next()
		require.NoError(t, err)
		assert.Equal(t, i, trialNumber(t, item))
		assert.True(t, item.TrialBase().IsRunning())
		require.NotNil(t, e.TrialIndex)
		assert.Equal(t, i, *e.TrialIndex)
		for j := 0; j < i; j++ {
			assert.True(t, e.Trials[j].TrialBase().IsFinished(), "trial %d before %d", j, i)
		}
		for j := i + 1; j < 4; j++ {
			assert.True(t, e.Trials[j].TrialBase().IsPending(), "trial %d after %d", j, i)
		}

		doc := readRaw(t, e.Path)
		assert.EqualValues(t, i, doc["trial_index"], "every step is saved")
	}

	_, err := e.Next()
	assert.ErrorIs(t, err, types.ErrNoMoreTrials)
	assert.True(t, e.IsFinished())

	_, err = e.Next()
	assert.ErrorIs(t, err, types.ErrExperimentOver)
	assert.ErrorIs(t, err, types.ErrIllegalTransition)
}

func TestNextOnEmptyExperiment(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "empty", 0)

	_, err := e.Next()
	assert.ErrorIs(t, err, types.ErrNoMoreTrials)
	assert.True(t, e.IsFinished())
	assert.Nil(t, e.TrialIndex)
}

func TestNextPassesOverSkippedTrials(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 4)
	require.NoError(t, e.Trials[1].TrialBase().Skip())
	require.NoError(t, e.Trials[2].TrialBase().Skip())

	first, err := e.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, trialNumber(t, first))

	second, err := e.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, trialNumber(t, second))
	assert.Equal(t, 3, *e.TrialIndex)
	assert.True(t, e.Trials[0].TrialBase().IsFinished())
	assert.True(t, e.Trials[1].TrialBase().IsSkipped())
}

func TestPauseReloadResume(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(types.Config{DataDir: dir})
	require.NoError(t, err)
	e := newExperiment(t, s, "p001", "stroop", 10)

	for i := 0; i <= 4; i++ {
		_, err := e.Next()
		require.NoError(t, err)
	}
	require.NoError(t, e.Pause())
	assert.True(t, e.IsPaused())
	assert.True(t, e.Trials[4].TrialBase().IsPaused())

	doc := readRaw(t, e.Path)
	assert.EqualValues(t, 4, doc["trial_index"])
	assert.Equal(t, "paused", doc["current_status"])
	require.NoError(t, s.Close())

	s2, err := Open(types.Config{DataDir: dir})
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.LoadExperiment("p001", "stroop")
	require.NoError(t, err)
	require.NotNil(t, got.TrialIndex)
	assert.Equal(t, 4, *got.TrialIndex)
	assert.True(t, got.IsPaused())

	var numbers []int
	for trial, err := range got.Iterate() {
		require.NoError(t, err)
		numbers = append(numbers, trialNumber(t, trial))
	}
	assert.Equal(t, []int{5, 6, 7, 8, 9}, numbers)
	assert.True(t, got.IsFinished())
	for i := 0; i < 4; i++ {
		trial := got.Trials[i].TrialBase()
		assert.True(t, trial.IsFinished(), "trial %d", i)
		assert.Len(t, trial.StatusHistory, 2, "trial %d ran once", i)
	}
	for i := 5; i < 10; i++ {
		assert.True(t, got.Trials[i].TrialBase().IsFinished(), "trial %d", i)
	}
	require.Len(t, got.StatusHistory, 4)
	assert.Equal(t, types.StatusPaused, got.StatusHistory[1].NewStatus)
	assert.Equal(t, types.StatusRunning, got.StatusHistory[2].NewStatus)
}

func TestNextWithoutResumeLeavesTheInterruptedTrialPaused(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 3)
	_, err := e.Next()
	require.NoError(t, err)
	require.NoError(t, e.Pause())

	trial, err := e.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, trialNumber(t, trial))
	assert.True(t, e.IsRunning())
	assert.True(t, e.Trials[0].TrialBase().IsPaused())
	assert.True(t, e.Trials[1].TrialBase().IsRunning())
}

func TestResumeFinishesTheInterruptedTrial(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(types.Config{DataDir: dir})
	require.NoError(t, err)
	e := newExperiment(t, s, "p001", "stroop", 3)
	_, err = e.Next()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(types.Config{DataDir: dir})
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.LoadExperiment("p001", "stroop")
	require.NoError(t, err)
	require.True(t, got.IsPaused())

	require.NoError(t, got.Resume())
	assert.True(t, got.IsRunning())
	assert.True(t, got.Trials[0].TrialBase().IsRunning())
	require.Len(t, got.Trials[0].TrialBase().PausedIntervals, 1)

	trial, err := got.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, trialNumber(t, trial))
	assert.True(t, got.Trials[0].TrialBase().IsFinished())

	err = got.Resume()
	assert.ErrorIs(t, err, types.ErrIllegalTransition)
}

func TestLoadingARunningExperimentPausesIt(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(types.Config{DataDir: dir})
	require.NoError(t, err)
	defer s.Close()
	e := newExperiment(t, s, "p001", "stroop", 3)
	_, err = e.Next()
	require.NoError(t, err)
	require.True(t, e.IsRunning(), "simulates a process that died mid-run")

	s2, err := Open(types.Config{DataDir: dir})
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.LoadExperiment("p001", "stroop")
	require.NoError(t, err)
	assert.True(t, got.IsPaused())
	assert.True(t, got.Trials[0].TrialBase().IsPaused())
	assert.Equal(t, "paused", readRaw(t, got.Path)["current_status"])
}

func TestSkipExperiment(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 3)

	require.NoError(t, e.Skip())
	assert.True(t, e.IsSkipped())
	for i, item := range e.Trials {
		assert.True(t, item.TrialBase().IsSkipped(), "trial %d", i)
	}
	_, err := e.Next()
	assert.ErrorIs(t, err, types.ErrExperimentOver)

	got, err := s.LoadExperiment("p001", "stroop")
	require.NoError(t, err)
	assert.True(t, got.IsSkipped())
}

func TestSkipRunningExperimentFollowsTransitionTable(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 3)
	_, err := e.Next()
	require.NoError(t, err)

	err = e.Skip()
	assert.ErrorIs(t, err, types.ErrIllegalTransition)
	assert.True(t, e.IsRunning())
	assert.True(t, e.Trials[0].TrialBase().IsRunning())
	assert.True(t, e.Trials[1].TrialBase().IsPending(), "no trial is touched when the experiment cannot be skipped")
}

func TestTimeOutExperiment(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 4)
	for i := 0; i < 2; i++ {
		_, err := e.Next()
		require.NoError(t, err)
	}

	require.NoError(t, e.TimeOut())
	assert.True(t, e.IsTimedOut())
	require.NotNil(t, e.Duration)
	assert.True(t, e.Trials[0].TrialBase().IsFinished())
	assert.True(t, e.Trials[1].TrialBase().IsTimedOut())
	assert.True(t, e.Trials[2].TrialBase().IsSkipped())
	assert.True(t, e.Trials[3].TrialBase().IsSkipped())

	_, err := e.Next()
	assert.ErrorIs(t, err, types.ErrExperimentOver)
	assert.Equal(t, "timed_out", readRaw(t, e.Path)["current_status"])
}

func TestPauseRequiresRunningExperiment(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 2)
	assert.ErrorIs(t, e.Pause(), types.ErrIllegalTransition)
	assert.True(t, e.IsPending())
}

func TestTrialAccessors(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 3)

	_, err := e.CurrentTrial()
	assert.ErrorIs(t, err, types.ErrNoCurrentTrial)
	_, err = e.PreviousTrial()
	assert.ErrorIs(t, err, types.ErrNoCurrentTrial)
	_, err = e.NextTrial()
	assert.ErrorIs(t, err, types.ErrNoCurrentTrial)
	assert.Len(t, e.RemainingTrials(), 3)
	assert.False(t, e.IsFirstTrial())
	assert.Equal(t, 3, e.Len())

	_, err = e.Next()
	require.NoError(t, err)
	assert.True(t, e.IsFirstTrial())
	cur, err := e.CurrentTrial()
	require.NoError(t, err)
	assert.Equal(t, 0, trialNumber(t, cur))
	_, err = e.PreviousTrial()
	assert.ErrorIs(t, err, types.ErrNoCurrentTrial)
	next, err := e.NextTrial()
	require.NoError(t, err)
	assert.Equal(t, 1, trialNumber(t, next))
	assert.Len(t, e.RemainingTrials(), 2)

	_, err = e.Next()
	require.NoError(t, err)
	_, err = e.Next()
	require.NoError(t, err)
	assert.False(t, e.IsFirstTrial())
	prev, err := e.PreviousTrial()
	require.NoError(t, err)
	assert.Equal(t, 1, trialNumber(t, prev))
	_, err = e.NextTrial()
	assert.ErrorIs(t, err, types.ErrNoCurrentTrial)
	assert.Empty(t, e.RemainingTrials())
}

func TestAppendAndInsertTrials(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 2)

	extra := &reactionTrial{ReactionTime: 0.42}
	require.NoError(t, e.AppendTrial(extra))
	assert.Equal(t, "reactionTrial", extra.DeclaredType)
	assert.True(t, extra.IsPending())
	assert.Equal(t, 3, e.Len())

	first := types.NewTrial()
	first.Condition = "practice"
	first.Practice = true
	require.NoError(t, e.InsertTrial(0, first))
	assert.Same(t, types.TrialItem(first), e.Trials[0])
	assert.Equal(t, 4, e.Len())

	require.NoError(t, e.AppendTrials(types.NewTrial(), types.NewTrial()))
	assert.Equal(t, 6, e.Len())

	assert.ErrorIs(t, e.InsertTrial(-1, types.NewTrial()), types.ErrIndexOutOfRange)
	assert.ErrorIs(t, e.InsertTrial(7, types.NewTrial()), types.ErrIndexOutOfRange)
	assert.ErrorIs(t, e.AppendTrial(nil), types.ErrNotATrial)
	var typedNil *types.Trial
	assert.ErrorIs(t, e.AppendTrials(types.NewTrial(), typedNil), types.ErrNotATrial)
	assert.Equal(t, 6, e.Len(), "failed appends add nothing")

	got, err := s.LoadExperiment("p001", "stroop")
	require.NoError(t, err)
	require.Equal(t, 6, got.Len())
	assert.True(t, got.Trials[0].TrialBase().Practice)
	loaded, ok := got.Trials[3].(*reactionTrial)
	require.True(t, ok, "custom trial kinds are decoded as themselves")
	assert.Equal(t, 0.42, loaded.ReactionTime)
	assert.Equal(t, extra.UniqueID, loaded.UniqueID)
}

func TestAppendToFinishedExperiment(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 0)
	_, err := e.Next()
	require.ErrorIs(t, err, types.ErrNoMoreTrials)

	assert.ErrorIs(t, e.AppendTrial(types.NewTrial()), types.ErrExperimentOver)
	assert.ErrorIs(t, e.InsertTrial(0, types.NewTrial()), types.ErrExperimentOver)
}

func TestExperimentForMissingParticipant(t *testing.T) {
	s := openStore(t, false)

	_, err := s.NewExperiment("ghost", "stroop", types.NumberedTrials(2)...)
	assert.ErrorIs(t, err, types.ErrParticipantNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)

	entries, err := os.ReadDir(filepath.Join(s.DataDir(), DirExperiments))
	require.NoError(t, err)
	assert.Empty(t, entries, "the just-written document is removed")
	assert.Equal(t, 0, s.OpenRecords())
}

func TestLoadExperimentWithMissingParticipant(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 1)
	p, err := s.LoadParticipant("p001")
	require.NoError(t, err)
	require.NoError(t, p.Delete())

	_, err = s.LoadExperiment("p001", "stroop")
	assert.ErrorIs(t, err, types.ErrParticipantNotFound)
	assert.FileExists(t, e.Path, "the experiment document is kept")
}

func TestDuplicateExperiment(t *testing.T) {
	s := openStore(t, false)
	newExperiment(t, s, "p001", "stroop", 1)

	_, err := s.NewExperiment("p001", "stroop")
	assert.ErrorIs(t, err, types.ErrExperimentExists)
	assert.ErrorIs(t, err, types.ErrExists)

	s.SetCompression(true)
	_, err = s.NewExperiment("p001", "stroop")
	assert.ErrorIs(t, err, types.ErrExperimentExists, "the compressed variant collides too")

	_, err = s.NewExperiment("p001", "flanker")
	assert.NoError(t, err, "another experiment for the same participant is fine")
}

func TestExperimentInvalidIDs(t *testing.T) {
	s := openStore(t, false)
	_, err := s.NewExperiment("p001", "no")
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = s.NewExperiment("p.01", "stroop")
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = s.LoadExperiment("p001", "a.b")
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = s.LoadExperiment("p001", "never")
	assert.ErrorIs(t, err, types.ErrExperimentNotFound)
}

func TestExperimentRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "gzip"}[compress], func(t *testing.T) {
			s := openStore(t, compress)
			_, err := s.NewParticipant("p001")
			require.NoError(t, err)

			stim := types.NewTrial()
			stim.Stimulus = "RED"
			block := 2
			stim.BlockNumber = &block
			rt := &reactionTrial{ReactionTime: 0.5}
			e, err := s.NewExperiment("p001", "stroop", stim, rt)
			require.NoError(t, err)
			item, err := e.Next()
			require.NoError(t, err)
			item.TrialBase().Response = map[string]any{"key": "r"}
			require.NoError(t, e.Pause())

			got, err := s.LoadExperiment("p001", "stroop")
			require.NoError(t, err)
			assert.True(t, got.IsPaused())

			assert.Equal(t, e.Identity, got.Identity)
			assert.Equal(t, e.StatusMachine, got.StatusMachine)
			assert.Equal(t, e.ParticipantID, got.ParticipantID)
			assert.Equal(t, e.ExperimentID, got.ExperimentID)
			assert.Equal(t, e.TrialIndex, got.TrialIndex)
			assert.Equal(t, e.Compressed, got.Compressed)
			assert.Equal(t, *e.LastSavedAt, *got.LastSavedAt)
			require.Equal(t, 2, got.Len())
			for i := range e.Trials {
				want, have := e.Trials[i].TrialBase(), got.Trials[i].TrialBase()
				assert.Equal(t, want.Identity, have.Identity, "trial %d", i)
				assert.Equal(t, want.StatusMachine, have.StatusMachine, "trial %d", i)
				assert.Equal(t, want.Stimulus, have.Stimulus, "trial %d", i)
				assert.Equal(t, want.Response, have.Response, "trial %d", i)
				assert.Equal(t, want.BlockNumber, have.BlockNumber, "trial %d", i)
			}
			assert.IsType(t, &reactionTrial{}, got.Trials[1])
		})
	}
}

func TestCustomExperimentKind(t *testing.T) {
	s := openStore(t, false)
	_, err := s.NewParticipant("p001")
	require.NoError(t, err)

	se := &stroopExperiment{
		Experiment: Experiment{ParticipantID: "p001", ExperimentID: "stroop", Trials: types.TrialList(types.NumberedTrials(2))},
		Congruent:  true,
	}
	require.NoError(t, CreateExperiment(s, se))
	assert.Equal(t, "stroopExperiment", se.DeclaredType)
	assert.True(t, se.IsExperiment())

	_, err = se.Next()
	require.NoError(t, err)

	got, err := LoadExperimentAs[stroopExperiment](s, "p001", "stroop")
	require.NoError(t, err)
	assert.True(t, got.Congruent)
	assert.Equal(t, 0, *got.TrialIndex)

	_, err = s.LoadExperiment("p001", "stroop")
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
}

func TestExperimentWithUnregisteredTrialType(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 1)

	doc := readRaw(t, e.Path)
	trials := doc["trials"].([]any)
	trials[0].(map[string]any)["declared_type"] = "MissingTrial"
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.Path, data, 0o644))

	_, err = s.LoadExperiment("p001", "stroop")
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
}

func TestDeletedExperimentIsNotWrittenOnClose(t *testing.T) {
	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 2)
	_, err := e.Next()
	require.NoError(t, err)

	require.NoError(t, e.Delete())
	require.NoError(t, e.Close())
	assert.NoFileExists(t, e.Path)
	assert.True(t, e.IsRunning(), "a deleted experiment is not paused on close")
}

func TestExperimentDurationExcludesPauses(t *testing.T) {
	current := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	restore := types.SetClock(func() time.Time {
		current = current.Add(time.Second)
		return current
	})
	defer restore()

	s := openStore(t, false)
	e := newExperiment(t, s, "p001", "stroop", 2)
	for {
		_, err := e.Next()
		if err != nil {
			require.ErrorIs(t, err, types.ErrNoMoreTrials)
			break
		}
		if e.IsFirstTrial() {
			require.NoError(t, e.Pause())
		}
	}

	d, err := e.Elapsed()
	require.NoError(t, err)
	var paused time.Duration
	for _, p := range e.PausedIntervals {
		paused += p.Length()
	}
	assert.Greater(t, paused, time.Duration(0))
	assert.Equal(t, e.FinishedAt.Sub(*e.StartedAt)-paused, d)
	assert.GreaterOrEqual(t, d, time.Duration(0))
}
