package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/expflow/pkg/expflow"
	"github.com/mesh-intelligence/expflow/pkg/types"
)

// seedDataDir writes two participants and three experiments in different
// states and returns the data directory.
func seedDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	s, err := expflow.Open(types.Config{DataDir: dir})
	require.NoError(t, err)
	defer s.Close()

	p1, err := s.NewParticipant("p001")
	require.NoError(t, err)
	p1.Group = "control"
	require.NoError(t, p1.Save())
	_, err = s.NewParticipant("p002")
	require.NoError(t, err)

	conditioned := func(cond string, practice bool) types.TrialItem {
		tr := types.NewTrial()
		tr.Condition = cond
		tr.Practice = practice
		return tr
	}

	done, err := s.NewExperiment("p001", "stroop",
		conditioned("congruent", true),
		conditioned("congruent", false),
		conditioned("incongruent", false),
	)
	require.NoError(t, err)
	for _, err := range done.Iterate() {
		require.NoError(t, err)
	}

	s.SetCompression(true)
	paused, err := s.NewExperiment("p001", "flanker", types.NumberedTrials(4)...)
	require.NoError(t, err)
	_, err = paused.Next()
	require.NoError(t, err)
	require.NoError(t, paused.Pause())

	_, err = s.NewExperiment("p002", "stroop", types.NumberedTrials(2)...)
	require.NoError(t, err)
	return dir
}

func openCatalog(t *testing.T, dir string) *Catalog {
	t.Helper()
	c, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestParticipants(t *testing.T) {
	c := openCatalog(t, seedDataDir(t))

	got, err := c.Participants()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ParticipantSummary{ParticipantID: "p001", DeclaredType: "Participant", Group: "control", Experiments: 2, Finished: 1}, got[0])
	assert.Equal(t, ParticipantSummary{ParticipantID: "p002", DeclaredType: "Participant", Experiments: 1}, got[1])
	assert.Zero(t, c.Skipped())
}

func TestExperiments(t *testing.T) {
	c := openCatalog(t, seedDataDir(t))

	all, err := c.Experiments("")
	require.NoError(t, err)
	require.Len(t, all, 3)

	flanker := all[0]
	assert.Equal(t, "p001", flanker.ParticipantID)
	assert.Equal(t, "flanker", flanker.ExperimentID)
	assert.Equal(t, types.StatusPaused, flanker.Status)
	require.NotNil(t, flanker.TrialIndex)
	assert.Equal(t, 0, *flanker.TrialIndex)
	assert.Equal(t, 4, flanker.Trials)
	assert.Equal(t, 0, flanker.TrialsDone)
	assert.Nil(t, flanker.Duration)
	assert.NotNil(t, flanker.LastSavedAt)

	stroop := all[1]
	assert.Equal(t, "stroop", stroop.ExperimentID)
	assert.Equal(t, types.StatusFinished, stroop.Status)
	assert.Nil(t, stroop.TrialIndex)
	assert.Equal(t, 3, stroop.Trials)
	assert.Equal(t, 3, stroop.TrialsDone)
	assert.NotNil(t, stroop.Duration)

	mine, err := c.Experiments("p002")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, types.StatusPending, mine[0].Status)
}

func TestStatusCounts(t *testing.T) {
	c := openCatalog(t, seedDataDir(t))

	experiments, err := c.ExperimentStatusCounts()
	require.NoError(t, err)
	assert.Equal(t, map[types.Status]int{
		types.StatusFinished: 1,
		types.StatusPaused:   1,
		types.StatusPending:  1,
	}, experiments)

	trials, err := c.TrialStatusCounts()
	require.NoError(t, err)
	assert.Equal(t, map[types.Status]int{
		types.StatusFinished: 3,
		types.StatusPaused:   1,
		types.StatusPending:  5,
	}, trials)
}

func TestConditions(t *testing.T) {
	c := openCatalog(t, seedDataDir(t))

	got, err := c.Conditions()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "congruent", got[0].Condition)
	assert.Equal(t, 1, got[0].Trials, "practice trials are excluded")
	assert.NotNil(t, got[0].MeanDuration)
	assert.Equal(t, "incongruent", got[1].Condition)
}

func TestCorruptDocumentsAreSkipped(t *testing.T) {
	dir := seedDataDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, expflow.DirExperiments, "p009.broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, expflow.DirParticipants, "p010.json.gz"), []byte("plain text, not gzip data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, expflow.DirParticipants, "p011.json"), []byte(`{"participant_id":"p011"}`), 0o644))

	c := openCatalog(t, dir)
	assert.Equal(t, 3, c.Skipped())

	got, err := c.Participants()
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestEmptyDataDir(t *testing.T) {
	c := openCatalog(t, t.TempDir())

	got, err := c.Experiments("")
	require.NoError(t, err)
	assert.Empty(t, got)

	counts, err := c.TrialStatusCounts()
	require.NoError(t, err)
	assert.Empty(t, counts)
}
