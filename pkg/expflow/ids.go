package expflow

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// documentStems lists the file names in sub that look like stored
// documents, with the .json or .json.gz extension removed.
func (s *Store) documentStems(sub string) ([]string, error) {
	dir, err := s.Dir(sub)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", sub, err)
	}
	var stems []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, extJSONGz):
			stems = append(stems, strings.TrimSuffix(name, extJSONGz))
		case strings.HasSuffix(name, extJSON):
			stems = append(stems, strings.TrimSuffix(name, extJSON))
		}
	}
	return stems, nil
}

// ParticipantIDs returns the IDs of every stored participant, sorted.
func (s *Store) ParticipantIDs() ([]string, error) {
	stems, err := s.documentStems(DirParticipants)
	if err != nil {
		return nil, err
	}
	return distinctSorted(stems), nil
}

// ExperimentIDs returns the distinct experiment IDs across all
// participants, sorted.
func (s *Store) ExperimentIDs() ([]string, error) {
	stems, err := s.documentStems(DirExperiments)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stems))
	for _, stem := range stems {
		if _, eid, ok := strings.Cut(stem, "."); ok {
			ids = append(ids, eid)
		}
	}
	return distinctSorted(ids), nil
}

// ParticipatedIn returns the IDs of the experiments participantID has a
// document for, sorted.
func (s *Store) ParticipatedIn(participantID string) ([]string, error) {
	stems, err := s.documentStems(DirExperiments)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, stem := range stems {
		if pid, eid, ok := strings.Cut(stem, "."); ok && pid == participantID {
			ids = append(ids, eid)
		}
	}
	return distinctSorted(ids), nil
}

func distinctSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
