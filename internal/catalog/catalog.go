// Package catalog builds a read-only SQLite index over an expflow data
// directory. The JSON documents stay the source of truth; the catalog is
// rebuilt from them every time it is opened and answers summary queries
// that would otherwise need every document decoded.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/expflow/pkg/types"
)

// Catalog is an in-memory index of one data directory.
type Catalog struct {
	db      *sql.DB
	skipped int
}

// Open builds the index for dataDir.
func Open(dataDir string) (*Catalog, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	skipped, err := loadDocuments(db, dataDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return &Catalog{db: db, skipped: skipped}, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Skipped returns how many documents or trials could not be indexed.
func (c *Catalog) Skipped() int { return c.skipped }

// ParticipantSummary is one row of Participants.
type ParticipantSummary struct {
	ParticipantID string `json:"participant_id"`
	DeclaredType  string `json:"declared_type"`
	Group         string `json:"group,omitempty"`
	Experiments   int    `json:"experiments"`
	Finished      int    `json:"finished"`
}

// ExperimentSummary is one row of Experiments.
type ExperimentSummary struct {
	ParticipantID string       `json:"participant_id"`
	ExperimentID  string       `json:"experiment_id"`
	DeclaredType  string       `json:"declared_type"`
	Status        types.Status `json:"status"`
	TrialIndex    *int         `json:"trial_index"`
	Trials        int          `json:"trials"`
	TrialsDone    int          `json:"trials_done"`
	Duration      *float64     `json:"duration"`
	LastSavedAt   *time.Time   `json:"last_saved_at"`
}

// Participants lists every participant with the number of experiments it
// has and how many of those are finished.
func (c *Catalog) Participants() ([]ParticipantSummary, error) {
	rows, err := c.db.Query(`
SELECT p.participant_id, p.declared_type, COALESCE(p.group_name, ''),
       COUNT(e.experiment_id),
       COALESCE(SUM(CASE WHEN e.current_status = 'finished' THEN 1 ELSE 0 END), 0)
FROM participants p
LEFT JOIN experiments e ON e.participant_id = p.participant_id
GROUP BY p.participant_id
ORDER BY p.participant_id`)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var out []ParticipantSummary
	for rows.Next() {
		var s ParticipantSummary
		if err := rows.Scan(&s.ParticipantID, &s.DeclaredType, &s.Group, &s.Experiments, &s.Finished); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Experiments lists experiments ordered by participant and experiment ID.
// An empty participantID lists every participant's experiments.
func (c *Catalog) Experiments(participantID string) ([]ExperimentSummary, error) {
	query := `
SELECT e.participant_id, e.experiment_id, e.declared_type, e.current_status,
       e.trial_index, e.duration, e.last_saved_at,
       COUNT(t.position),
       COALESCE(SUM(CASE WHEN t.current_status IN ('finished', 'timed_out', 'skipped') THEN 1 ELSE 0 END), 0)
FROM experiments e
LEFT JOIN trials t ON t.participant_id = e.participant_id AND t.experiment_id = e.experiment_id`
	var args []any
	if participantID != "" {
		query += "\nWHERE e.participant_id = ?"
		args = append(args, participantID)
	}
	query += "\nGROUP BY e.participant_id, e.experiment_id\nORDER BY e.participant_id, e.experiment_id"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying experiments: %w", err)
	}
	defer rows.Close()

	var out []ExperimentSummary
	for rows.Next() {
		var (
			s          ExperimentSummary
			status     string
			trialIndex sql.NullInt64
			duration   sql.NullFloat64
			lastSaved  sql.NullString
		)
		if err := rows.Scan(&s.ParticipantID, &s.ExperimentID, &s.DeclaredType, &status,
			&trialIndex, &duration, &lastSaved, &s.Trials, &s.TrialsDone); err != nil {
			return nil, fmt.Errorf("scanning experiment: %w", err)
		}
		s.Status = types.Status(status)
		if trialIndex.Valid {
			i := int(trialIndex.Int64)
			s.TrialIndex = &i
		}
		if duration.Valid {
			d := duration.Float64
			s.Duration = &d
		}
		if lastSaved.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, lastSaved.String); err == nil {
				s.LastSavedAt = &ts
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ExperimentStatusCounts returns how many experiments are in each status.
// Statuses with no experiments are absent.
func (c *Catalog) ExperimentStatusCounts() (map[types.Status]int, error) {
	return c.statusCounts("experiments")
}

// TrialStatusCounts returns how many trials, across all experiments, are in
// each status.
func (c *Catalog) TrialStatusCounts() (map[types.Status]int, error) {
	return c.statusCounts("trials")
}

func (c *Catalog) statusCounts(table string) (map[types.Status]int, error) {
	rows, err := c.db.Query("SELECT current_status, COUNT(*) FROM " + table + " GROUP BY current_status")
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", table, err)
	}
	defer rows.Close()

	counts := make(map[types.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning %s count: %w", table, err)
		}
		counts[types.Status(status)] = n
	}
	return counts, rows.Err()
}

// ConditionSummary aggregates finished trials of one condition.
type ConditionSummary struct {
	Condition    string   `json:"condition"`
	Trials       int      `json:"trials"`
	MeanDuration *float64 `json:"mean_duration"`
}

// Conditions summarizes finished, non-practice trials by condition.
func (c *Catalog) Conditions() ([]ConditionSummary, error) {
	rows, err := c.db.Query(`
SELECT COALESCE(condition, ''), COUNT(*), AVG(duration)
FROM trials
WHERE current_status = 'finished' AND COALESCE(practice, 0) = 0
GROUP BY COALESCE(condition, '')
ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("querying conditions: %w", err)
	}
	defer rows.Close()

	var out []ConditionSummary
	for rows.Next() {
		var (
			s    ConditionSummary
			mean sql.NullFloat64
		)
		if err := rows.Scan(&s.Condition, &s.Trials, &mean); err != nil {
			return nil, fmt.Errorf("scanning condition: %w", err)
		}
		if mean.Valid {
			m := mean.Float64
			s.MeanDuration = &m
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
