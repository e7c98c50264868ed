package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/expflow/pkg/expflow"
)

// loadDocuments reads every participant and experiment document under
// dataDir and inserts it into the catalog. Loading is transactional: all
// succeed or the catalog stays empty. Unreadable documents are skipped and
// counted; unknown fields are ignored, so documents of custom entity kinds
// are indexed without their Go types being registered.
func loadDocuments(db *sql.DB, dataDir string) (skipped int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	participants, err := readDocuments(filepath.Join(dataDir, expflow.DirParticipants))
	if err != nil {
		return 0, err
	}
	skipped += participants.skipped
	for _, doc := range participants.docs {
		if err := insertRecord(tx, "participants", participantColumns, doc); err != nil {
			skipped++
		}
	}

	experiments, err := readDocuments(filepath.Join(dataDir, expflow.DirExperiments))
	if err != nil {
		return 0, err
	}
	skipped += experiments.skipped
	for _, doc := range experiments.docs {
		if err := insertRecord(tx, "experiments", experimentColumns, doc); err != nil {
			skipped++
			continue
		}
		trials, _ := doc["trials"].([]any)
		for pos, raw := range trials {
			trial, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			trial["participant_id"] = doc["participant_id"]
			trial["experiment_id"] = doc["experiment_id"]
			trial["position"] = pos
			if err := insertRecord(tx, "trials", trialColumns, trial); err != nil {
				skipped++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing load transaction: %w", err)
	}
	return skipped, nil
}

type documentSet struct {
	docs    []map[string]any
	skipped int
}

// readDocuments decodes every .json and .json.gz file in dir.
func readDocuments(dir string) (documentSet, error) {
	var set documentSet
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return set, fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz")) {
			continue
		}
		data, err := expflow.ReadDocument(filepath.Join(dir, name))
		if err != nil {
			set.skipped++
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			set.skipped++
			continue
		}
		set.docs = append(set.docs, doc)
	}
	return set, nil
}

// insertRecord inserts one decoded document into table. Only the keys
// listed in columns are read; missing keys become NULL.
func insertRecord(tx *sql.Tx, table string, columns []column, doc map[string]any) error {
	names := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		names[i] = col.name
		args[i] = columnValue(doc[col.key])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(names, ", "),
		placeholders,
	)
	if _, err := tx.Exec(insertSQL, args...); err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return nil
}

// columnValue converts a decoded JSON value to something database/sql can
// bind. Nested values are stored as JSON text.
func columnValue(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(b)
	case bool:
		if val {
			return 1
		}
		return 0
	default:
		return val
	}
}
