package catalog

// Schema DDL. Timestamps are stored as RFC 3339 text, durations in seconds.
const (
	createParticipants = `CREATE TABLE participants (
    participant_id TEXT PRIMARY KEY,
    declared_type TEXT NOT NULL,
    created_at TEXT,
    group_name TEXT,
    language TEXT,
    temporary INTEGER,
    last_saved_at TEXT
);`

	createExperiments = `CREATE TABLE experiments (
    participant_id TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    declared_type TEXT NOT NULL,
    current_status TEXT NOT NULL,
    trial_index INTEGER,
    created_at TEXT,
    started_at TEXT,
    finished_at TEXT,
    duration REAL,
    last_saved_at TEXT,
    compressed INTEGER,
    PRIMARY KEY (participant_id, experiment_id)
);`

	createTrials = `CREATE TABLE trials (
    participant_id TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    unique_id TEXT,
    declared_type TEXT NOT NULL,
    current_status TEXT NOT NULL,
    trial_number INTEGER,
    block_number INTEGER,
    condition TEXT,
    practice INTEGER,
    duration REAL,
    PRIMARY KEY (participant_id, experiment_id, position),
    FOREIGN KEY (participant_id, experiment_id) REFERENCES experiments(participant_id, experiment_id)
);`
)

// Index DDL for the summary queries.
const (
	idxExperimentsStatus = `CREATE INDEX idx_experiments_status ON experiments(current_status);`
	idxTrialsStatus      = `CREATE INDEX idx_trials_status ON trials(current_status);`
	idxTrialsCondition   = `CREATE INDEX idx_trials_condition ON trials(condition);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createParticipants,
	createExperiments,
	createTrials,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxExperimentsStatus,
	idxTrialsStatus,
	idxTrialsCondition,
}

// column maps a JSON document key to a table column.
type column struct {
	key  string
	name string
}

var participantColumns = []column{
	{"participant_id", "participant_id"},
	{"declared_type", "declared_type"},
	{"created_at", "created_at"},
	{"group", "group_name"},
	{"language", "language"},
	{"temporary", "temporary"},
	{"last_saved_at", "last_saved_at"},
}

var experimentColumns = []column{
	{"participant_id", "participant_id"},
	{"experiment_id", "experiment_id"},
	{"declared_type", "declared_type"},
	{"current_status", "current_status"},
	{"trial_index", "trial_index"},
	{"created_at", "created_at"},
	{"started_at", "started_at"},
	{"finished_at", "finished_at"},
	{"duration", "duration"},
	{"last_saved_at", "last_saved_at"},
	{"compressed", "compressed"},
}

// trialColumns are read from each element of an experiment's trials array.
// The loader copies participant_id, experiment_id and position into the
// element from the enclosing experiment.
var trialColumns = []column{
	{"participant_id", "participant_id"},
	{"experiment_id", "experiment_id"},
	{"position", "position"},
	{"unique_id", "unique_id"},
	{"declared_type", "declared_type"},
	{"current_status", "current_status"},
	{"trial_number", "trial_number"},
	{"block_number", "block_number"},
	{"condition", "condition"},
	{"practice", "practice"},
	{"duration", "duration"},
}
