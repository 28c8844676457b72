package store

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/adammck/biped"
	"github.com/adammck/biped/search"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "store",
})

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS trials (
	run_id      TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	parameters  TEXT NOT NULL,
	distance    REAL NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// ErrRunNotFound is returned when a run ID doesn't exist.
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes a single search run.
type RunInfo struct {
	ID       string
	Kind     string
	Started  time.Time
	Finished time.Time
	Trials   int
}

// Store keeps every trial of every search run in a SQLite database, so that
// runs can be compared long after their CSVs are gone.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string, clk clock.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "while opening database")
	}

	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys=ON", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "while migrating database")
		}
	}

	return &Store{db: db, clock: clk}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a new run of the given kind (e.g. "grid" or "search").
func (s *Store) Begin(kind string) (*Run, error) {
	r := &Run{
		ID:    uuid.New().String(),
		store: s,
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, kind, started_at) VALUES (?, ?, ?)`,
		r.ID, kind, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "while inserting run")
	}

	log.Infof("started %s run %s", kind, r.ID)
	return r, nil
}

// Runs returns every run, oldest first.
func (s *Store) Runs() ([]RunInfo, error) {
	rows, err := s.db.Query(`
		SELECT r.run_id, r.kind, r.started_at, COALESCE(r.finished_at, ''), COUNT(t.idx)
		FROM runs r LEFT JOIN trials t ON t.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at, r.rowid`)
	if err != nil {
		return nil, errors.Wrap(err, "while querying runs")
	}
	defer rows.Close()

	out := []RunInfo{}
	for rows.Next() {
		var ri RunInfo
		var started, finished string

		err := rows.Scan(&ri.ID, &ri.Kind, &started, &finished, &ri.Trials)
		if err != nil {
			return nil, err
		}

		if ri.Started, err = parseTime(started); err != nil {
			return nil, err
		}
		if ri.Finished, err = parseTime(finished); err != nil {
			return nil, err
		}

		out = append(out, ri)
	}

	return out, rows.Err()
}

// Results returns every trial of the given run, in order.
func (s *Store) Results(runID string) ([]search.Result, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return nil, errors.Wrap(err, "while querying run")
	}
	if n == 0 {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}

	rows, err := s.db.Query(
		`SELECT idx, parameters, distance FROM trials WHERE run_id = ? ORDER BY idx`,
		runID)
	if err != nil {
		return nil, errors.Wrap(err, "while querying trials")
	}
	defer rows.Close()

	out := []search.Result{}
	for rows.Next() {
		var r search.Result
		var params string

		err := rows.Scan(&r.Index, &params, &r.Distance)
		if err != nil {
			return nil, err
		}

		err = json.Unmarshal([]byte(params), &r.Parameters)
		if err != nil {
			return nil, errors.Wrapf(err, "trial %d", r.Index)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, v)
}

// Run is a single search run. It implements search.Recorder.
type Run struct {
	ID string

	mu    sync.Mutex
	store *Store
}

// Record saves a single trial.
func (r *Run) Record(res search.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := json.Marshal(params(res.Parameters))
	if err != nil {
		return err
	}

	_, err = r.store.db.Exec(
		`INSERT INTO trials (run_id, idx, parameters, distance, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, res.Index, string(b), res.Distance, r.store.now())
	if err != nil {
		return errors.Wrapf(err, "while inserting trial %d", res.Index)
	}

	return nil
}

// Finish marks the run as finished.
func (r *Run) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.store.db.Exec(
		`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		r.store.now(), r.ID)
	if err != nil {
		return errors.Wrap(err, "while finishing run")
	}

	return nil
}

// params makes sure that a nil joint map is stored as an empty object, so it
// comes back out the same way.
func params(p biped.Parameters) biped.Parameters {
	if p.Joints == nil {
		p.Joints = map[string]biped.JointParameters{}
	}

	return p
}
