package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the SQLite-backed trial data store. It is the sole owner of
// persisted entity state; the query engine only reads through it.
// Thread-safe for concurrent readers.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines the three normalized tables. Creation is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS subjects (
    subject_id  TEXT PRIMARY KEY,
    project     TEXT NOT NULL,
    condition   TEXT NOT NULL,
    age         INTEGER,
    sex         TEXT
);

CREATE TABLE IF NOT EXISTS samples (
    sample_id                 TEXT PRIMARY KEY,
    subject_id                TEXT NOT NULL,
    sample_type               TEXT NOT NULL,
    treatment                 TEXT,
    response                  TEXT,
    time_from_treatment_start REAL,
    FOREIGN KEY (subject_id) REFERENCES subjects(subject_id)
);

CREATE INDEX IF NOT EXISTS idx_samples_subject ON samples(subject_id);

CREATE TABLE IF NOT EXISTS cell_counts (
    sample_id  TEXT NOT NULL,
    population TEXT NOT NULL,
    count      INTEGER NOT NULL CHECK (count >= 0),
    PRIMARY KEY (sample_id, population),
    FOREIGN KEY (sample_id) REFERENCES samples(sample_id)
);
`

// Open opens (or creates) the store file at path and ensures the schema
// exists. Foreign key enforcement is switched on for every connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Write surface (ingestion only)
// =============================================================================

// WriteDataset writes all three entity sets in one transaction, in
// dependency order so the foreign-key constraints hold. Any failure rolls
// the whole transaction back and is surfaced as a SchemaViolationError
// when a uniqueness or referential-integrity constraint was breached.
func (s *Store) WriteDataset(subjects []Subject, samples []Sample, counts []CellCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()

	for _, sub := range subjects {
		if _, err := tx.Exec(`
			INSERT INTO subjects (subject_id, project, condition, age, sex)
			VALUES (?, ?, ?, ?, ?)
		`, sub.SubjectID, sub.Project, sub.Condition, sub.Age, sub.Sex); err != nil {
			return classifyWriteErr("subjects", err)
		}
	}

	for _, sm := range samples {
		if _, err := tx.Exec(`
			INSERT INTO samples (sample_id, subject_id, sample_type, treatment, response, time_from_treatment_start)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sm.SampleID, sm.SubjectID, sm.SampleType, sm.Treatment, sm.Response, sm.TimeFromTreatmentStart); err != nil {
			return classifyWriteErr("samples", err)
		}
	}

	for _, cc := range counts {
		if _, err := tx.Exec(`
			INSERT INTO cell_counts (sample_id, population, count)
			VALUES (?, ?, ?)
		`, cc.SampleID, cc.Population, cc.Count); err != nil {
			return classifyWriteErr("cell_counts", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

// =============================================================================
// Read surface
// =============================================================================

// ListCellCounts returns every cell count row ordered by
// (sample_id, population) for deterministic output.
func (s *Store) ListCellCounts() ([]CellCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT sample_id, population, count
		FROM cell_counts ORDER BY sample_id, population
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []CellCount
	for rows.Next() {
		var cc CellCount
		if err := rows.Scan(&cc.SampleID, &cc.Population, &cc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, cc)
	}
	return counts, rows.Err()
}

// ListSubjects returns all subjects ordered by subject_id.
func (s *Store) ListSubjects() ([]Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT subject_id, project, condition, age, sex
		FROM subjects ORDER BY subject_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var sub Subject
		var age sql.NullInt64
		var sex sql.NullString
		if err := rows.Scan(&sub.SubjectID, &sub.Project, &sub.Condition, &age, &sex); err != nil {
			return nil, err
		}
		if age.Valid {
			sub.Age = &age.Int64
		}
		if sex.Valid {
			sub.Sex = sex.String
		}
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}

// ListSamples returns all samples ordered by sample_id.
func (s *Store) ListSamples() ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT sample_id, subject_id, sample_type, treatment, response, time_from_treatment_start
		FROM samples ORDER BY sample_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sm Sample
		var treatment, response sql.NullString
		var tfts sql.NullFloat64
		if err := rows.Scan(&sm.SampleID, &sm.SubjectID, &sm.SampleType, &treatment, &response, &tfts); err != nil {
			return nil, err
		}
		if treatment.Valid {
			sm.Treatment = &treatment.String
		}
		if response.Valid {
			sm.Response = &response.String
		}
		if tfts.Valid {
			sm.TimeFromTreatmentStart = &tfts.Float64
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// SelectCohort returns the samples ⋈ subjects rows matching every predicate
// in the filter, ordered by sample_id. A filter matching nothing yields an
// empty result, not an error.
func (s *Store) SelectCohort(f CohortFilter) ([]CohortSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT s.sample_id, s.subject_id, sub.project, sub.condition, sub.age, sub.sex,
			s.sample_type, s.treatment, s.response, s.time_from_treatment_start
		FROM samples s
		JOIN subjects sub ON s.subject_id = sub.subject_id`
	where, args := f.whereClause()
	query += where + " ORDER BY s.sample_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cohort []CohortSample
	for rows.Next() {
		var cs CohortSample
		var age sql.NullInt64
		var sex, treatment, response sql.NullString
		var tfts sql.NullFloat64
		if err := rows.Scan(
			&cs.SampleID, &cs.SubjectID, &cs.Project, &cs.Condition, &age, &sex,
			&cs.SampleType, &treatment, &response, &tfts,
		); err != nil {
			return nil, err
		}
		if age.Valid {
			cs.Age = &age.Int64
		}
		if sex.Valid {
			cs.Sex = sex.String
		}
		if treatment.Valid {
			cs.Treatment = &treatment.String
		}
		if response.Valid {
			cs.Response = &response.String
		}
		if tfts.Valid {
			cs.TimeFromTreatmentStart = &tfts.Float64
		}
		cohort = append(cohort, cs)
	}
	return cohort, rows.Err()
}

// AverageCount returns the mean count of one population over the samples
// matching the filter. Returns nil when no rows match.
func (s *Store) AverageCount(population string, f CohortFilter) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT AVG(cc.count)
		FROM cell_counts cc
		JOIN samples s ON cc.sample_id = s.sample_id
		JOIN subjects sub ON s.subject_id = sub.subject_id`
	where, args := f.whereClause()
	if where == "" {
		query += " WHERE cc.population = ?"
	} else {
		query += where + " AND cc.population = ?"
	}
	args = append(args, population)

	var avg sql.NullFloat64
	if err := s.db.QueryRow(query, args...).Scan(&avg); err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// CountSubjects returns the number of subject rows.
func (s *Store) CountSubjects() (int, error) { return s.count("subjects") }

// CountSamples returns the number of sample rows.
func (s *Store) CountSamples() (int, error) { return s.count("samples") }

// CountCellCounts returns the number of cell count rows.
func (s *Store) CountCellCounts() (int, error) { return s.count("cell_counts") }

func (s *Store) count(table string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	return n, err
}

// whereClause builds the WHERE fragment and bind arguments for the
// filter's non-nil predicates. Returns "" when every predicate is nil.
func (f CohortFilter) whereClause() (string, []any) {
	var conds []string
	var args []any

	add := func(expr string, v any) {
		conds = append(conds, expr)
		args = append(args, v)
	}
	if f.Condition != nil {
		add("sub.condition = ?", *f.Condition)
	}
	if f.Sex != nil {
		add("sub.sex = ?", *f.Sex)
	}
	if f.SampleType != nil {
		add("s.sample_type = ?", *f.SampleType)
	}
	if f.Treatment != nil {
		add("s.treatment = ?", *f.Treatment)
	}
	if f.Response != nil {
		add("s.response = ?", *f.Response)
	}
	if f.TimeFromTreatmentStart != nil {
		add("s.time_from_treatment_start = ?", *f.TimeFromTreatmentStart)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
