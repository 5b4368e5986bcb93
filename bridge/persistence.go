package bridge

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	_ "modernc.org/sqlite"
)

// ErrRecordNotFound indicates the requested instance record doesn't exist.
var ErrRecordNotFound = errors.New("instance record not found")

// Store handles SQLite storage for instance snapshot records.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenStore opens (or creates) the snapshot database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS instances (
		handle TEXT PRIMARY KEY,
		class TEXT NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveInstance upserts one instance record, serialized as CBOR.
func (s *Store) SaveInstance(rec InstanceRecord) error {
	data, err := cborEncMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record %s: %w", rec.Handle, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO instances (handle, class, data) VALUES (?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET class = excluded.class, data = excluded.data`,
		rec.Handle, rec.Class, data,
	)
	if err != nil {
		return fmt.Errorf("saving record %s: %w", rec.Handle, err)
	}
	return nil
}

// LoadInstance retrieves one instance record by handle.
func (s *Store) LoadInstance(handle string) (*InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRow(`SELECT data FROM instances WHERE handle = ?`, handle).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %s: %w", handle, err)
	}

	var rec InstanceRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling record %s: %w", handle, err)
	}
	return &rec, nil
}

// DeleteInstance removes one instance record.
func (s *Store) DeleteInstance(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM instances WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("deleting record %s: %w", handle, err)
	}
	return nil
}

// LoadAll retrieves every stored instance record.
func (s *Store) LoadAll() ([]InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT data FROM instances ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var records []InstanceRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		var rec InstanceRecord
		if err := cbor.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Checkpoint saves a snapshot of every live instance to the store.
func (b *Bridge) Checkpoint(store *Store) error {
	snap := b.Snapshot()
	for _, rec := range snap.Instances {
		if err := store.SaveInstance(rec); err != nil {
			return err
		}
	}
	b.log.Infof("checkpointed %d instances", len(snap.Instances))
	return nil
}
