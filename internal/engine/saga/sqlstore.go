package saga

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite" // cgo-free SQLite driver

	"github.com/AndrewSinukov/service-bus/internal/engine/storage"
)

const sagaTableDDL = `
CREATE TABLE IF NOT EXISTS sagas_store (
	id_value    TEXT    NOT NULL,
	id_class    TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	payload     BLOB    NOT NULL,
	created_at  INTEGER NOT NULL,
	expire_date INTEGER NOT NULL,
	closed_at   INTEGER,
	PRIMARY KEY (id_value, id_class)
)`

// OpenSQLite opens the saga database file. Use ":memory:" for tests.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &storage.ConnectionError{Err: err}
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from fragmenting across connections.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLStore persists saga rows through database/sql. Timestamps are stored as
// unix nanoseconds so ordering survives the round trip on every driver.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	if db == nil {
		panic("servicebus: saga sql store requires a database handle")
	}
	return &SQLStore{db: db}
}

// Migrate creates the saga table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sagaTableDDL); err != nil {
		return storage.Classify(err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, stored StoredSaga) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sagas_store (id_value, id_class, status, payload, created_at, expire_date, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID.Value,
		stored.ID.Class,
		string(stored.Status),
		stored.Payload,
		stored.CreatedAt.UnixNano(),
		stored.ExpireDate.UnixNano(),
		closedAtColumn(stored.ClosedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &storage.UniqueConstraintError{Key: stored.ID.String()}
		}
		return storage.Classify(err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, stored StoredSaga) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sagas_store
		 SET status = ?, payload = ?, closed_at = ?
		 WHERE id_value = ? AND id_class = ?`,
		string(stored.Status),
		stored.Payload,
		closedAtColumn(stored.ClosedAt),
		stored.ID.Value,
		stored.ID.Class,
	)
	if err != nil {
		return storage.Classify(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.Classify(err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, id ID) (*StoredSaga, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, payload, created_at, expire_date, closed_at
		 FROM sagas_store
		 WHERE id_value = ? AND id_class = ?`,
		id.Value, id.Class,
	)

	var (
		status    string
		payload   []byte
		createdAt int64
		expireAt  int64
		closedAt  sql.NullInt64
	)
	if err := row.Scan(&status, &payload, &createdAt, &expireAt, &closedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storage.Classify(err)
	}

	stored := &StoredSaga{
		ID:         id,
		Status:     Status(status),
		Payload:    payload,
		CreatedAt:  unixNano(createdAt),
		ExpireDate: unixNano(expireAt),
	}
	if closedAt.Valid {
		t := unixNano(closedAt.Int64)
		stored.ClosedAt = &t
	}
	return stored, nil
}

func (s *SQLStore) Remove(ctx context.Context, id ID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sagas_store WHERE id_value = ? AND id_class = ?`,
		id.Value, id.Class,
	); err != nil {
		return storage.Classify(err)
	}
	return nil
}

func closedAtColumn(closedAt *time.Time) any {
	if closedAt == nil {
		return nil
	}
	return closedAt.UnixNano()
}

func unixNano(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
