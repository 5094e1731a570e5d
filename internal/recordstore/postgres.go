package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps records as JSONB documents. One table holds the
// records of every collection; fragments live in a second table keyed by
// (collection, key, name).
//
// Table layout:
//   records(collection text, key text, props jsonb, created timestamptz, updated timestamptz)
//   record_fragments(collection text, key text, name text, doc jsonb, updated timestamptz)
type PostgresStore struct {
	db         *sql.DB
	collection string
}

var _ Store = (*PostgresStore)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	createRecordsTable = `
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			props JSONB NOT NULL DEFAULT '{}',
			created TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, key)
		)
	`
	createFragmentsTable = `
		CREATE TABLE IF NOT EXISTS record_fragments (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			name TEXT NOT NULL,
			doc JSONB NOT NULL DEFAULT '{}',
			updated TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, key, name)
		)
	`

	getRecordQuery = `
		SELECT key, props, created, updated
		FROM records
		WHERE collection = $1 AND key = $2
	`
	listRecordsQuery = `
		SELECT key, props, created, updated
		FROM records
		WHERE collection = $1
		ORDER BY key
	`
	filterRecordsQuery = `
		SELECT key, props, created, updated
		FROM records
		WHERE collection = $1 AND props -> $2 = $3::jsonb
		ORDER BY key
	`
	upsertRecordQuery = `
		INSERT INTO records (collection, key, props, created, updated)
		VALUES ($1, $2, $3::jsonb, $4, $4)
		ON CONFLICT (collection, key)
		DO UPDATE SET props = records.props || EXCLUDED.props, updated = EXCLUDED.updated
	`
	deleteRecordQuery    = `DELETE FROM records WHERE collection = $1 AND key = $2`
	deleteFragmentsQuery = `DELETE FROM record_fragments WHERE collection = $1 AND key = $2`

	getFragmentQuery = `
		SELECT doc FROM record_fragments
		WHERE collection = $1 AND key = $2 AND name = $3
	`
	upsertFragmentQuery = `
		INSERT INTO record_fragments (collection, key, name, doc, updated)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (collection, key, name)
		DO UPDATE SET doc = EXCLUDED.doc, updated = EXCLUDED.updated
	`
	deleteFragmentQuery = `
		DELETE FROM record_fragments
		WHERE collection = $1 AND key = $2 AND name = $3
	`
)

func NewPostgresStore(db *sql.DB, collection string) *PostgresStore {
	return &PostgresStore{db: db, collection: collection}
}

// Migrate creates the record tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createRecordsTable, createFragmentsTable} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate record tables: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	rec, err := s.scanRecord(s.db.QueryRowContext(ctx, getRecordQuery, s.collection, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get record %q: %w", key, err)
	}
	return rec, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, props Doc) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}
	if props == nil {
		raw = []byte("{}")
	}
	if _, err := s.db.ExecContext(ctx, upsertRecordQuery, s.collection, key, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("set record %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, listRecordsQuery, s.collection)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return s.scanRecords(rows)
}

func (s *PostgresStore) Filter(ctx context.Context, field string, value any) ([]Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, filterRecordsQuery, s.collection, field, string(raw))
	if err != nil {
		return nil, fmt.Errorf("filter records on %q: %w", field, err)
	}
	return s.scanRecords(rows)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, deleteFragmentsQuery, s.collection, key); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete fragments of %q: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, deleteRecordQuery, s.collection, key); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Fragment(key, name string) Fragment {
	return &postgresFragment{store: s, key: key, name: name}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec   Record
		props []byte
	)
	if err := scanner.Scan(&rec.Key, &props, &rec.Created, &rec.Updated); err != nil {
		return Record{}, err
	}
	doc, err := decodeDoc(props)
	if err != nil {
		return Record{}, err
	}
	rec.Collection = s.collection
	rec.Props = doc
	rec.Created = rec.Created.UTC()
	rec.Updated = rec.Updated.UTC()
	return rec, nil
}

type postgresFragment struct {
	store *PostgresStore
	key   string
	name  string
}

func (f *postgresFragment) Get(ctx context.Context) (Doc, error) {
	var raw []byte
	err := f.store.db.QueryRowContext(ctx, getFragmentQuery, f.store.collection, f.key, f.name).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get fragment %s/%s: %w", f.key, f.name, err)
	}
	return decodeDoc(raw)
}

func (f *postgresFragment) Set(ctx context.Context, doc Doc) error {
	if doc == nil {
		doc = Doc{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode fragment %s/%s: %w", f.key, f.name, err)
	}
	if _, err := f.store.db.ExecContext(ctx, upsertFragmentQuery, f.store.collection, f.key, f.name, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("set fragment %s/%s: %w", f.key, f.name, err)
	}
	return nil
}

func (f *postgresFragment) Delete(ctx context.Context) error {
	if _, err := f.store.db.ExecContext(ctx, deleteFragmentQuery, f.store.collection, f.key, f.name); err != nil {
		return fmt.Errorf("delete fragment %s/%s: %w", f.key, f.name, err)
	}
	return nil
}
