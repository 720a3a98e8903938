package docstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite keeps every collection in a single documents table.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens dsn, e.g. "file:/var/lib/gatehouse/docs.db" or
// "file:docs?mode=memory&cache=shared".
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	_, err := s.db.Exec(`create table if not exists documents (
		collection text not null,
		key        text not null,
		body       text not null,
		primary key (collection, key)
	)`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Has(collection, key string) (bool, error) {
	if !validKey(collection, key) {
		return false, nil
	}
	var n int
	err := s.db.Get(&n, `select count(*) from documents where collection = ? and key = ?`, collection, key)
	if err != nil {
		return false, fmt.Errorf("checking if document exists: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) Load(collection, key string, v interface{}) error {
	if !validKey(collection, key) {
		return ErrNotFound
	}
	var body string
	err := s.db.Get(&body, `select body from documents where collection = ? and key = ?`, collection, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("loading document: %w", err)
	}
	return decode([]byte(body), v)
}

func (s *SQLite) Save(collection, key string, v interface{}) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`insert into documents (collection, key, body) values (?, ?, ?)
		on conflict (collection, key) do update set body = excluded.body`, collection, key, string(data))
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func (s *SQLite) Insert(collection, key string, v interface{}) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`insert into documents (collection, key, body) values (?, ?, ?)
		on conflict (collection, key) do nothing`, collection, key, string(data))
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", ErrExists, collection, key)
	}
	return nil
}

func (s *SQLite) Delete(collection, key string) error {
	if !validKey(collection, key) {
		return nil
	}
	if _, err := s.db.Exec(`delete from documents where collection = ? and key = ?`, collection, key); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

func (s *SQLite) FindOne(collection, field, value string) (string, error) {
	if err := checkField(field); err != nil {
		return "", err
	}
	var key string
	err := s.db.Get(&key, `select key from documents
		where collection = ? and json_type(body, '$.' || ?) = 'text' and json_extract(body, '$.' || ?) = ?
		order by key limit 1`, collection, field, field, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("finding document: %w", err)
	}
	return key, nil
}

func (s *SQLite) Keys(collection string) ([]string, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	keys := []string{}
	if err := s.db.Select(&keys, `select key from documents where collection = ? order by key`, collection); err != nil {
		return nil, fmt.Errorf("listing collection: %w", err)
	}
	return keys, nil
}
