// Package docstore keeps JSON documents addressed by collection and key.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound   = errors.New("document not found")
	ErrExists     = errors.New("document already exists")
	ErrInvalidKey = errors.New("invalid collection or key")
)

type Store interface {
	Has(collection, key string) (bool, error)
	Load(collection, key string, v interface{}) error
	// Save writes v, replacing any existing document.
	Save(collection, key string, v interface{}) error
	// Insert writes v only if no document exists under key, otherwise it
	// returns ErrExists.
	Insert(collection, key string, v interface{}) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(collection, key string) error
	// FindOne returns the first key, in key order, whose document has a
	// top-level string field equal to value.
	FindOne(collection, field, value string) (string, error)
	Keys(collection string) ([]string, error)
	Close() error
}

var (
	collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	keyPattern        = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	fieldPattern      = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
)

func validKey(collection, key string) bool {
	return collectionPattern.MatchString(collection) && keyPattern.MatchString(key)
}

func checkKey(collection, key string) error {
	if !validKey(collection, key) {
		return fmt.Errorf("%w: %s/%s", ErrInvalidKey, collection, key)
	}
	return nil
}

func checkCollection(collection string) error {
	if !collectionPattern.MatchString(collection) {
		return fmt.Errorf("%w: %s", ErrInvalidKey, collection)
	}
	return nil
}

func checkField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: field %s", ErrInvalidKey, field)
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling document: %w", err)
	}
	return data, nil
}

func decode(data []byte, v interface{}) error {
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshalling document: %w", err)
	}
	return nil
}

// fieldEquals reports whether the document has a top-level string field
// equal to value. Documents that fail to parse never match.
func fieldEquals(data []byte, field, value string) bool {
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	raw, ok := doc[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == value
}
