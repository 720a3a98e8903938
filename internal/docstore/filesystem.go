package docstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const documentExt = ".json"

// Filesystem stores each document as <root>/<collection>/<key>.json.
type Filesystem struct {
	root string
}

func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (s *Filesystem) Root() string {
	return s.root
}

func (s *Filesystem) dir(collection string) string {
	return filepath.Join(s.root, collection)
}

func (s *Filesystem) path(collection, key string) string {
	return filepath.Join(s.root, collection, key+documentExt)
}

func (s *Filesystem) Has(collection, key string) (bool, error) {
	if !validKey(collection, key) {
		return false, nil
	}
	_, err := os.Stat(s.path(collection, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("checking if document exists: %w", err)
	}
	return true, nil
}

func (s *Filesystem) Load(collection, key string, v interface{}) error {
	if !validKey(collection, key) {
		return ErrNotFound
	}
	data, err := os.ReadFile(s.path(collection, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("reading document: %w", err)
	}
	return decode(data, v)
}

func (s *Filesystem) Save(collection, key string, v interface{}) error {
	tmp, err := s.writeTemp(collection, key, v)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(collection, key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing document: %w", err)
	}
	return nil
}

// Insert links a fully written temp file into place so the document appears
// atomically and only once.
func (s *Filesystem) Insert(collection, key string, v interface{}) error {
	tmp, err := s.writeTemp(collection, key, v)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, s.path(collection, key)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s/%s", ErrExists, collection, key)
		}
		return fmt.Errorf("linking document: %w", err)
	}
	return nil
}

func (s *Filesystem) writeTemp(collection, key string, v interface{}) (string, error) {
	if err := checkKey(collection, key); err != nil {
		return "", err
	}
	data, err := encode(v)
	if err != nil {
		return "", err
	}

	dir := s.dir(collection)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating collection directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+key+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return f.Name(), nil
}

func (s *Filesystem) Delete(collection, key string) error {
	if !validKey(collection, key) {
		return nil
	}
	if err := os.Remove(s.path(collection, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

func (s *Filesystem) FindOne(collection, field, value string) (string, error) {
	if err := checkField(field); err != nil {
		return "", err
	}
	keys, err := s.Keys(collection)
	if err != nil {
		return "", err
	}
	for _, key := range keys {
		data, err := os.ReadFile(s.path(collection, key))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("reading document: %w", err)
		}
		if fieldEquals(data, field, value) {
			return key, nil
		}
	}
	return "", ErrNotFound
}

func (s *Filesystem) Keys(collection string) ([]string, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir(collection))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing collection: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if key, ok := keyFromName(entry.Name()); ok && !entry.IsDir() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Filesystem) Close() error {
	return nil
}

// keyFromName maps a file name back to its key, skipping temp files.
func keyFromName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, documentExt) {
		return "", false
	}
	key := strings.TrimSuffix(name, documentExt)
	return key, keyPattern.MatchString(key)
}
