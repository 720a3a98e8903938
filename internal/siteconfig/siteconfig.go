// Package siteconfig holds runtime site settings in the document store.
package siteconfig

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"uk.co.dudmesh.gatehouse/internal/docstore"
)

const (
	Collection = "site"
	Key        = "settings"

	SettingRegister       = "register"
	SettingDiscordWebhook = "discord_webhook"
)

var ErrorValueNotAllowed = errors.New("value not allowed")

// Settings reads through to the store on every call unless a watcher is
// installed with Watch, in which case reads are cached until the watcher
// reports a change.
type Settings struct {
	docs docstore.Store

	mu      sync.Mutex
	watched bool
	cached  map[string]interface{}
}

type Watcher interface {
	Watch(collection string, onChange func(key string)) (io.Closer, error)
}

func New(docs docstore.Store) *Settings {
	return &Settings{docs: docs}
}

// Watch enables caching for as long as w reports changes to the settings
// document. Closing the returned watcher turns caching off again.
func (s *Settings) Watch(w Watcher) (io.Closer, error) {
	closer, err := w.Watch(Collection, func(key string) {
		if key == Key {
			s.Invalidate()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("watching site settings: %w", err)
	}

	s.mu.Lock()
	s.watched = true
	s.cached = nil
	s.mu.Unlock()
	return &watch{settings: s, closer: closer}, nil
}

type watch struct {
	settings *Settings
	closer   io.Closer
}

func (w *watch) Close() error {
	w.settings.mu.Lock()
	w.settings.watched = false
	w.settings.cached = nil
	w.settings.mu.Unlock()
	return w.closer.Close()
}

// Invalidate drops the cached settings so the next read goes to the store.
func (s *Settings) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Settings) load() (map[string]interface{}, error) {
	if s.watched && s.cached != nil {
		return s.cached, nil
	}
	values := map[string]interface{}{}
	if err := s.docs.Load(Collection, Key, &values); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("loading site settings: %w", err)
	}
	if s.watched {
		s.cached = values
	}
	return values, nil
}

// Get returns the stored value for key, or def when it is unset.
func (s *Settings) Get(key string, def interface{}) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := values[key]
	if !ok || v == nil {
		return def, nil
	}
	return v, nil
}

func (s *Settings) Bool(key string, def bool) (bool, error) {
	v, err := s.Get(key, def)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("setting %s: %w", key, err)
		}
		return parsed, nil
	case float64:
		return b != 0, nil
	}
	return false, fmt.Errorf("setting %s: unexpected type %T", key, v)
}

func (s *Settings) String(key string, def string) (string, error) {
	v, err := s.Get(key, def)
	if err != nil {
		return "", err
	}
	switch str := v.(type) {
	case string:
		return str, nil
	case bool, float64:
		return fmt.Sprint(str), nil
	}
	return "", fmt.Errorf("setting %s: unexpected type %T", key, v)
}

// Set stores value under key. When allowed is not empty value must equal one
// of its entries.
func (s *Settings) Set(key string, value interface{}, allowed ...interface{}) error {
	if len(allowed) > 0 {
		ok := false
		for _, a := range allowed {
			if reflect.DeepEqual(a, value) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: %s=%v", ErrorValueNotAllowed, key, value)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	values, err := s.load()
	if err != nil {
		return err
	}
	next := make(map[string]interface{}, len(values)+1)
	for k, v := range values {
		next[k] = v
	}
	next[key] = value

	if err := s.docs.Save(Collection, Key, next); err != nil {
		s.cached = nil
		return fmt.Errorf("saving site settings: %w", err)
	}
	if s.watched {
		s.cached = next
	}
	return nil
}

// All returns a copy of every stored setting and the sorted list of its keys.
func (s *Settings) All() (map[string]interface{}, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]interface{}, len(values))
	keys := make([]string, 0, len(values))
	for k, v := range values {
		out[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return out, keys, nil
}
