package docstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/gommon/log"
)

// Watch calls onChange with the key of every document in collection that is
// written, replaced or removed on disk, including edits made outside this
// process. Close the returned watcher to stop.
func (s *Filesystem) Watch(collection string, onChange func(key string)) (io.Closer, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	dir := s.dir(collection)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating collection directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if key, ok := keyFromName(filepath.Base(event.Name)); ok {
					log.Debugf("document %s/%s changed: %s", collection, key, event.Op)
					onChange(key)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watching %s: %+v", collection, err)
			}
		}
	}()

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching collection: %w", err)
	}
	return watcher, nil
}
