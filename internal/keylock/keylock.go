// Package keylock serialises work on the same key inside one process.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash"
)

const DefaultStripes = 256

// Locker maps keys onto a fixed set of mutexes. Distinct keys may share a
// stripe, so a caller must never hold two keys of the same Locker at once.
type Locker struct {
	stripes []sync.Mutex
}

func New(stripes int) *Locker {
	if stripes < 1 {
		stripes = DefaultStripes
	}
	return &Locker{stripes: make([]sync.Mutex, stripes)}
}

// Lock blocks until key is free and returns the function that releases it.
func (l *Locker) Lock(key string) func() {
	m := &l.stripes[xxhash.Sum64([]byte(key))%uint64(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
