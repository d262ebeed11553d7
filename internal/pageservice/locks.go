package pageservice

import (
	"sort"
	"sync"
)

// pathLocks hands out one mutex per page path. Entries live only while
// somebody holds or waits for them.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// lock acquires the locks for paths in sorted order and returns the
// matching unlock.
func (l *pathLocks) lock(paths ...string) func() {
	keys := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			keys = append(keys, p)
		}
	}
	sort.Strings(keys)

	held := make([]*pathLock, len(keys))
	for i, k := range keys {
		l.mu.Lock()
		pl, ok := l.locks[k]
		if !ok {
			pl = &pathLock{}
			l.locks[k] = pl
		}
		pl.refs++
		l.mu.Unlock()

		pl.mu.Lock()
		held[i] = pl
	}

	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, keys[i])
			}
			l.mu.Unlock()
		}
	}
}
