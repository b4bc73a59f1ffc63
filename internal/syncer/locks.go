package syncer

import "sync"

// teacherLocks hands out one advisory mutex per teacher so a manual sync, a
// webhook-triggered sync, and the scheduled poll for the same folder cannot
// interleave their read-modify-write cycles.
type teacherLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTeacherLocks() *teacherLocks {
	return &teacherLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the teacher's lock is held and returns the release
// function. Entries are never evicted; the map is bounded by the number of
// teachers with a connected Drive account.
func (l *teacherLocks) acquire(teacherID string) func() {
	l.mu.Lock()
	m, ok := l.locks[teacherID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[teacherID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
