package usage

import "sync"

// lockTable hands out one mutex per user id so that read-modify-write
// sequences for the same user are serialized in-process. The backing
// store offers no compare-and-swap primitive, so without this two
// overlapping handlers for one user could lose an update. Entries are
// never reclaimed; the table is bounded by the number of distinct users.
type lockTable struct {
	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{users: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for a user and returns its unlock function.
func (t *lockTable) Lock(userID int64) func() {
	t.mu.Lock()
	m, ok := t.users[userID]
	if !ok {
		m = &sync.Mutex{}
		t.users[userID] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
