package job

import (
	"strconv"
	"sync"
	"time"
)

// Registry maps job ids to jobs for the lifetime of the process. Entries are
// never removed; jobs are few and human-triggered, so retention until process
// restart is acceptable.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	lastID int64
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create inserts a new pending job under a unique id derived from the
// creation time in milliseconds, bumped on collision so ids are strictly
// increasing within the process.
func (r *Registry) Create() *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := time.Now().UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id

	j := newJob(strconv.FormatInt(id, 10))
	r.jobs[j.ID] = j
	return j
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}
