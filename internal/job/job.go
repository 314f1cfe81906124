package job

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Log trim policy: once the log grows past logHighWater entries, only the
// most recent logKeep are retained.
const (
	logHighWater = 2000
	logKeep      = 1000
)

// Job is one asynchronous run of the compress-and-send pipeline. It is
// mutated only by its own runner goroutine; HTTP pollers read it through
// Snapshot. The lock guards the log and status only and is never held across
// blocking I/O.
type Job struct {
	ID string

	mu     sync.Mutex
	status Status
	logs   []string
}

func newJob(id string) *Job {
	return &Job{ID: id, status: StatusPending}
}

// Logf appends a timestamped line to the job log and mirrors it to the
// operational log.
func (j *Job) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	j.append(msg)
	slog.Info(msg, "job", j.ID)
}

// Errorf appends a line with a leading error marker, distinct from
// informational lines, and mirrors it at error level.
func (j *Job) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	j.append("ERROR: " + msg)
	slog.Error(msg, "job", j.ID)
}

func (j *Job) append(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logs = append(j.logs, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg))
	if len(j.logs) > logHighWater {
		j.logs = append([]string(nil), j.logs[len(j.logs)-logKeep:]...)
	}
}

// setStatus advances the job state. Transitions are unidirectional: a
// terminal status is never left.
func (j *Job) setStatus(next Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusDone || j.status == StatusError {
		return
	}
	j.status = next
}

// Snapshot returns the current status and a copy of at most the logKeep most
// recent log lines.
func (j *Job) Snapshot() (Status, []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	logs := j.logs
	if len(logs) > logKeep {
		logs = logs[len(logs)-logKeep:]
	}
	return j.status, append([]string(nil), logs...)
}
