// Package runlog keeps a journal of simulation runs. Each finished,
// interrupted or failed run appends one JSON line to a local file, so the
// history survives even when snapshots are pruned or kept in memory only.
package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Run outcomes.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Record describes one invocation of a run. A resumed run gets a new record
// whose StartStep is the step it resumed from.
type Record struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Seed      uint64    `json:"seed"`
	StartStep int       `json:"start_step"`
	EndStep   int       `json:"end_step"`
	Steps     int       `json:"steps"`
	Agents    int       `json:"agents"`
	Alive     int       `json:"alive"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Error     string    `json:"error,omitempty"`
}

// Journal appends records to a JSON lines file. Safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	path string
}

// New returns a journal writing to path. The file is created on first
// append.
func New(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file.
func (j *Journal) Path() string { return j.path }

// Append writes r as one line.
func (j *Journal) Append(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("runlog: marshal: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("runlog: open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("runlog: write: %w", err)
	}
	return f.Close()
}

// Read returns every record in path, oldest first, optionally only those of
// runID. A missing file is an empty journal. Malformed lines are skipped and
// reported in the joined error alongside the records that did parse.
func Read(path, runID string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	defer f.Close()

	var (
		out  []Record
		errs []error
		line int
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			errs = append(errs, fmt.Errorf("runlog: line %d: %w", line, err))
			continue
		}
		if runID == "" || r.RunID == runID {
			out = append(out, r)
		}
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, fmt.Errorf("runlog: read: %w", err))
	}
	return out, errors.Join(errs...)
}
