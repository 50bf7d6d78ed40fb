package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"mcpagent/internal/domain"
)

var ErrStoreClosed = errors.New("history store is closed")

const (
	statRuns   = "runs"
	statPassed = "passed"
	statFailed = "failed"

	verdictStatPrefix = "verdict:"
)

// Entry is one recorded run.
type Entry struct {
	Seq        uint64                         `json:"seq"`
	RunID      string                         `json:"runId"`
	Task       string                         `json:"task"`
	Targets    []string                       `json:"targets"`
	StartedAt  time.Time                      `json:"startedAt"`
	FinishedAt time.Time                      `json:"finishedAt"`
	ServerID   string                         `json:"server,omitempty"`
	Success    bool                           `json:"success"`
	Attempts   int                            `json:"attempts"`
	LastError  string                         `json:"lastError,omitempty"`
	Outputs    map[string]domain.TargetOutput `json:"outputs,omitempty"`
}

// NewEntry summarizes a finished run.
func NewEntry(state *domain.AgentState, startedAt, finishedAt time.Time) Entry {
	entry := Entry{
		RunID:      state.RunID,
		Task:       state.Task,
		Targets:    append([]string(nil), state.Targets...),
		StartedAt:  startedAt.UTC(),
		FinishedAt: finishedAt.UTC(),
		Attempts:   state.Attempts,
		LastError:  state.LastError,
	}
	if state.Result != nil {
		entry.Success = true
		entry.ServerID = state.Result.ServerID
		entry.Outputs = state.Result.Outputs
	}
	return entry
}

// Stats aggregates every recorded run. Verdicts counts per-target outcomes.
type Stats struct {
	Runs     uint64                    `json:"runs"`
	Passed   uint64                    `json:"passed"`
	Failed   uint64                    `json:"failed"`
	Verdicts map[domain.Verdict]uint64 `json:"verdicts"`
}

// Store persists run history in a bbolt file.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

func OpenStore(path string) (*Store, error) {
	resolved := ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}
	db, err := bolt.Open(resolved, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: resolved}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Record appends entry and bumps the counters in one transaction. The
// assigned sequence number is returned.
func (s *Store) Record(entry Entry) (uint64, error) {
	var seq uint64
	err := s.update(func(tx *bolt.Tx) error {
		runs, stats, err := buckets(tx)
		if err != nil {
			return err
		}
		seq, err = runs.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		entry.Seq = seq
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		if err := runs.Put(encodeUint(seq), payload); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}

		outcome := statFailed
		if entry.Success {
			outcome = statPassed
		}
		if err := increment(stats, statRuns); err != nil {
			return err
		}
		if err := increment(stats, outcome); err != nil {
			return err
		}
		for _, output := range entry.Outputs {
			verdict := output.Verdict
			if verdict == "" {
				verdict = domain.VerdictUndetermined
			}
			if err := increment(stats, verdictStatPrefix+string(verdict)); err != nil {
				return err
			}
		}
		return nil
	})
	return seq, err
}

// List returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.view(func(tx *bolt.Tx) error {
		runs, _, err := buckets(tx)
		if err != nil {
			return err
		}
		cursor := runs.Cursor()
		for key, value := cursor.Last(); key != nil; key, value = cursor.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("decode entry %d: %w", readUint(key), err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func (s *Store) Stats() (Stats, error) {
	stats := Stats{Verdicts: map[domain.Verdict]uint64{}}
	err := s.view(func(tx *bolt.Tx) error {
		_, bucket, err := buckets(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(key, value []byte) error {
			count := readUint(value)
			switch name := string(key); name {
			case statRuns:
				stats.Runs = count
			case statPassed:
				stats.Passed = count
			case statFailed:
				stats.Failed = count
			default:
				if verdict, ok := strings.CutPrefix(name, verdictStatPrefix); ok {
					stats.Verdicts[domain.Verdict(verdict)] = count
				}
			}
			return nil
		})
	})
	return stats, err
}

func (s *Store) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

func buckets(tx *bolt.Tx) (runs *bolt.Bucket, stats *bolt.Bucket, err error) {
	root := tx.Bucket([]byte(rootBucketName))
	if root == nil {
		return nil, nil, fmt.Errorf("missing root bucket")
	}
	runs = root.Bucket([]byte(runsBucketName))
	if runs == nil {
		return nil, nil, fmt.Errorf("missing runs bucket")
	}
	stats = root.Bucket([]byte(statsBucketName))
	if stats == nil {
		return nil, nil, fmt.Errorf("missing stats bucket")
	}
	return runs, stats, nil
}

func increment(bucket *bolt.Bucket, key string) error {
	current := readUint(bucket.Get([]byte(key)))
	if err := bucket.Put([]byte(key), encodeUint(current+1)); err != nil {
		return fmt.Errorf("increment %s: %w", key, err)
	}
	return nil
}
