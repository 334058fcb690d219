// Package persistence adapts a machine's transitions to an external
// storage boundary (C8). The engine itself knows nothing about what gets
// saved or where; a Saver is handed a plain identifier and a caller-typed
// record, and Bind wires it into a machine's OnEnter handlers.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	fsm "github.com/orbitfsm/fsm"
)

// Saver persists, retrieves, and removes a record of type T by id. It is
// the sole contract between a machine and whatever it is backed by —
// a database row, a file, a cache entry, or nothing at all.
type Saver[T any] interface {
	Save(id string, record T) error
	Load(id string) (T, error)
	Delete(id string) error
}

// SaverFunc adapts three plain functions to the Saver interface, for
// one-off adapters that don't warrant their own named type.
type SaverFunc[T any] struct {
	SaveFunc   func(id string, record T) error
	LoadFunc   func(id string) (T, error)
	DeleteFunc func(id string) error
}

func (f SaverFunc[T]) Save(id string, record T) error { return f.SaveFunc(id, record) }
func (f SaverFunc[T]) Load(id string) (T, error)      { return f.LoadFunc(id) }
func (f SaverFunc[T]) Delete(id string) error         { return f.DeleteFunc(id) }

// MemorySaver is an in-memory Saver, primarily for tests and for
// machines whose persistence only needs to outlive a single dispatch,
// not the process.
type MemorySaver[T any] struct {
	mu      sync.RWMutex
	records map[string]T
}

// NewMemorySaver constructs an empty MemorySaver.
func NewMemorySaver[T any]() *MemorySaver[T] {
	return &MemorySaver[T]{records: make(map[string]T)}
}

func (s *MemorySaver[T]) Save(id string, record T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = record

	return nil
}

func (s *MemorySaver[T]) Load(id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return record, fmt.Errorf("fsm/persistence: no record for id %q", id)
	}

	return record, nil
}

func (s *MemorySaver[T]) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)

	return nil
}

// FileSaver persists each record as its own JSON file under directory.
type FileSaver[T any] struct {
	directory string
	mu        sync.Mutex
}

// NewFileSaver constructs a FileSaver rooted at directory, creating it if
// it does not already exist.
func NewFileSaver[T any](directory string) (*FileSaver[T], error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("fsm/persistence: create directory: %w", err)
	}

	return &FileSaver[T]{directory: directory}, nil
}

func (s *FileSaver[T]) path(id string) string {
	return filepath.Join(s.directory, id+".json")
}

func (s *FileSaver[T]) Save(id string, record T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("fsm/persistence: marshal record %q: %w", id, err)
	}

	return os.WriteFile(s.path(id), data, 0o644)
}

func (s *FileSaver[T]) Load(id string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record T

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return record, fmt.Errorf("fsm/persistence: read record %q: %w", id, err)
	}

	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("fsm/persistence: unmarshal record %q: %w", id, err)
	}

	return record, nil
}

func (s *FileSaver[T]) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return os.Remove(s.path(id))
}

// Options configures Bind.
type Options struct {
	// SaveAfterEnter controls whether a save runs after every transition's
	// OnEnter. Defaults to true; set false to disable without unbinding.
	SaveAfterEnter bool
}

// Bind wraps every transition m currently declares so that, once that
// transition's own OnEnter handler (if any) completes successfully,
// snapshot is called against the machine's context to produce a record,
// which is then written via saver.Save(id, record). A transition declared
// with a set-valued from shares one *TransitionDef across every source
// state it was declared for, so Bind wraps it exactly once regardless of
// how many states reference it.
//
// Bind must be called after every transition the machine will ever use
// has been declared; transitions added afterward are not wrapped.
func Bind[T any](m *fsm.Machine, id string, saver Saver[T], snapshot func(*fsm.Context) T, opts ...Options) {
	o := Options{SaveAfterEnter: true}
	if len(opts) > 0 {
		o = opts[0]
	}

	if !o.SaveAfterEnter {
		return
	}

	for t := range m.AllTransitions().Iter() {
		t.WrapEnter(func(existing fsm.Callback) fsm.Callback {
			return func(ctx *fsm.Context, args ...any) error {
				if existing != nil {
					if err := existing(ctx, args...); err != nil {
						return err
					}
				}

				return saver.Save(id, snapshot(ctx))
			}
		})
	}
}

// Restore loads the record stored under id and hands it to apply, which
// is expected to adopt whatever state and data it encodes onto m (for
// example via m.SetState and m.Inject, followed by m.CallEnter to replay
// entry side effects). It returns the loaded record unchanged.
func Restore[T any](m *fsm.Machine, id string, saver Saver[T], apply func(*fsm.Machine, T)) (T, error) {
	record, err := saver.Load(id)
	if err != nil {
		return record, err
	}

	apply(m, record)

	return record, nil
}
