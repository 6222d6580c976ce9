// Package mocks provides hand-written test doubles for the engine's
// collaborators.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/builders"
	"github.com/rlibfactory/rlibfactory/pkg/state"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// Attempt scripts what MockRunner returns for a crate
type Attempt struct {
	ExitCode int
	Log      string
	TimedOut bool
	Err      error
	// Delay makes the attempt block until it elapses or ctx is cancelled
	Delay time.Duration
	// Panic makes the attempt panic with this value
	Panic interface{}
}

// MockRunner is a scripted build runner
type MockRunner struct {
	mu       sync.Mutex
	attempts map[types.CrateID]Attempt
	fallback Attempt
	calls    map[types.CrateID]int
	order    []types.CrateID
	requests []builders.Request
	started  chan types.CrateID
}

// NewMockRunner creates a runner whose unscripted crates exit 0
func NewMockRunner() *MockRunner {
	return &MockRunner{
		attempts: make(map[types.CrateID]Attempt),
		calls:    make(map[types.CrateID]int),
	}
}

// Script sets the attempt returned for id
func (m *MockRunner) Script(id types.CrateID, a Attempt) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[id] = a
	return m
}

// ScriptMissingVersions makes id behave as if it had no versions file
func (m *MockRunner) ScriptMissingVersions(id types.CrateID) *MockRunner {
	return m.Script(id, Attempt{Err: fmt.Errorf("%w: %s.txt", builders.ErrMissingVersionsFile, id)})
}

// SetDefault sets the attempt used for unscripted crates
func (m *MockRunner) SetDefault(a Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = a
}

// NotifyStarted returns a channel receiving each crate as its attempt starts
func (m *MockRunner) NotifyStarted(buffer int) <-chan types.CrateID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = make(chan types.CrateID, buffer)
	return m.started
}

// Plan returns a fake argv
func (m *MockRunner) Plan(req builders.Request) []string {
	return []string{"mock-build", "--crate", string(req.Crate), "--versions-file", req.VersionsFile}
}

// Run records the invocation and returns the scripted attempt
func (m *MockRunner) Run(ctx context.Context, req builders.Request) (builders.Result, error) {
	m.mu.Lock()
	a, ok := m.attempts[req.Crate]
	if !ok {
		a = m.fallback
	}
	m.calls[req.Crate]++
	m.order = append(m.order, req.Crate)
	m.requests = append(m.requests, req)
	started := m.started
	m.mu.Unlock()

	if started != nil {
		started <- req.Crate
	}
	if a.Panic != nil {
		panic(a.Panic)
	}

	result := builders.Result{
		ExitCode: a.ExitCode,
		Log:      a.Log,
		LogPath:  req.LogPath,
		TimedOut: a.TimedOut,
	}
	if a.Delay > 0 {
		timer := time.NewTimer(a.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			result.ExitCode = -1
			return result, fmt.Errorf("build of %s interrupted: %w", req.Crate, ctx.Err())
		case <-timer.C:
		}
		result.Duration = a.Delay
	}
	return result, a.Err
}

// Calls returns how many times id was attempted
func (m *MockRunner) Calls(id types.CrateID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// TotalCalls returns the number of attempts across all crates
func (m *MockRunner) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Order returns the crates in the order they were attempted
func (m *MockRunner) Order() []types.CrateID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.CrateID(nil), m.order...)
}

// Requests returns every request received
func (m *MockRunner) Requests() []builders.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]builders.Request(nil), m.requests...)
}

// MockStore is an in-memory store with injectable failures
type MockStore struct {
	*state.MemoryStore
	mu          sync.Mutex
	getError    error
	recordError map[types.CrateID]error
	clears      map[types.CrateID]int
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		MemoryStore: state.NewMemoryStore(),
		recordError: make(map[types.CrateID]error),
		clears:      make(map[types.CrateID]int),
	}
}

// Seed stores a record without going through failure injection
func (m *MockStore) Seed(id types.CrateID, kind types.OutcomeKind) {
	_ = m.MemoryStore.RecordOutcome(context.Background(), id, state.Record{Outcome: types.Outcome{Kind: kind}})
}

// SetGetError makes every Get fail
func (m *MockStore) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getError = err
}

// SetRecordError makes RecordOutcome fail for id
func (m *MockStore) SetRecordError(id types.CrateID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordError[id] = err
}

// Get returns the injected error or delegates
func (m *MockStore) Get(ctx context.Context, id types.CrateID) (state.Record, bool, error) {
	m.mu.Lock()
	err := m.getError
	m.mu.Unlock()
	if err != nil {
		return state.Record{}, false, err
	}
	return m.MemoryStore.Get(ctx, id)
}

// HasTerminalOutcome goes through Get so injected errors apply
func (m *MockStore) HasTerminalOutcome(ctx context.Context, id types.CrateID) (bool, error) {
	rec, ok, err := m.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return rec.Outcome.Kind.IsTerminal(), nil
}

// RecordOutcome returns the injected error or delegates
func (m *MockStore) RecordOutcome(ctx context.Context, id types.CrateID, rec state.Record) error {
	m.mu.Lock()
	err := m.recordError[id]
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.MemoryStore.RecordOutcome(ctx, id, rec)
}

// ClearFailureMarkers counts the call and delegates
func (m *MockStore) ClearFailureMarkers(ctx context.Context, id types.CrateID) error {
	m.mu.Lock()
	m.clears[id]++
	m.mu.Unlock()
	return m.MemoryStore.ClearFailureMarkers(ctx, id)
}

// Clears returns how many times failure markers were cleared for id
func (m *MockStore) Clears(id types.CrateID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears[id]
}

// MockNotifier records run notifications
type MockNotifier struct {
	mu       sync.Mutex
	Titles   []string
	Messages []string
	err      error
}

// SetError makes Notify fail
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Notify records the notification
func (m *MockNotifier) Notify(title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Titles = append(m.Titles, title)
	m.Messages = append(m.Messages, message)
	return m.err
}
