package httpadapter

import (
	"context"
	"sync"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/ports"
)

// OrchestratorFactory builds a session's runner wired to emitter.
type OrchestratorFactory func(session domain.Session, emitter ports.ProgressEmitter) ports.UploadRunner

// SessionRegistry keeps one upload runner per user. Runs are detached from
// HTTP requests and bound to the registry's context, which Shutdown cancels.
type SessionRegistry struct {
	factory OrchestratorFactory

	mu      sync.Mutex
	entries map[string]*sessionEntry

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
}

type sessionEntry struct {
	runner ports.UploadRunner
	events *Broadcaster

	// startMu serializes select+start so two uploads cannot interleave.
	startMu sync.Mutex
}

func NewSessionRegistry(factory OrchestratorFactory) *SessionRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionRegistry{
		factory:   factory,
		entries:   make(map[string]*sessionEntry),
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

func (r *SessionRegistry) entry(session domain.Session) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[session.UserID]; ok {
		return e
	}
	events := NewBroadcaster()
	e := &sessionEntry{
		runner: r.factory(session, events),
		events: events,
	}
	r.entries[session.UserID] = e
	return e
}

// SelectAndStart validates file and starts a background run. onDone runs
// after the run reaches a terminal phase or is removed; it is not called
// when the run could not start.
func (r *SessionRegistry) SelectAndStart(session domain.Session, file domain.SelectedFile, onDone func(domain.UploadJob, error)) (domain.UploadJob, error) {
	e := r.entry(session)
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if job, err := e.runner.Select(file); err != nil {
		return job, err
	}
	r.runs.Add(1)
	job, err := e.runner.Start(r.runCtx, func(job domain.UploadJob, err error) {
		defer r.runs.Done()
		if onDone != nil {
			onDone(job, err)
		}
	})
	if err != nil {
		r.runs.Done()
	}
	return job, err
}

func (r *SessionRegistry) Snapshot(session domain.Session) domain.UploadJob {
	return r.entry(session).runner.Snapshot()
}

func (r *SessionRegistry) Remove(session domain.Session) domain.UploadJob {
	return r.entry(session).runner.Remove()
}

func (r *SessionRegistry) Reset(session domain.Session) domain.UploadJob {
	return r.entry(session).runner.Reset()
}

// Subscribe returns the current snapshot and a stream of later events.
func (r *SessionRegistry) Subscribe(session domain.Session) (domain.UploadJob, <-chan domain.ProgressEvent, func()) {
	e := r.entry(session)
	events, unsubscribe := e.events.Subscribe()
	return e.runner.Snapshot(), events, unsubscribe
}

// Shutdown cancels every active run and waits for them to unwind.
func (r *SessionRegistry) Shutdown(ctx context.Context) error {
	r.cancelRun()
	done := make(chan struct{})
	go func() {
		r.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
