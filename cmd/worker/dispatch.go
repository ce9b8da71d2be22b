package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

type analysisHandler func(context.Context, domain.AnalysisStarted) error

type analysisObserver interface {
	StartAnalysis()
	FinishAnalysis(duration time.Duration, err error)
	ObserveEventLag(lag time.Duration)
}

// dispatcher hands events to at most `parallel` concurrent handlers.
// Handle blocks while all slots are taken, which holds back the subscription.
type dispatcher struct {
	ctx      context.Context
	handle   analysisHandler
	observer analysisObserver
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	slots chan struct{}
	wg    sync.WaitGroup
}

func newDispatcher(ctx context.Context, parallel int, timeout time.Duration, handle analysisHandler, observer analysisObserver, logger *slog.Logger) *dispatcher {
	if parallel <= 0 {
		parallel = 1
	}
	return &dispatcher{
		ctx:      ctx,
		handle:   handle,
		observer: observer,
		logger:   logger,
		timeout:  timeout,
		now:      time.Now,
		slots:    make(chan struct{}, parallel),
	}
}

// Handle ignores the subscription's context: it is cancelled as soon as Handle
// returns, while the handler may wait on the report for minutes.
func (d *dispatcher) Handle(_ context.Context, event domain.AnalysisStarted) error {
	if err := d.ctx.Err(); err != nil {
		return err
	}
	select {
	case d.slots <- struct{}{}:
	case <-d.ctx.Done():
		return d.ctx.Err()
	}

	if !event.StartedAt.IsZero() {
		d.observer.ObserveEventLag(d.now().Sub(event.StartedAt))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()

		runCtx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()

		started := d.now()
		d.observer.StartAnalysis()
		err := d.handle(runCtx, event)
		d.observer.FinishAnalysis(d.now().Sub(started), err)
		if err != nil {
			d.logger.Error("analysis_history_failed", "analysis_id", event.AnalysisID, "user_id", event.UserID, "error", err)
			return
		}
		d.logger.Info("analysis_history_completed", "analysis_id", event.AnalysisID, "duration_ms", d.now().Sub(started).Milliseconds())
	}()
	return nil
}

func (d *dispatcher) Wait() {
	d.wg.Wait()
}
