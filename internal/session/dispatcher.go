package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"playtimetracker/internal/logger"
)

// ErrDispatcherClosed is returned for work submitted after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Job is one unit of work run on behalf of a player.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	fn   Job
	done chan error
}

// Dispatcher runs jobs in per-player FIFO queues. Jobs for one player run
// one at a time in submission order; different players drain in parallel.
// A player's queue has a goroutine only while it holds pending work.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[uuid.UUID][]task
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates an idle dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{queues: make(map[uuid.UUID][]task)}
}

// Submit enqueues fn for the player without waiting for it. The returned
// channel receives the job's result exactly once.
func (d *Dispatcher) Submit(ctx context.Context, playerID uuid.UUID, fn Job) (<-chan error, error) {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	q, active := d.queues[playerID]
	d.queues[playerID] = append(q, t)
	if !active {
		d.wg.Add(1)
		go d.drain(playerID)
	}
	d.mu.Unlock()

	return t.done, nil
}

// Do runs fn in the player's queue and waits for its result. If ctx ends
// first Do returns the context error; a job that has not started by then is
// skipped, one that has started runs to completion.
func (d *Dispatcher) Do(ctx context.Context, playerID uuid.UUID, fn Job) error {
	done, err := d.Submit(ctx, playerID, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commit is Do for state transitions. fn runs with ctx's values but not its
// cancellation, so once submitted it is applied in order even if the caller
// stops waiting. Callers bound the work through the store's own timeouts.
func (d *Dispatcher) Commit(ctx context.Context, playerID uuid.UUID, fn Job) error {
	done, err := d.Submit(context.WithoutCancel(ctx), playerID, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveQueues returns the number of players with pending or running work.
func (d *Dispatcher) ActiveQueues() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close rejects new work and waits until every queued job has finished.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) drain(playerID uuid.UUID) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		q := d.queues[playerID]
		if len(q) == 0 {
			delete(d.queues, playerID)
			d.mu.Unlock()
			return
		}
		t := q[0]
		q[0] = task{}
		d.queues[playerID] = q[1:]
		d.mu.Unlock()

		t.done <- run(playerID, t)
	}
}

func run(playerID uuid.UUID, t task) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job for player %s panicked: %v\n%s", playerID, r, debug.Stack())
			err = fmt.Errorf("job for player %s panicked: %v", playerID, r)
		}
	}()
	return t.fn(t.ctx)
}
