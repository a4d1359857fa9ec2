// Package pool is the bounded, priority-scheduled worker pool (spec §4.3).
// The Scanner submits its per-file reconciliation tasks to it; feature
// extraction and grouping run inline in the Rescan Coordinator and do not
// go through the pool. It
// generalizes the teacher's fixed-worker/job-queue shape from
// internal/scanner (semaphore-bounded fan-out, WaitGroup-tracked workers)
// and internal/verifier (jobCh/resultsCh with a pending WaitGroup) into a
// single reusable pool that additionally supports task priority,
// per-category I/O throttling, and interaction-based back-off.
package pool

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/localphoto/photodedupe/internal/concurrency"
	"github.com/localphoto/photodedupe/internal/domain"
)

// Priority orders pending tasks; higher values run first (spec §4.3:
// "CRITICAL > HIGH > NORMAL > LOW").
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// State is the pool's run state (spec §4.3 state machine: Stopped ->
// Running -> Paused <-> Running -> Stopping -> Stopped).
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Task is a unit of work submitted to the pool. Category selects the
// per-category I/O throttle bucket (e.g. "scan", "decode", "hash", "db").
type Task struct {
	Category string
	Priority Priority
	Fn       func(ctx context.Context) error
}

// Stats is a point-in-time snapshot of pool activity (spec §4.3: submitted
// count, queue depth by priority, throttle/back-off deferral counts, and
// state-transition count, alongside the existing in-flight/completed/failed
// counters).
type Stats struct {
	Queued            int
	QueuedByPriority  map[Priority]int
	InFlight          int
	Submitted         int64
	Completed         int64
	Failed            int64
	ThrottleDeferrals int64
	BackOffDeferrals  int64
	StateTransitions  int64
	State             State
}

// Pool runs submitted Tasks with bounded concurrency (ThreadCap), serving
// the highest-priority ready task first, throttling each category's
// throughput, and delaying NORMAL/LOW tasks while the InteractionMonitor
// reports the machine is in active interactive use.
type Pool struct {
	threadCap int
	onError   func(error)

	mu       sync.Mutex
	cond     *sync.Cond
	queue    taskHeap
	seq      int
	state    State
	inFlight int
	submitted         int64
	completed         int64
	failed            int64
	throttleDeferrals int64
	backOffDeferrals  int64
	stateTransitions  int64

	sem        concurrency.Semaphore
	limiters   map[string]*rate.Limiter
	limiterCfg rate.Limit
	monitor    *InteractionMonitor
	backOff    bool
	backOffFor time.Duration

	workerWg sync.WaitGroup
	stopCh   chan struct{}
}

// New builds a Pool. ioThrottleOpsPerSec <= 0 disables per-category
// throttling (spec §4.2 "accurate" preset).
func New(threadCap int, ioThrottleOpsPerSec float64, monitor *InteractionMonitor, backOffDuration time.Duration, onError func(error)) *Pool {
	if threadCap < 1 {
		threadCap = 1
	}
	p := &Pool{
		threadCap:  threadCap,
		onError:    onError,
		sem:        concurrency.NewSemaphore(threadCap),
		limiters:   make(map[string]*rate.Limiter),
		limiterCfg: rate.Inf,
		monitor:    monitor,
		backOffFor: backOffDuration,
		stopCh:     make(chan struct{}),
	}
	if ioThrottleOpsPerSec > 0 {
		p.limiterCfg = rate.Limit(ioThrottleOpsPerSec)
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// setState transitions the pool to newState, counting the transition if it
// actually changes state. Callers must hold p.mu.
func (p *Pool) setState(newState State) {
	if p.state != newState {
		p.state = newState
		p.stateTransitions++
	}
}

// Start launches threadCap worker goroutines. Safe to call once.
func (p *Pool) Start() {
	p.mu.Lock()
	p.setState(StateRunning)
	p.mu.Unlock()

	for i := 0; i < p.threadCap; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}
}

// Submit enqueues a task. Returns an error wrapping domain.ErrConfiguration
// if the pool has already begun stopping.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	stopped := false
	select {
	case <-p.stopCh:
		stopped = true
	default:
	}
	if p.state == StateStopping || stopped {
		return fmt.Errorf("%w: pool is %s, cannot accept tasks", domain.ErrConfiguration, p.state)
	}
	p.seq++
	heap.Push(&p.queue, &heapItem{task: t, priority: t.Priority, seq: p.seq})
	p.submitted++
	p.cond.Signal()
	return nil
}

// Pause halts dispatch of new tasks to workers; in-flight tasks finish.
func (p *Pool) Pause() {
	p.mu.Lock()
	if p.state == StateRunning {
		p.setState(StatePaused)
	}
	p.mu.Unlock()
}

// Resume wakes workers blocked by Pause.
func (p *Pool) Resume() {
	p.mu.Lock()
	if p.state == StatePaused {
		p.setState(StateRunning)
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

// Stop drains the queue (refusing new submissions), waits for in-flight
// tasks to finish, and transitions to Stopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.setState(StateStopping)
	p.cond.Broadcast()
	p.mu.Unlock()

	close(p.stopCh)
	p.workerWg.Wait()

	p.mu.Lock()
	p.setState(StateStopped)
	p.mu.Unlock()
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	byPriority := make(map[Priority]int, 4)
	for _, item := range p.queue {
		byPriority[item.priority]++
	}
	return Stats{
		Queued:            p.queue.Len(),
		QueuedByPriority:  byPriority,
		InFlight:          p.inFlight,
		Submitted:         p.submitted,
		Completed:         p.completed,
		Failed:            p.failed,
		ThrottleDeferrals: p.throttleDeferrals,
		BackOffDeferrals:  p.backOffDeferrals,
		StateTransitions:  p.stateTransitions,
		State:             p.state,
	}
}

func (p *Pool) worker() {
	defer p.workerWg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}

		p.throttle(task.Category)
		// Back-off only delays NORMAL/LOW priority tasks; CRITICAL and HIGH
		// tasks must start within one throttle quantum regardless (spec §4.3).
		if task.Priority <= PriorityNormal {
			p.waitOutBackOff()
		}

		p.sem.Acquire()
		err := task.Fn(context.Background())
		p.sem.Release()

		p.mu.Lock()
		p.inFlight--
		if err != nil {
			p.failed++
		} else {
			p.completed++
		}
		p.mu.Unlock()

		if err != nil && p.onError != nil {
			p.onError(err)
		}
	}
}

// next blocks until a task is ready to dispatch, the pool is paused (in
// which case it blocks until resumed), or the pool is stopping with an
// empty queue (in which case it returns ok=false).
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.state == StatePaused {
			p.cond.Wait()
			continue
		}
		if p.queue.Len() > 0 {
			item := heap.Pop(&p.queue).(*heapItem)
			p.inFlight++
			return item.task, true
		}
		if p.state == StateStopping {
			return Task{}, false
		}
		p.cond.Wait()
	}
}

func (p *Pool) throttle(category string) {
	if p.limiterCfg == rate.Inf {
		return
	}
	p.mu.Lock()
	lim, ok := p.limiters[category]
	if !ok {
		lim = rate.NewLimiter(p.limiterCfg, 1)
		p.limiters[category] = lim
	}
	p.mu.Unlock()

	reservation := lim.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		p.mu.Lock()
		p.throttleDeferrals++
		p.mu.Unlock()
		time.Sleep(delay)
	}
}

// waitOutBackOff sleeps while the InteractionMonitor reports the machine is
// under active interactive load (spec §4.3 back-off). Only called for
// NORMAL/LOW priority tasks; CRITICAL/HIGH tasks skip it entirely.
func (p *Pool) waitOutBackOff() {
	if p.monitor == nil {
		return
	}
	for p.monitor.ShouldBackOff() {
		p.mu.Lock()
		p.backOffDeferrals++
		p.mu.Unlock()
		select {
		case <-time.After(p.backOffFor):
		case <-p.stopCh:
			return
		}
	}
}
