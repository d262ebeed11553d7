package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/wikigraph/internal/graph"
)

// ErrStopped is returned to waiters whose work was still queued when the
// scheduler shut down.
var ErrStopped = errors.New("index: scheduler stopped")

// Op is the kind of work to perform on a path.
type Op int

const (
	OpReparse Op = iota
	OpRemove
	OpDegrade
)

func (o Op) String() string {
	switch o {
	case OpReparse:
		return "reparse"
	case OpRemove:
		return "remove"
	case OpDegrade:
		return "degrade"
	}
	return "unknown"
}

// Item is one unit of work for a single file.
type Item struct {
	Path  string
	Op    Op
	From  string // rename source for OpReparse
	Cause string // reason for OpDegrade
}

// Ticket lets a submitter wait for its item to be committed.
type Ticket struct {
	done   chan struct{}
	commit graph.Commit
	err    error
}

func newTicket() *Ticket { return &Ticket{done: make(chan struct{})} }

// Wait blocks until the work item ran or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (graph.Commit, error) {
	select {
	case <-t.done:
		return t.commit, t.err
	case <-ctx.Done():
		return graph.Commit{}, ctx.Err()
	}
}

// Submitter accepts work items.
type Submitter interface {
	Submit(it Item, priority bool) *Ticket
}

type job struct {
	item     Item
	priority bool
	tickets  []*Ticket
}

const (
	notQueued = iota
	queuedNormal
	queuedPriority
)

// slot tracks one path: at most one running job and one pending job. The
// pending job absorbs every notification that arrives while it waits.
type slot struct {
	running bool
	pending *job
	queued  int
}

// Scheduler serializes work per path and runs different paths concurrently
// on a fixed pool of workers. Priority items are dequeued first.
type Scheduler struct {
	engine  *Engine
	workers int
	logger  *slog.Logger

	mu       sync.Mutex
	slots    map[string]*slot
	priority []string
	normal   []string
	stopped  bool
	wake     chan struct{}
}

// NewScheduler creates a scheduler running engine work on workers goroutines.
func NewScheduler(engine *Engine, workers int, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		engine:  engine,
		workers: workers,
		logger:  logger,
		slots:   make(map[string]*slot),
		wake:    make(chan struct{}, workers),
	}
}

// Submit queues it. If a job for the same path is already waiting, it is
// replaced by it (newest wins) and both submitters share the result. A rename
// source on the waiting job is kept when the newer reparse has none.
func (s *Scheduler) Submit(it Item, priority bool) *Ticket {
	t := newTicket()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		t.err = ErrStopped
		close(t.done)
		return t
	}

	sl := s.slots[it.Path]
	if sl == nil {
		sl = &slot{}
		s.slots[it.Path] = sl
	}
	if p := sl.pending; p != nil {
		if it.From == "" && it.Op == OpReparse && p.item.Op == OpReparse {
			it.From = p.item.From
		}
		p.item = it
		p.tickets = append(p.tickets, t)
		if priority && !p.priority {
			p.priority = true
			if sl.queued == queuedNormal {
				s.enqueue(it.Path, sl, true)
			}
		}
		return t
	}

	sl.pending = &job{item: it, priority: priority, tickets: []*Ticket{t}}
	if !sl.running {
		s.enqueue(it.Path, sl, priority)
	}
	return t
}

// enqueue must be called with s.mu held.
func (s *Scheduler) enqueue(path string, sl *slot, priority bool) {
	if priority {
		s.priority = append(s.priority, path)
		sl.queued = queuedPriority
	} else {
		s.normal = append(s.normal, path)
		sl.queued = queuedNormal
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the next runnable job, skipping queue entries superseded by a
// promotion.
func (s *Scheduler) next() (string, *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.priority) > 0 {
		path := s.priority[0]
		s.priority = s.priority[1:]
		if j := s.take(path, queuedPriority); j != nil {
			return path, j
		}
	}
	for len(s.normal) > 0 {
		path := s.normal[0]
		s.normal = s.normal[1:]
		if j := s.take(path, queuedNormal); j != nil {
			return path, j
		}
	}
	return "", nil
}

func (s *Scheduler) take(path string, from int) *job {
	sl := s.slots[path]
	if sl == nil || sl.queued != from || sl.running || sl.pending == nil {
		return nil
	}
	j := sl.pending
	sl.pending = nil
	sl.queued = notQueued
	sl.running = true
	return j
}

func (s *Scheduler) finish(path string, j *job, c graph.Commit, err error) {
	s.mu.Lock()
	sl := s.slots[path]
	sl.running = false
	if sl.pending != nil {
		s.enqueue(path, sl, sl.pending.priority)
	} else {
		delete(s.slots, path)
	}
	s.mu.Unlock()

	for _, t := range j.tickets {
		t.commit, t.err = c, err
		close(t.done)
	}
}

// Run starts the workers and blocks until ctx is cancelled. Jobs still
// waiting at shutdown fail with ErrStopped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler: started", slog.Int("workers", s.workers))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			s.work(gctx)
			return nil
		})
	}
	err := g.Wait()
	s.shutdown()
	s.logger.Info("scheduler: stopped")
	return err
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		path, j := s.next()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		c, err := s.engine.Do(ctx, j.item)
		if err != nil {
			s.logger.Warn("scheduler: item failed",
				slog.String("path", path),
				slog.String("op", j.item.Op.String()),
				slog.String("error", err.Error()))
		}
		s.finish(path, j, c, err)
	}
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, sl := range s.slots {
		if sl.pending == nil {
			continue
		}
		for _, t := range sl.pending.tickets {
			t.err = ErrStopped
			close(t.done)
		}
		sl.pending = nil
	}
	s.priority, s.normal = nil, nil
}
