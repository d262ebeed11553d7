package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestScheduler_SerializesPerPath(t *testing.T) {
	e, fsys := newTestEngine(t)
	for i := 0; i < 4; i++ {
		writeFile(t, fsys, fmt.Sprintf("p%d.wiki", i), "x")
	}
	s := NewScheduler(e, 4, discardLogger())
	runScheduler(t, s)

	var tickets []*Ticket
	for round := 0; round < 20; round++ {
		for i := 0; i < 4; i++ {
			path := fmt.Sprintf("p%d.wiki", i)
			writeFile(t, fsys, path, fmt.Sprintf("round %d", round))
			tickets = append(tickets, s.Submit(Item{Path: path, Op: OpReparse}, round%3 == 0))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, tk := range tickets {
		_, err := tk.Wait(ctx)
		require.NoError(t, err)
	}

	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	for path, n := range fsys.maxPer {
		assert.LessOrEqual(t, n, 1, "concurrent reads of %s", path)
	}
	assert.NoError(t, e.Store().Check())
	assert.Len(t, e.Store().Pages(), 4)
}

func TestScheduler_CoalescesWhileRunning(t *testing.T) {
	e, fsys := newTestEngine(t)
	writeFile(t, fsys, "a.wiki", "v0")
	gate := make(chan struct{})
	fsys.gates["a.wiki"] = gate

	s := NewScheduler(e, 2, discardLogger())
	runScheduler(t, s)

	first := s.Submit(Item{Path: "a.wiki", Op: OpReparse}, false)
	require.Eventually(t, func() bool { return len(fsys.readLog()) == 1 }, 2*time.Second, 5*time.Millisecond)

	var rest []*Ticket
	for i := 0; i < 10; i++ {
		rest = append(rest, s.Submit(Item{Path: "a.wiki", Op: OpReparse}, false))
	}
	writeFile(t, fsys, "a.wiki", "v1")
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := first.Wait(ctx)
	require.NoError(t, err)
	for _, tk := range rest {
		_, err := tk.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Len(t, fsys.readLog(), 2, "ten notifications collapse into one follow-up run")

	page, err := e.Store().PageByPath("a.wiki")
	require.NoError(t, err)
	assert.Equal(t, "v1", page.Text)
}

func TestScheduler_PriorityFirst(t *testing.T) {
	e, fsys := newTestEngine(t)
	for _, p := range []string{"block.wiki", "normal.wiki", "urgent.wiki"} {
		writeFile(t, fsys, p, p)
	}
	gate := make(chan struct{})
	fsys.gates["block.wiki"] = gate

	s := NewScheduler(e, 1, discardLogger())
	runScheduler(t, s)

	blocker := s.Submit(Item{Path: "block.wiki", Op: OpReparse}, false)
	require.Eventually(t, func() bool { return len(fsys.readLog()) == 1 }, 2*time.Second, 5*time.Millisecond)
	normal := s.Submit(Item{Path: "normal.wiki", Op: OpReparse}, false)
	urgent := s.Submit(Item{Path: "urgent.wiki", Op: OpReparse}, true)
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, tk := range []*Ticket{blocker, normal, urgent} {
		_, err := tk.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"block.wiki", "urgent.wiki", "normal.wiki"}, fsys.readLog())
}

func TestScheduler_PromotePendingItem(t *testing.T) {
	e, fsys := newTestEngine(t)
	for _, p := range []string{"block.wiki", "x.wiki", "y.wiki"} {
		writeFile(t, fsys, p, p)
	}
	gate := make(chan struct{})
	fsys.gates["block.wiki"] = gate

	s := NewScheduler(e, 1, discardLogger())
	runScheduler(t, s)

	s.Submit(Item{Path: "block.wiki", Op: OpReparse}, false)
	require.Eventually(t, func() bool { return len(fsys.readLog()) == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Submit(Item{Path: "x.wiki", Op: OpReparse}, false)
	s.Submit(Item{Path: "y.wiki", Op: OpReparse}, false)
	promoted := s.Submit(Item{Path: "y.wiki", Op: OpReparse}, true)
	close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := promoted.Wait(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(fsys.readLog()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"block.wiki", "y.wiki", "x.wiki"}, fsys.readLog())
}

func TestScheduler_StoppedFailsPending(t *testing.T) {
	e, _ := newTestEngine(t)
	s := NewScheduler(e, 1, discardLogger())
	tk := s.Submit(Item{Path: "a.wiki", Op: OpReparse}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.Run(ctx)

	_, err := tk.Wait(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = s.Submit(Item{Path: "b.wiki", Op: OpReparse}, false).Wait(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestScheduler_ScanSerializedWithSubmits(t *testing.T) {
	e, fsys := newTestEngine(t)
	for i := 0; i < 8; i++ {
		writeFile(t, fsys, fmt.Sprintf("p%d.wiki", i), "initial")
	}
	s := NewScheduler(e, 4, discardLogger())
	runScheduler(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scanErr := make(chan error, 1)
	go func() { scanErr <- s.Scan(ctx) }()

	var tickets []*Ticket
	for i := 0; i < 8; i++ {
		path := fmt.Sprintf("p%d.wiki", i)
		writeFile(t, fsys, path, "edited during scan")
		tickets = append(tickets, s.Submit(Item{Path: path, Op: OpReparse}, false))
	}
	require.NoError(t, <-scanErr)
	for _, tk := range tickets {
		_, err := tk.Wait(ctx)
		require.NoError(t, err)
	}

	fsys.mu.Lock()
	for path, n := range fsys.maxPer {
		assert.LessOrEqual(t, n, 1, "concurrent reads of %s", path)
	}
	fsys.mu.Unlock()

	require.Len(t, e.Store().Pages(), 8)
	for _, p := range e.Store().Pages() {
		assert.Equal(t, "edited during scan", p.Text)
	}
	assert.NoError(t, e.Store().Check())
}
