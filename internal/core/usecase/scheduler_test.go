package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type laneProbe struct {
	mu      sync.Mutex
	current map[string]int
	peak    map[string]int
}

func newLaneProbe() *laneProbe {
	return &laneProbe{current: map[string]int{}, peak: map[string]int{}}
}

func (p *laneProbe) enter(lane string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current[lane]++
	if p.current[lane] > p.peak[lane] {
		p.peak[lane] = p.current[lane]
	}
}

func (p *laneProbe) leave(lane string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current[lane]--
}

func TestDispatchRespectsLaneLimitsAndOrder(t *testing.T) {
	tasks := []Task{
		{Lane: LaneDocuments}, {Lane: LaneIdentification}, {Lane: LaneDocuments},
		{Lane: LaneDocuments}, {Lane: LaneIdentification}, {Lane: LaneDocuments},
		{Lane: LaneIdentification}, {Lane: LaneDocuments},
	}
	probe := newLaneProbe()
	var applied []int

	err := Dispatch(context.Background(), DefaultLanes(1, 2), tasks,
		func(ctx context.Context, index int, task Task) int {
			probe.enter(task.Lane)
			defer probe.leave(task.Lane)
			// Later tasks finish first to exercise reordering.
			time.Sleep(time.Duration(len(tasks)-index) * 2 * time.Millisecond)
			return index
		},
		func(index int, task Task, value int) {
			if value != index {
				t.Errorf("value %d delivered for index %d", value, index)
			}
			applied = append(applied, index)
		},
	)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if probe.peak[LaneIdentification] != 1 {
		t.Fatalf("expected identification lane sequential, peak=%d", probe.peak[LaneIdentification])
	}
	if probe.peak[LaneDocuments] > 2 {
		t.Fatalf("expected document lane capped at 2, peak=%d", probe.peak[LaneDocuments])
	}
	for i, idx := range applied {
		if i != idx {
			t.Fatalf("expected submission order, got %v", applied)
		}
	}
	if len(applied) != len(tasks) {
		t.Fatalf("expected %d applied, got %d", len(tasks), len(applied))
	}
}

func TestDispatchIdentificationWaitsForPreviousApply(t *testing.T) {
	tasks := []Task{{Lane: LaneIdentification}, {Lane: LaneIdentification}}
	var appliedFirst atomic.Bool
	var sawApplied atomic.Bool

	err := Dispatch(context.Background(), DefaultLanes(1, 2), tasks,
		func(ctx context.Context, index int, task Task) int {
			if index == 1 {
				sawApplied.Store(appliedFirst.Load())
			}
			return index
		},
		func(index int, task Task, value int) {
			if index == 0 {
				time.Sleep(5 * time.Millisecond)
				appliedFirst.Store(true)
			}
		},
	)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !sawApplied.Load() {
		t.Fatalf("expected second identification to start after the first was applied")
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tasks := []Task{{Lane: LaneIdentification}, {Lane: LaneIdentification}, {Lane: LaneIdentification}}
	var started atomic.Int32

	err := Dispatch(ctx, DefaultLanes(1, 2), tasks,
		func(ctx context.Context, index int, task Task) int {
			started.Add(1)
			cancel()
			<-ctx.Done()
			return index
		},
		func(index int, task Task, value int) {},
	)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if started.Load() != 1 {
		t.Fatalf("expected no task to start after cancel, started=%d", started.Load())
	}
}
