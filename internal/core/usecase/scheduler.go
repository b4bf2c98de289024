package usecase

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Lane is a concurrency class for tasks.
type Lane struct {
	Name  string
	Limit int64
	// ReleaseOnApply holds a slot until the task's result has been applied in
	// submission order, so the next task of the lane always sees the record
	// produced by the previous one.
	ReleaseOnApply bool
}

const (
	LaneIdentification = "identification"
	LaneDocuments      = "documents"
)

// DefaultLanes runs identification pages strictly one after another and
// everything else two at a time.
func DefaultLanes(identificationLimit, documentLimit int64) []Lane {
	if identificationLimit <= 0 {
		identificationLimit = 1
	}
	if documentLimit <= 0 {
		documentLimit = 2
	}
	return []Lane{
		{Name: LaneIdentification, Limit: identificationLimit, ReleaseOnApply: true},
		{Name: LaneDocuments, Limit: documentLimit},
	}
}

type Task struct {
	Lane string
}

// Dispatch runs exec once per task and feeds results to apply in task order.
// Tasks of one lane start in submission order with at most Limit in flight.
// exec runs without locks; apply calls never overlap. When ctx is cancelled
// no further task starts; Dispatch still waits for in-flight calls and
// returns the context error.
func Dispatch[T any](
	ctx context.Context,
	lanes []Lane,
	tasks []Task,
	exec func(ctx context.Context, index int, task Task) T,
	apply func(index int, task Task, value T),
) error {
	if len(tasks) == 0 {
		return nil
	}
	byName := make(map[string]Lane, len(lanes))
	sems := make(map[string]*semaphore.Weighted, len(lanes))
	for _, lane := range lanes {
		if lane.Limit <= 0 {
			lane.Limit = 1
		}
		byName[lane.Name] = lane
		sems[lane.Name] = semaphore.NewWeighted(lane.Limit)
	}
	fallback := Lane{Name: "default", Limit: 1}
	if len(lanes) > 0 {
		fallback = byName[lanes[len(lanes)-1].Name]
	} else {
		sems[fallback.Name] = semaphore.NewWeighted(1)
	}
	laneOf := func(t Task) Lane {
		if lane, ok := byName[t.Lane]; ok {
			return lane
		}
		return fallback
	}

	queues := make(map[string][]int)
	var order []string
	for i, t := range tasks {
		name := laneOf(t).Name
		if _, seen := queues[name]; !seen {
			order = append(order, name)
		}
		queues[name] = append(queues[name], i)
	}

	buffer := NewReorderBuffer(func(index int, value T) {
		task := tasks[index]
		apply(index, task, value)
		if lane := laneOf(task); lane.ReleaseOnApply {
			sems[lane.Name].Release(1)
		}
	})

	var inflight sync.WaitGroup
	var g errgroup.Group
	for _, name := range order {
		lane := byName[name]
		if lane.Name == "" {
			lane = fallback
		}
		sem := sems[lane.Name]
		indexes := queues[name]
		g.Go(func() error {
			for _, index := range indexes {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				inflight.Add(1)
				go func() {
					defer inflight.Done()
					value := exec(ctx, index, tasks[index])
					if !lane.ReleaseOnApply {
						sem.Release(1)
					}
					buffer.Complete(index, value)
				}()
			}
			return nil
		})
	}

	err := g.Wait()
	inflight.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}
