package logic

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrQueueFull = errors.New("logic: queue full")

// Queue has two bounded lanes. Immediate ClientInput goes to its own lane
// and is always drained first; everything else keeps push order, so one
// producer's commands arrive in the order it pushed them.
type Queue struct {
	normal    chan LogicCommand
	immediate chan LogicCommand
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		normal:    make(chan LogicCommand, size),
		immediate: make(chan LogicCommand, size),
	}
}

func (q *Queue) lane(cmd LogicCommand) chan LogicCommand {
	if in, ok := cmd.(*ClientInput); ok && in.Immediate {
		return q.immediate
	}
	return q.normal
}

// Push blocks until there is room or ctx is done.
func (q *Queue) Push(ctx context.Context, cmd LogicCommand) error {
	select {
	case q.lane(cmd) <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush never blocks.
func (q *Queue) TryPush(cmd LogicCommand) error {
	select {
	case q.lane(cmd) <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Next returns the next command, preferring the immediate lane.
func (q *Queue) Next(ctx context.Context) (LogicCommand, error) {
	select {
	case cmd := <-q.immediate:
		return cmd, nil
	default:
	}
	select {
	case cmd := <-q.immediate:
		return cmd, nil
	case cmd := <-q.normal:
		return cmd, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len is the number of queued commands across both lanes.
func (q *Queue) Len() int {
	return len(q.normal) + len(q.immediate)
}

// RunTicker pushes WorldUpdate{1}, {2}, ... every interval until ctx is
// done. A full queue delays the tick rather than dropping it.
func RunTicker(ctx context.Context, q *Queue, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	var tick uint64
	for {
		select {
		case <-t.C:
			tick++
			if err := q.Push(ctx, &WorldUpdate{Tick: tick}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Simulation consumes commands. All calls come from the one goroutine
// running Run.
type Simulation interface {
	CreateWorld(cmd *CreateWorld)
	ClientInput(cmd *ClientInput)
	WorldUpdate(cmd *WorldUpdate)
}

// Run drains q into sim until ctx is done.
func Run(ctx context.Context, q *Queue, sim Simulation) error {
	for {
		cmd, err := q.Next(ctx)
		if err != nil {
			return err
		}
		dispatch(sim, cmd)
	}
}

func dispatch(sim Simulation, cmd LogicCommand) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("command", cmd).Error("simulation panic: ", r)
		}
	}()
	switch c := cmd.(type) {
	case *CreateWorld:
		sim.CreateWorld(c)
	case *ClientInput:
		sim.ClientInput(c)
	case *WorldUpdate:
		sim.WorldUpdate(c)
	}
}
