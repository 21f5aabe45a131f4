package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Result tells the driver when to resume a task. A zero Wait resumes it on
// the next tick.
type Result struct {
	Wait time.Duration
}

// Task is a restartable unit of work. Step must do a bounded amount of work
// and return.
type Task interface {
	Step(now time.Time) Result
}

type TaskFunc func(now time.Time) Result

func (f TaskFunc) Step(now time.Time) Result { return f(now) }

type entry struct {
	name     string
	task     Task
	resumeAt time.Time
}

// Driver resumes its tasks cooperatively from a single goroutine, one step
// per task per tick.
type Driver struct {
	interval time.Duration
	log      zerolog.Logger
	tasks    []*entry
}

func NewDriver(tickRateHz int, log zerolog.Logger) *Driver {
	if tickRateHz <= 0 {
		tickRateHz = 10
	}
	return &Driver{
		interval: time.Second / time.Duration(tickRateHz),
		log:      log,
	}
}

// Add registers a task. Not safe to call once Run has started.
func (d *Driver) Add(name string, t Task) {
	d.tasks = append(d.tasks, &entry{name: name, task: t})
}

func (d *Driver) Interval() time.Duration { return d.interval }

// Run drives the tasks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", d.interval).Int("tasks", len(d.tasks)).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			d.tick(now)
		}
	}
}

func (d *Driver) tick(now time.Time) {
	for _, e := range d.tasks {
		if now.Before(e.resumeAt) {
			continue
		}
		r := e.task.Step(now)
		if r.Wait > 0 {
			e.resumeAt = now.Add(r.Wait)
			d.log.Debug().Str("task", e.name).Dur("wait", r.Wait).Msg("task suspended")
		}
	}
}
