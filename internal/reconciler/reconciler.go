package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"dbmflow/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Task is one named periodic job. A tick that fires while the previous
// run is still going is dropped, never queued.
type Task struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error

	running atomic.Bool
	lastRun time.Time
}

// Reconciler schedules named tasks on cron specs. It polls rather than
// sleeping per task so a wall-clock jump cannot starve anything.
type Reconciler struct {
	PollInterval time.Duration
	Now          func() time.Time
	Parser       *cron.Parser

	tasks []*Task
}

func New() *Reconciler {
	return &Reconciler{}
}

func (r *Reconciler) Add(name, cronSpec string, fn func(ctx context.Context) error) {
	r.tasks = append(r.tasks, &Task{Name: name, Cron: cronSpec, Run: fn})
}

// TaskNames lists registered tasks in registration order.
func (r *Reconciler) TaskNames() []string {
	names := make([]string, 0, len(r.tasks))
	for _, t := range r.tasks {
		names = append(names, t.Name)
	}
	return names
}

func (r *Reconciler) defaults() {
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Parser == nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		r.Parser = &parser
	}
	if r.PollInterval <= 0 {
		r.PollInterval = 15 * time.Second
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(r.tasks) == 0 {
		return errors.New("no tasks registered")
	}
	r.defaults()
	if _, err := r.RunOnce(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// RunOnce fires every due task. Tasks run in their own goroutine; a
// task still running from a previous tick is dropped and counted.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	r.defaults()
	now := r.Now().UTC()
	fired := 0
	for _, task := range r.tasks {
		spec, err := r.Parser.Parse(strings.TrimSpace(task.Cron))
		if err != nil {
			return fired, err
		}
		last := task.lastRun
		if last.IsZero() {
			// First poll schedules from now, not from epoch.
			task.lastRun = now
			continue
		}
		if spec.Next(last).After(now) {
			continue
		}
		task.lastRun = now
		if !task.running.CompareAndSwap(false, true) {
			slog.Warn("reconciler task still running, dropping tick", "task", task.Name)
			metrics.ReconcilerRunsTotal.WithLabelValues(task.Name, "dropped").Inc()
			continue
		}
		fired++
		go func(task *Task) {
			defer task.running.Store(false)
			if err := task.Run(ctx); err != nil {
				slog.Error("reconciler task failed", "task", task.Name, "error", err)
				metrics.ReconcilerRunsTotal.WithLabelValues(task.Name, "error").Inc()
				return
			}
			metrics.ReconcilerRunsTotal.WithLabelValues(task.Name, "ok").Inc()
		}(task)
	}
	return fired, nil
}
