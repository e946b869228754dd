// Package scheduler runs periodic maintenance tasks in the background:
// confidence decay, reminder expiry, and routine-window expiry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Scheduler manages scheduled tasks.
type Scheduler struct {
	tasks    map[string]*Task
	running  map[string]context.CancelFunc
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	timezone *time.Location
}

// Config configures the scheduler.
type Config struct {
	Timezone string // default: UTC
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Timezone: "UTC"}
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		tz = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		tasks:    make(map[string]*Task),
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
		timezone: tz,
	}, nil
}

// Task represents a scheduled task.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Handler     TaskHandler
	Enabled     bool
	LastRun     *time.Time
	NextRun     *time.Time
	RunCount    int64
	ErrorCount  int64
	LastError   string
	CreatedAt   time.Time
	Timeout     time.Duration
}

// TaskHandler is the function executed for a task.
type TaskHandler func(ctx context.Context) error

// Schedule defines when a task runs.
type Schedule struct {
	Type     ScheduleType
	Interval time.Duration
}

// ScheduleType distinguishes the supported schedule kinds. The maintenance
// tasks this engine drives are all interval-based, so interval is the only
// kind defined.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
)

// Register adds a task to the scheduler.
func (s *Scheduler) Register(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}
	if task.Timeout == 0 {
		task.Timeout = 5 * time.Minute
	}

	task.CreatedAt = time.Now()
	task.Enabled = true

	nextRun := s.calculateNextRun(task.Schedule)
	task.NextRun = &nextRun

	s.tasks[task.ID] = task

	if s.started {
		s.startTask(task)
	}
	return nil
}

// Unregister removes a task from the scheduler.
func (s *Scheduler) Unregister(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[taskID]; ok {
		cancel()
		delete(s.running, taskID)
	}
	delete(s.tasks, taskID)
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	for _, task := range s.tasks {
		if task.Enabled {
			s.startTask(task)
		}
	}
	return nil
}

// Stop stops the scheduler, waiting for in-flight task runs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()

	for _, cancel := range s.running {
		cancel()
	}
	s.running = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	// Wait without holding s.mu: running task loops take it to finish.
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return nil
}

func (s *Scheduler) startTask(task *Task) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.running[task.ID] = cancel

	s.wg.Add(1)
	go s.runTaskLoop(taskCtx, task)
}

func (s *Scheduler) runTaskLoop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	for {
		s.mu.RLock()
		var waitDuration time.Duration
		if task.NextRun != nil {
			waitDuration = time.Until(*task.NextRun)
		} else {
			waitDuration = s.calculateNextRun(task.Schedule).Sub(time.Now())
		}
		s.mu.RUnlock()

		if waitDuration < 0 {
			waitDuration = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(waitDuration):
			s.executeTask(ctx, task)
		}
	}
}

func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	execCtx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	now := time.Now()
	s.mu.Lock()
	task.LastRun = &now
	task.RunCount++
	s.mu.Unlock()

	err := task.Handler(execCtx)

	s.mu.Lock()
	if err != nil {
		task.ErrorCount++
		task.LastError = err.Error()
	} else {
		task.LastError = ""
	}
	nextRun := s.calculateNextRun(task.Schedule)
	task.NextRun = &nextRun
	s.mu.Unlock()
}

func (s *Scheduler) calculateNextRun(schedule Schedule) time.Time {
	now := time.Now().In(s.timezone)
	switch schedule.Type {
	case ScheduleInterval:
		return now.Add(schedule.Interval)
	default:
		return now.Add(time.Hour)
	}
}

// RunNow executes a task immediately, out of band with its schedule.
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	go s.executeTask(s.ctx, task)
	return nil
}

// GetTask returns a task by ID.
func (s *Scheduler) GetTask(taskID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	return task, ok
}

// ListTasks returns every registered task.
func (s *Scheduler) ListTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}

// IntervalTask creates a task that runs at a fixed interval.
func IntervalTask(id, name string, interval time.Duration, handler TaskHandler) *Task {
	return &Task{
		ID:       id,
		Name:     name,
		Schedule: Schedule{Type: ScheduleInterval, Interval: interval},
		Handler:  handler,
	}
}
