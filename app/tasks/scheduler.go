package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/content-comb/app/metrics"
)

var (
	ErrUnknownTask  = errors.New("unknown task type")
	ErrTaskInFlight = errors.New("task of this type is already queued or running")
	ErrQueueFull    = errors.New("task queue is full")
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Config struct {
	WorkerCount    int
	QueueSize      int
	TaskTimeout    time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Location       *time.Location
}

// Builder creates a fresh task for one tick.
type Builder func(trigger string) TaskInterface

// Scheduler runs registered tasks on cron schedules or on demand through a
// fixed pool of workers. At most one task of each type is queued or running
// at a time, retries included.
type Scheduler struct {
	cfg       Config
	cron      *cron.Cron
	builders  map[TaskType]Builder
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface

	mu       sync.Mutex
	inFlight map[TaskType]bool
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		builders:  make(map[TaskType]Builder),
		ctx:       ctx,
		cancel:    cancel,
		taskQueue: make(chan TaskInterface, cfg.QueueSize),
		inFlight:  make(map[TaskType]bool),
	}
}

// Register makes taskType available to Trigger and, when spec is not empty,
// enqueues it on that cron schedule.
func (s *Scheduler) Register(taskType TaskType, spec string, build Builder) error {
	s.builders[taskType] = build
	if spec == "" {
		return nil
	}

	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.enqueueNew(taskType, TriggerCron); err != nil {
			if errors.Is(err, ErrTaskInFlight) {
				slog.Info("Previous tick still in flight, skipping", "type", string(taskType))
				return
			}
			slog.Warn("Failed to enqueue scheduled task", "type", string(taskType), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, taskType, err)
	}

	slog.Debug("Task registered", "type", string(taskType), "schedule", spec)
	return nil
}

func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.cron.Start()
	slog.Info("Task scheduler started", "workers", s.cfg.WorkerCount, "entries", len(s.cron.Entries()))
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
	slog.Info("Task scheduler stopped")
}

// Trigger enqueues a task of the given type outside its schedule and returns
// the new task id.
func (s *Scheduler) Trigger(taskType TaskType) (string, error) {
	return s.enqueueNew(taskType, TriggerManual)
}

// EnqueueTask hands task to the workers. Callers outside the scheduler should
// prefer Trigger, which also applies the in-flight guard.
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) enqueueNew(taskType TaskType, trigger string) (string, error) {
	build, ok := s.builders[taskType]
	if !ok {
		return "", ErrUnknownTask
	}
	if err := s.claim(taskType); err != nil {
		return "", err
	}

	task := build(trigger)
	if err := s.EnqueueTask(task); err != nil {
		s.release(taskType)
		return "", err
	}
	return task.GetID(), nil
}

func (s *Scheduler) claim(taskType TaskType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[taskType] {
		return ErrTaskInFlight
	}
	s.inFlight[taskType] = true
	return nil
}

func (s *Scheduler) release(taskType TaskType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, taskType)
}

// InFlight reports whether a task of taskType is queued, running or waiting
// to be retried.
func (s *Scheduler) InFlight(taskType TaskType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[taskType]
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()
	taskType := string(task.GetType())

	taskCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TaskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	metrics.TaskDuration.WithLabelValues(taskType).Observe(task.GetDuration().Seconds())

	if err == nil {
		metrics.TaskRuns.WithLabelValues(taskType, "success").Inc()
		slog.Debug("Task completed", "worker_id", workerID, "type", taskType, "id", task.GetID(), "duration", task.GetDuration().String())
		s.release(task.GetType())
		return
	}

	metrics.TaskRuns.WithLabelValues(taskType, "error").Inc()
	slog.Error("Worker task execution failed", "worker_id", workerID, "type", taskType, "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		if task.GetMaxRetries() > 0 {
			slog.Error("Task failed after maximum retries", "type", taskType, "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
		s.release(task.GetType())
		return
	}

	task.IncrementRetryCount()
	retryDelay := s.cfg.RetryBaseDelay << uint(task.GetRetryCount()-1)
	if retryDelay > s.cfg.RetryMaxDelay {
		retryDelay = s.cfg.RetryMaxDelay
	}

	slog.Warn("Task retry scheduled", "type", taskType, "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(retryDelay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", taskType, "id", task.GetID())
			s.release(task.GetType())
		case <-timer.C:
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				slog.Error("Failed to re-enqueue task for retry", "type", taskType, "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
				s.release(task.GetType())
			}
		}
	}()
}
