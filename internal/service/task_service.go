package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"saasloader/internal/config"
	"saasloader/internal/domain"
	"saasloader/internal/etl"
	"saasloader/internal/etl/sources"
	"saasloader/internal/mail"
	"saasloader/internal/metrics"
	"saasloader/internal/operators"
)

// Run triggers recorded in the run log.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerFile     = "file_watch"
	TriggerMCP      = "mcp"
)

// ErrAlreadyRunning is returned when a task is started while a previous run
// of it is still in flight.
var ErrAlreadyRunning = errors.New("task is already running")

// watchDebounce collapses bursts of file events into one run.
const watchDebounce = 500 * time.Millisecond

// ─────────────────────────────────────────────────────────────
// Task Service: runs configured tasks and keeps their history
// ─────────────────────────────────────────────────────────────

// Options wires a TaskService. Config and Store are required.
type Options struct {
	Config  *config.Config
	Store   domain.TaskRunStore
	Emitter EventEmitter
	Metrics *metrics.Collector
	Logger  *slog.Logger
	Locker  etl.TableLocker
	Mailer  mail.Sender
	// Resources opens the per-run connection pool. Defaults to real
	// connections resolved from Config.
	Resources func() RunResources
	Now       func() time.Time
}

type TaskService struct {
	cfg       *config.Config
	store     domain.TaskRunStore
	emitter   EventEmitter
	metrics   *metrics.Collector
	logger    *slog.Logger
	locker    etl.TableLocker
	mailer    mail.Sender
	resources func() RunResources
	now       func() time.Time

	running runningGuard

	// watcher / cron lifecycle
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

func NewTaskService(opts Options) *TaskService {
	s := &TaskService{
		cfg:       opts.Config,
		store:     opts.Store,
		emitter:   opts.Emitter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		locker:    opts.Locker,
		mailer:    opts.Mailer,
		resources: opts.Resources,
		now:       opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.emitter == nil {
		s.emitter = &LogEmitter{Logger: s.logger}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.resources == nil {
		s.resources = func() RunResources { return newPool(s.cfg, s.logger) }
		provider := &sourceProvider{conns: s.cfg, logger: s.logger}
		sources.SetDBProvider(provider)
		sources.SetObjectStoreProvider(provider)
	}
	return s
}

// ── Queries ────────────────────────────────────────────────

// TaskInfo is a configured task with its last known status.
type TaskInfo struct {
	config.Task
	Status *domain.TaskStatus `json:"status,omitempty"`
}

// ListTasks returns the configured tasks in file order.
func (s *TaskService) ListTasks() ([]TaskInfo, error) {
	out := make([]TaskInfo, 0, len(s.cfg.Tasks))
	for _, t := range s.cfg.Tasks {
		st, err := s.store.GetStatus(t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, TaskInfo{Task: t, Status: st})
	}
	return out, nil
}

// ListRuns returns the most recent runs of a task; an empty id lists all.
func (s *TaskService) ListRuns(taskID string, limit int) ([]domain.TaskRun, error) {
	if taskID != "" {
		if _, err := s.cfg.Task(taskID); err != nil {
			return nil, err
		}
	}
	return s.store.ListRuns(taskID, limit)
}

// Running lists the ids of tasks currently executing.
func (s *TaskService) Running() []string {
	ids := s.running.Running()
	sort.Strings(ids)
	return ids
}

// Validate checks the configuration and builds every task's operator so
// parameter errors surface before anything runs.
func (s *TaskService) Validate() error {
	errs := []error{s.cfg.Validate()}
	for _, t := range s.cfg.Tasks {
		if t.Operator == "" {
			continue
		}
		if _, err := operators.New(t.Operator, t.Params); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
		}
		if t.Schedule != "" {
			if _, err := cron.ParseStandard(t.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("task %s: schedule %q: %w", t.ID, t.Schedule, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ── Run ────────────────────────────────────────────────────

// RunTask executes one task synchronously, records its status and run log,
// emits task:completed or task:failed and observes metrics. The returned
// run is recorded even when the error is non-nil, except for unknown tasks
// and ErrAlreadyRunning.
func (s *TaskService) RunTask(ctx context.Context, taskID, trigger string) (*domain.TaskRun, error) {
	task, err := s.cfg.Task(taskID)
	if err != nil {
		return nil, err
	}
	if !s.running.TryLock(taskID) {
		return nil, fmt.Errorf("%s: %w", taskID, ErrAlreadyRunning)
	}
	defer s.running.Unlock(taskID)

	log := s.logger.With("task", taskID, "operator", task.Operator)
	run := &domain.TaskRun{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Operator:  task.Operator,
		Trigger:   trigger,
		StartedAt: s.now(),
		Status:    domain.StatusRunning,
	}
	if err := s.store.SetStatus(taskID, domain.StatusRunning, ""); err != nil {
		log.Warn("record status failed", "error", err)
	}
	log.Info("task started", "trigger", trigger)

	result, runErr := s.execute(ctx, task, log)

	run.FinishedAt = s.now()
	run.Status = domain.StatusSuccess
	if result != nil {
		run.RowsRead = result.RowsRead
		run.RowsWritten = result.RowsWritten
		run.Tables = result.Tables
	}
	if runErr != nil {
		run.Status = domain.StatusError
		run.Error = runErr.Error()
	}

	if err := s.store.CreateRun(run); err != nil {
		log.Warn("record run failed", "error", err)
	}
	if err := s.store.SetStatus(taskID, run.Status, run.Error); err != nil {
		log.Warn("record status failed", "error", err)
	}
	s.metrics.RecordRun(taskID, task.Operator, run.Status, run.Duration(), run.Tables)

	if runErr != nil {
		log.Error("task failed", "error", runErr, "duration", run.Duration())
		s.emitter.Emit(ctx, EventTaskFailed, run)
		return run, runErr
	}
	log.Info("task completed", "read", run.RowsRead, "written", run.RowsWritten,
		"skipped", result != nil && result.Skipped, "duration", run.Duration())
	s.emitter.Emit(ctx, EventTaskCompleted, run)
	return run, nil
}

func (s *TaskService) execute(ctx context.Context, task *config.Task, log *slog.Logger) (*operators.Result, error) {
	op, err := operators.New(task.Operator, task.Params)
	if err != nil {
		return nil, err
	}

	res := s.resources()
	defer func() {
		if err := res.Close(); err != nil {
			log.Warn("release connections", "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, task.EffectiveTimeout())
	defer cancel()

	env := &operators.Env{
		Logger:      log,
		Connections: s.cfg,
		Resources:   res,
		Locker:      s.locker,
		Mailer:      s.mailer,
		Now:         s.now,
	}
	result, err := op.Run(runCtx, env)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("timed out after %s: %w", task.EffectiveTimeout(), err)
	}
	return result, err
}

// ── Triggers (cron + file_watch) ──────────────────────────

// Start schedules cron tasks and watches the files of file-watch tasks.
// Runs triggered here use ctx; cancel it (or call Stop) to stop triggering.
func (s *TaskService) Start(ctx context.Context) error {
	s.Stop()

	c := cron.New()
	scheduled := 0
	for _, t := range s.cfg.Tasks {
		if t.Schedule == "" {
			continue
		}
		id := t.ID
		if _, err := c.AddFunc(t.Schedule, func() { s.trigger(ctx, id, TriggerSchedule) }); err != nil {
			return fmt.Errorf("task %s: invalid schedule %q: %w", id, t.Schedule, err)
		}
		scheduled++
	}
	if scheduled > 0 {
		c.Start()
		s.cronSched = c
		s.logger.Info("cron scheduled", "tasks", scheduled)
	}

	pathToTask := map[string]string{}
	for _, t := range s.cfg.Tasks {
		for _, p := range t.Watch {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("task %s: bad watch path %q: %w", t.ID, p, err)
			}
			pathToTask[abs] = t.ID
		}
	}
	if len(pathToTask) == 0 {
		return nil
	}
	return s.watch(ctx, pathToTask)
}

func (s *TaskService) trigger(ctx context.Context, taskID, trigger string) {
	if _, err := s.RunTask(ctx, taskID, trigger); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Warn("previous run still in progress, skipping", "task", taskID, "trigger", trigger)
		}
		// Failures are already logged and recorded by RunTask.
	}
}

func (s *TaskService) watch(ctx context.Context, pathToTask map[string]string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	// Watch directories so files that are replaced (not rewritten) still fire.
	watchedDirs := map[string]bool{}
	for path := range pathToTask {
		dir := filepath.Dir(path)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	go func() {
		timers := map[string]*time.Timer{}
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				abs, _ := filepath.Abs(event.Name)
				taskID, ok := pathToTask[abs]
				if !ok {
					continue
				}
				if t, exists := timers[taskID]; exists {
					t.Stop()
				}
				timers[taskID] = time.AfterFunc(watchDebounce, func() {
					s.logger.Info("watched file changed", "task", taskID, "path", abs)
					s.trigger(watchCtx, taskID, TriggerFile)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("file watcher", "error", err)
			}
		}
	}()

	s.logger.Info("watching files", "files", len(pathToTask))
	return nil
}

// WaitRunning blocks until all running tasks finish or ctx is cancelled.
func (s *TaskService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// Stop tears down the scheduler and watchers. Runs in flight continue.
func (s *TaskService) Stop() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
