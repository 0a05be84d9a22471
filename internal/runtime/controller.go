// Package runtime owns the process-wide task controller and runtime
// context: the set of background goroutines every actor's poll/handle
// loop runs inside, signal-driven termination, and the exit-code
// convention (EXIT vs RESTART) main uses to decide whether to re-exec.
package runtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Action is the outcome RunUntilTermination reports, telling main whether
// the process should simply exit or restart (e.g. after a config reload
// request).
type Action int

const (
	// EXIT means terminate the process with status 0.
	EXIT Action = iota
	// RESTART means terminate with status 2, a convention main maps to
	// re-exec under a process supervisor.
	RESTART
)

// ExitCode maps an Action to the process exit status.
func (a Action) ExitCode() int {
	if a == RESTART {
		return 2
	}
	return 0
}

func (a Action) String() string {
	if a == RESTART {
		return "RESTART"
	}
	return "EXIT"
}

// TaskInfo optionally describes a task for diagnostics (surfaced through
// future /healthz-style introspection).
type TaskInfo struct {
	Name      string
	EntityRef string
}

type taskRecord struct {
	id   string
	info TaskInfo
	done chan struct{}
	err  error
}

// Controller owns every background task (one per Monitor entity's poll
// loop, one per Action's consumer, housekeeping jobs, ...), supervises
// their exceptions, and implements the termination protocol signal
// handling drives.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*taskRecord
	wg    sync.WaitGroup

	termOnce sync.Once
	termCh   chan Action
}

// NewController builds a Controller whose context is canceled by
// Terminate/TerminateAfter or by signal delivery once
// InstallSignalHandler is called.
func NewController(logger zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "runtime").Logger(),
		tasks:  make(map[string]*taskRecord),
		termCh: make(chan Action, 1),
	}
}

// Context returns the controller's root context. Every task function
// should select on it and return promptly once it's canceled.
func (c *Controller) Context() context.Context { return c.ctx }

// CreateTask registers and starts fn as a new background task. fn must
// return once ctx is canceled. A panic inside fn is recovered, logged,
// and recorded as the task's error rather than crashing the process: a
// per-entity background task that dies is not restarted automatically,
// its death is logged, and other entities/actors continue running.
func (c *Controller) CreateTask(name string, info TaskInfo, fn func(ctx context.Context) error) string {
	id := uuid.NewString()
	rec := &taskRecord{id: id, info: info, done: make(chan struct{})}

	c.mu.Lock()
	c.tasks[id] = rec
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(rec.done)
		defer func() {
			if r := recover(); r != nil {
				rec.err = fmt.Errorf("task %q panicked: %v", name, r)
				c.logger.Error().Str("task", name).Interface("panic", r).Msg("background task panicked")
			}
		}()

		if err := fn(c.ctx); err != nil && c.ctx.Err() == nil {
			rec.err = err
			c.logger.Error().Str("task", name).Err(err).Msg("background task exited with error")
		}
	}()

	return id
}

// MonitorTasks blocks until ctx is canceled. It does not inspect the
// tasks itself: each CreateTask goroutine logs its own error or panic.
// It's meant to run on its own goroutine inside main,
// parallel to CreateTask callers.
func (c *Controller) MonitorTasks(ctx context.Context) {
	<-ctx.Done()
}

// TerminateAfter schedules termination with the given action after
// delay has elapsed (delay=0 terminates immediately). Calling it more
// than once is a no-op after the first call wins.
func (c *Controller) TerminateAfter(delaySeconds float64, action Action) {
	go func() {
		if delaySeconds > 0 {
			timer := time.NewTimer(time.Duration(delaySeconds * float64(time.Second)))
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-c.ctx.Done():
				return
			}
		}
		c.terminate(action)
	}()
}

func (c *Controller) terminate(action Action) {
	c.termOnce.Do(func() {
		c.logger.Info().Str("action", action.String()).Msg("terminating")
		c.cancel()
		c.termCh <- action
	})
}

// CancelAllTasks cancels the root context and waits for every registered
// task to return.
func (c *Controller) CancelAllTasks() {
	c.cancel()
	c.wg.Wait()
}

// RunUntilTermination blocks until TerminateAfter (directly, or via a
// signal handler installed with InstallSignalHandler) fires, then cancels
// every task, waits for them to drain, and returns the requested action.
func (c *Controller) RunUntilTermination() Action {
	action := <-c.termCh
	c.cancel()
	c.wg.Wait()
	return action
}

// InstallSignalHandler arranges for SIGINT/SIGTERM to call
// TerminateAfter(0, EXIT), and returns a restore function that undoes the
// installation — call it once RunUntilTermination returns, mirroring the
// source's "on exit the original handlers are restored" behavior.
func (c *Controller) InstallSignalHandler() (restore func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			c.logger.Info().Str("signal", sig.String()).Msg("received termination signal")
			c.TerminateAfter(0, EXIT)
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(sigCh)
	}
}
