// Package process provides process lifecycle and signal utilities
package process

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/logger"
)

// DefaultGracePeriod is how long a terminated build gets before it is killed
const DefaultGracePeriod = 5 * time.Second

// Manager turns OS signals into context cancellation and runs shutdown
// handlers in reverse registration order.
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
	stop             chan struct{}
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		logger:           log,
		shutdownHandlers: make([]func(), 0),
	}
}

// RegisterShutdownHandler adds a shutdown handler
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// Start returns a context that is cancelled on SIGINT, SIGTERM or SIGHUP,
// or when parent is done. A second signal exits the process immediately.
func (m *Manager) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		cancel()
		return ctx
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)
		defer cancel()

		select {
		case <-ctx.Done():
			m.handleShutdown()
			return
		case <-stop:
			return
		case sig := <-sigChan:
			m.logger.Warn("Received signal, stopping after in-flight builds are terminated",
				logger.WithField("signal", sig))
			cancel()
			m.handleShutdown()
		}

		select {
		case <-stop:
		case sig := <-sigChan:
			m.logger.Error("Received second signal, exiting", logger.WithField("signal", sig))
			os.Exit(130)
		}
	}()

	return ctx
}

// Stop releases the signal handler
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

// Bind makes cmd run in its own process group and, once its context is
// cancelled, sends SIGTERM to the whole group followed by SIGKILL after
// grace. The build command spawns compilers, so signalling only the direct
// child would leave them running.
func Bind(cmd *exec.Cmd, grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pid := cmd.Process.Pid
		if err := signalGroup(pid, syscall.SIGTERM); err != nil {
			return cmd.Process.Kill()
		}
		time.AfterFunc(grace, func() {
			_ = signalGroup(pid, syscall.SIGKILL)
		})
		return nil
	}
	cmd.WaitDelay = grace + time.Second
}
