package module

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/GriffinCanCode/SmartCardConnector/backend/internal/channel"
	"go.uber.org/zap"
)

const defaultGracePeriod = 2 * time.Second

// ProcessBackend runs the backend as a child process speaking
// newline-delimited JSON over stdin and stdout. Stderr lines are logged.
type ProcessBackend struct {
	Path string
	Args []string
	Env  []string
	// GracePeriod bounds how long Terminate waits for a voluntary exit
	// after stdin closes before killing the process.
	GracePeriod time.Duration
	Logger      *zap.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// Launch starts the process.
func (b *ProcessBackend) Launch(ctx context.Context) (channel.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// not CommandContext: the process outlives the launch context
	cmd := exec.Command(b.Path, b.Args...)
	cmd.Env = append(os.Environ(), b.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", b.Path, err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.mu.Unlock()

	logger.Info("backend process started", zap.String("path", b.Path), zap.Int("pid", cmd.Process.Pid))
	go forwardStderr(stderr, logger)

	return channel.NewStreamTransport(stdout, stdin, stdin, stdout), nil
}

// Terminate waits for the process to exit after its stdin closed, killing
// it once the grace period elapses.
func (b *ProcessBackend) Terminate() error {
	b.mu.Lock()
	cmd := b.cmd
	b.cmd = nil
	b.mu.Unlock()
	if cmd == nil {
		return nil
	}

	grace := b.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		return exitError(err)
	case <-time.After(grace):
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill backend: %w", err)
	}
	return exitError(<-exited)
}

// exitError drops the error a killed or nonzero process reports; only
// failures to reap the process matter here.
func exitError(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func forwardStderr(r io.Reader, logger *zap.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		logger.Info("backend", zap.String("stderr", sc.Text()))
	}
}

// ServeFunc runs a backend over t until ctx ends or t closes.
type ServeFunc func(ctx context.Context, t channel.Transport)

// InProcessBackend runs the backend on a goroutine at the far end of an
// in-memory pipe.
type InProcessBackend struct {
	Serve ServeFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	remote channel.Transport
	served chan struct{}
}

// NewInProcessBackend wraps serve.
func NewInProcessBackend(serve ServeFunc) *InProcessBackend {
	return &InProcessBackend{Serve: serve}
}

// Launch starts Serve.
func (b *InProcessBackend) Launch(ctx context.Context) (channel.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Serve == nil {
		return nil, errors.New("in-process backend has no serve function")
	}

	local, remote := channel.Pipe()
	serveCtx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})

	b.mu.Lock()
	b.cancel = cancel
	b.remote = remote
	b.served = served
	b.mu.Unlock()

	go func() {
		defer close(served)
		b.Serve(serveCtx, remote)
	}()
	return local, nil
}

// Terminate cancels Serve and waits for it to return.
func (b *InProcessBackend) Terminate() error {
	b.mu.Lock()
	cancel, remote, served := b.cancel, b.remote, b.served
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	_ = remote.Close()
	<-served
	return nil
}
