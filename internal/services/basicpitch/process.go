package basicpitch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process abstracts a running worker subprocess for testability.
type Process interface {
	// WriteLine writes one protocol line (newline appended) to stdin.
	WriteLine(line string) error
	// Stdout yields stdout lines until the stream closes.
	Stdout() <-chan string
	// Stderr yields stderr lines until the stream closes.
	Stderr() <-chan string
	// Done is closed after the process has exited and both output
	// streams are drained.
	Done() <-chan struct{}
	// ExitCode is valid once Done is closed.
	ExitCode() int
	// Pid returns the worker process id, or 0 when unknown.
	Pid() int
	// Kill force-terminates the process group.
	Kill() error
}

// Launcher spawns worker processes. Tests inject a stub implementation.
type Launcher interface {
	Launch(ctx context.Context, binary string, args []string) (Process, error)
}

// NewLauncher returns the production launcher backed by os/exec.
func NewLauncher() Launcher {
	return execLauncher{}
}

type execLauncher struct{}

func (execLauncher) Launch(ctx context.Context, binary string, args []string) (Process, error) {
	cmd := exec.Command(binary, args...) //nolint:gosec
	// Own process group so a force kill reaps worker children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

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
		return nil, fmt.Errorf("start worker: %w", err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		outCh:  make(chan string, 64),
		errCh:  make(chan string, 64),
		doneCh: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go p.scan(stdout, p.outCh, &wg)
	go p.scan(stderr, p.errCh, &wg)

	go func() {
		wg.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.exitCode = exitCodeFrom(err)
		p.mu.Unlock()
		close(p.doneCh)
	}()

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	outCh  chan string
	errCh  chan string
	doneCh chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) scan(r io.Reader, ch chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(ch)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ch <- scanner.Text()
	}
}

func (p *execProcess) WriteLine(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write worker stdin: %w", err)
	}
	return nil
}

func (p *execProcess) Stdout() <-chan string { return p.outCh }

func (p *execProcess) Stderr() <-chan string { return p.errCh }

func (p *execProcess) Done() <-chan struct{} { return p.doneCh }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	pid := p.cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
