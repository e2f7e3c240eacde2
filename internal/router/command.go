package router

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// CommandExecutor runs one prepared command.
// This abstraction enables unit testing without a router on the network.
type CommandExecutor interface {
	// Run waits for the command and returns its stdout. A non-zero exit
	// is reported as a *CommandError carrying stderr.
	Run() ([]byte, error)

	// Stream starts the command and returns its stdout. Closing the
	// stream stops the command.
	Stream() (io.ReadCloser, error)
}

// CommandBuilder creates executors for a command line.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command and returns stdout.
func (r *RealCommandExecutor) Run() ([]byte, error) {
	var stdout, stderr bytes.Buffer
	r.cmd.Stdout = &stdout
	r.cmd.Stderr = &stderr
	err := r.cmd.Run()
	return stdout.Bytes(), exitError(err, &stderr)
}

// Stream starts the command with its stdout attached to the returned
// reader. When the process ends with a non-zero status the reader
// returns a *CommandError instead of io.EOF.
func (r *RealCommandExecutor) Stream() (io.ReadCloser, error) {
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &bytes.Buffer{}
	r.cmd.Stderr = stderr
	if err := r.cmd.Start(); err != nil {
		return nil, err
	}
	return &processStream{ReadCloser: stdout, cmd: r.cmd, stderr: stderr}, nil
}

// RealCommandBuilder implements CommandBuilder using exec.CommandContext.
type RealCommandBuilder struct{}

// NewRealCommandBuilder creates a new RealCommandBuilder.
func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

// BuildCommand creates a CommandExecutor for the given command and arguments.
func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

type processStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer

	once sync.Once
	err  error
}

func (p *processStream) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	if err == io.EOF {
		if werr := p.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close kills the process if it is still running. The exit status of a
// killed process is not an error.
func (p *processStream) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.once.Do(func() { _ = p.cmd.Wait() })
	return nil
}

func (p *processStream) wait() error {
	p.once.Do(func() { p.err = exitError(p.cmd.Wait(), p.stderr) })
	return p.err
}

func exitError(err error, stderr *bytes.Buffer) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Status: exitErr.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}
	return err
}

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Output is the output to return from Run.
	Output []byte
	// Err is the error to return from Run or Stream.
	Err error
	// StreamData is served by the reader Stream returns.
	StreamData []byte
	// RunCalled indicates whether Run was called.
	RunCalled bool
	// Closed indicates whether the stream was closed.
	Closed bool
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	return m.Output, m.Err
}

// Stream returns a reader over StreamData.
func (m *MockCommandExecutor) Stream() (io.ReadCloser, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &mockStream{Reader: bytes.NewReader(m.StreamData), exec: m}, nil
}

type mockStream struct {
	*bytes.Reader
	exec *MockCommandExecutor
}

func (s *mockStream) Close() error {
	s.exec.Closed = true
	return nil
}

// MockCommandBuilder implements CommandBuilder for testing.
type MockCommandBuilder struct {
	// Commands records all commands that were built.
	Commands []MockBuiltCommand
	// NextExecutor is the next executor to return. If nil, creates a default MockCommandExecutor.
	NextExecutor *MockCommandExecutor
	// ExecutorFactory allows creating executors dynamically based on command.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// Remote returns the command line handed to ssh, which is always the
// last argument.
func (c MockBuiltCommand) Remote() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}

// NewMockCommandBuilder creates a new MockCommandBuilder.
func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

// BuildCommand creates a MockCommandExecutor and records the command details.
func (b *MockCommandBuilder) BuildCommand(_ context.Context, name string, args ...string) CommandExecutor {
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: args})
	if b.ExecutorFactory != nil {
		return b.ExecutorFactory(name, args)
	}
	if b.NextExecutor != nil {
		executor := b.NextExecutor
		b.NextExecutor = nil
		return executor
	}
	return &MockCommandExecutor{}
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}

// Reset clears all recorded commands.
func (b *MockCommandBuilder) Reset() {
	b.Commands = nil
	b.NextExecutor = nil
}
