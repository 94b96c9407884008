package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const maxStderrLines = 100

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner", "-nostdin")
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arguments placed before -i.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// OutputArgs adds arguments placed after the input.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	// -nostdin would stop ffmpeg reading a piped input.
	if b.input == "pipe:0" {
		args = removeArg(args, "-nostdin")
	}

	return &Command{
		Binary: b.binary,
		Args:   args,
		Input:  b.input,
		Output: b.output,
		done:   make(chan struct{}),
	}
}

func removeArg(args []string, value string) []string {
	out := args[:0]
	for _, a := range args {
		if a != value {
			out = append(out, a)
		}
	}
	return out
}

// Command is one FFmpeg process. It is not bound to a context: the process
// lives until it exits or Kill is called.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string

	mu      sync.RWMutex
	cmd     *exec.Cmd
	started time.Time
	waitErr error
	done    chan struct{}
	stdout  *io.PipeWriter

	stderrLines []string
	stderrMu    sync.RWMutex
	stderrDone  chan struct{}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Pipes selects which standard streams are exposed by Start.
type Pipes struct {
	Stdin  bool
	Stdout bool
}

// Started holds the pipes of a running command.
type Started struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Start launches the process. Stderr is always captured into a ring of
// recent lines and logged at debug level.
func (c *Command) Start(pipes Pipes, logger *slog.Logger) (*Started, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil, errors.New("command already started")
	}

	cmd := exec.Command(c.Binary, c.Args...)
	var started Started
	var err error

	if pipes.Stdin {
		if started.Stdin, err = cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("getting stdin pipe: %w", err)
		}
	}
	if pipes.Stdout {
		// An io.Pipe keeps Wait from closing stdout before the reader has
		// drained it.
		pr, pw := io.Pipe()
		cmd.Stdout = pw
		started.Stdout = pr
		c.stdout = pw
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.started = time.Now()
	c.stderrDone = make(chan struct{})

	if logger == nil {
		logger = slog.Default()
	}
	go c.captureStderr(stderr, logger.With(slog.Int("pid", cmd.Process.Pid)))
	go c.wait()

	return &started, nil
}

func (c *Command) wait() {
	<-c.stderrDone
	err := c.cmd.Wait()
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	c.mu.Lock()
	c.waitErr = err
	c.mu.Unlock()
	close(c.done)
}

// Done is closed once the process has exited.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the process exits and returns its exit error.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()
	if cmd == nil {
		return fmt.Errorf("command not started")
	}

	<-c.done
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waitErr
}

// ExitError returns the exit error once Done is closed, or nil while the
// process is still running or was never started.
func (c *Command) ExitError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waitErr
}

// WaitTimeout waits up to d for the process to exit and kills it otherwise.
func (c *Command) WaitTimeout(d time.Duration) error {
	select {
	case <-c.done:
	case <-time.After(d):
		_ = c.Kill()
	}
	return c.Wait()
}

// Kill terminates the FFmpeg process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-c.done:
		return nil
	default:
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// PID returns the process id, or 0 before Start.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// IsRunning returns true if the process has started and not exited.
func (c *Command) IsRunning() bool {
	if c.PID() == 0 {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

func (c *Command) captureStderr(stderr io.Reader, logger *slog.Logger) {
	defer close(c.stderrDone)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()

		logger.Debug("ffmpeg", slog.String("line", line))
	}
	// Keep draining after an oversized line so ffmpeg never blocks on stderr.
	_, _ = io.Copy(io.Discard, stderr)
}

// StderrLines returns the recent stderr lines captured from FFmpeg.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}

// LastError returns the most recent stderr line, which is usually the reason
// FFmpeg exited.
func (c *Command) LastError() string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()
	if len(c.stderrLines) == 0 {
		return ""
	}
	return c.stderrLines[len(c.stderrLines)-1]
}
