package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glefebvre/episodebot/internal/logger"
)

// commandContext is swapped in tests
var commandContext = exec.CommandContext

const tailSize = 2048

// Command is one external directive. Shell directives are run through
// "sh -c"; otherwise Path is executed directly with Args.
type Command struct {
	Name    string
	Shell   string
	Path    string
	Args    []string
	Dir     string
	Env     []string
	LogPath string
}

// String renders the command for logs
func (c Command) String() string {
	if c.Shell != "" {
		return c.Shell
	}
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a completed process
type Result struct {
	ExitCode int
	Duration time.Duration
	// Tail holds the last bytes of combined output for failure reports
	Tail string
}

// Succeeded reports a zero exit status
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Runner executes commands to completion
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as child processes
type ExecRunner struct {
	shell string
	log   *logger.Logger
}

// NewExecRunner creates a runner using /bin/sh for shell directives
func NewExecRunner() *ExecRunner {
	return &ExecRunner{shell: "/bin/sh", log: logger.AppLogger()}
}

// Run starts the command and waits for it. A non-zero exit is reported in
// Result, not as an error; errors mean the process could not be started or
// ctx ended before it finished.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	name, args, err := r.argv(c)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	cmd := commandContext(ctx, name, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = 5 * time.Second

	tail := &tailWriter{limit: tailSize}
	var output io.Writer = tail
	if c.LogPath != "" {
		logFile, err := openLog(c)
		if err != nil {
			return Result{ExitCode: -1}, err
		}
		defer logFile.Close()
		output = io.MultiWriter(tail, logFile)
	}
	cmd.Stdout = output
	cmd.Stderr = output

	fields := map[string]interface{}{
		"stage":   c.Name,
		"command": c.String(),
	}
	r.log.WithFields(fields).DebugContext(ctx, "stage started")

	start := time.Now()
	runErr := cmd.Run()
	result := Result{Duration: time.Since(start), Tail: tail.String()}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			result.ExitCode = -1
			return result, fmt.Errorf("failed to run stage %s: %w", c.Name, runErr)
		}
		result.ExitCode = exitErr.ExitCode()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("stage %s interrupted: %w", c.Name, ctxErr)
		}
	}

	fields["exit_code"] = result.ExitCode
	fields["duration_ms"] = result.Duration.Milliseconds()
	r.log.WithFields(fields).InfoContext(ctx, "stage finished")

	return result, nil
}

func (r *ExecRunner) argv(c Command) (string, []string, error) {
	if strings.TrimSpace(c.Shell) != "" {
		return r.shell, []string{"-c", c.Shell}, nil
	}
	if c.Path == "" {
		return "", nil, fmt.Errorf("stage %s has no command", c.Name)
	}
	return c.Path, c.Args, nil
}

func openLog(c Command) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for stage %s: %w", c.Name, err)
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log for stage %s: %w", c.Name, err)
	}
	fmt.Fprintf(f, "=== %s %s: %s\n", time.Now().Format(time.RFC3339), c.Name, c.String())
	return f, nil
}

// tailWriter keeps the last limit bytes written to it
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}
