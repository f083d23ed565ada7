package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/logfields"
)

// Shell exit codes for "not executable" and "command not found".
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Runner executes toolchain scripts: ordered lists of shell commands.
type Runner struct {
	shell    string
	pm       *ProcessManager
	breakers *BreakerRegistry
	logger   *slog.Logger
}

// NewRunner creates a runner that passes each command to shell -c.
// pm and breakers may be nil.
func NewRunner(shell string, pm *ProcessManager, breakers *BreakerRegistry, logger *slog.Logger) *Runner {
	if shell == "" {
		shell = "sh"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if breakers == nil {
		breakers = NewBreakerRegistry(DefaultBreakerSettings(), logger)
	}
	return &Runner{shell: shell, pm: pm, breakers: breakers, logger: logger}
}

// Run executes commands in dir, in order. Output accumulates the stdout of
// every command. The first command that exits non-zero or writes to stderr
// stops the script, and its stderr becomes the step error.
func (r *Runner) Run(ctx context.Context, dir string, commands []string) *cache.StepResult {
	step := &cache.StepResult{}
	var out strings.Builder

	for _, command := range commands {
		step.Commands = append(step.Commands, command)

		stdout, err := r.runOne(ctx, dir, command)
		out.Write(stdout)
		if err != nil {
			step.Err = err.Error()
			break
		}
	}

	step.Output = out.String()
	return step
}

func (r *Runner) runOne(ctx context.Context, dir, command string) ([]byte, error) {
	program := programOf(command)
	start := time.Now()
	r.logger.Debug("Running command", logfields.Command(command), logfields.Path(dir))

	var stdout, stderr []byte
	_, err := r.breakers.Get(program).Execute(func() (interface{}, error) {
		cmd := newCommand(ctx, r.shell, "-c", command)
		cmd.Dir = dir

		var runErr error
		stdout, stderr, runErr = executeCommand(ctx, cmd, r.pm)

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && ctx.Err() == nil {
			switch exitErr.ExitCode() {
			case exitNotExecutable, exitNotFound:
				return nil, &LaunchError{Program: program, Err: errors.New(strings.TrimSpace(string(stderr)))}
			}
		}
		return nil, runErr
	})

	r.logger.Debug("Command finished",
		logfields.Command(command),
		logfields.Duration(time.Since(start)),
		slog.Bool("failed", err != nil || len(stderr) > 0))

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%s is unavailable after repeated launch failures: %w", program, err)
	case len(stderr) > 0:
		return stdout, errors.New(strings.TrimRight(string(stderr), "\n"))
	case err != nil:
		return stdout, err
	}
	return stdout, nil
}

// programOf returns the first word of a shell command.
func programOf(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
