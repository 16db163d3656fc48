package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logs "github.com/danmuck/nodectl/internal/logging"
)

var (
	ErrCommandNotFound = errors.New("tools: command not found")
	ErrCommandFailed   = errors.New("tools: command failed")
)

// DefaultMaxOutput bounds each captured stream. Node binaries print a few
// lines for `version`; anything past the cap is dropped.
const DefaultMaxOutput = 64 << 10

// Result is what one command left behind.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// VersionLine picks the first stdout line starting with "version"
// (case-insensitive), else the first non-empty line.
func (r Result) VersionLine() string {
	first := ""
	for _, line := range strings.Split(string(r.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		if strings.HasPrefix(strings.ToLower(line), "version") {
			return line
		}
	}
	return first
}

// StderrLine is the last non-empty stderr line, used in error text.
func (r Result) StderrLine() string {
	lines := strings.Split(strings.TrimSpace(string(r.Stderr)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	MaxOutput int
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	max := r.MaxOutput
	if max <= 0 {
		max = DefaultMaxOutput
	}
	stdout := &cappedBuffer{max: max}
	stderr := &cappedBuffer{max: max}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.buf, Stderr: stderr.buf, Duration: time.Since(start)}
	if stdout.truncated || stderr.truncated {
		logs.Debugf("tools.ExecRunner.Run name=%q output truncated at %d bytes", name, max)
	}
	if err == nil {
		logs.Debugf("tools.ExecRunner.Run name=%q took=%s", name, res.Duration)
		return res, nil
	}

	var execErr *exec.Error
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &execErr):
		res.ExitCode = 127
		err = fmt.Errorf("%w: %s: %v", ErrCommandNotFound, name, execErr.Err)
	case ctx.Err() != nil:
		res.ExitCode = -1
		err = fmt.Errorf("%w: %s: %w", ErrCommandFailed, name, ctx.Err())
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		err = fmt.Errorf("%w: %s exit=%d", ErrCommandFailed, name, res.ExitCode)
	default:
		res.ExitCode = -1
		err = fmt.Errorf("%w: %s: %v", ErrCommandFailed, name, err)
	}
	logs.Debugf("tools.ExecRunner.Run name=%q exit=%d err=%v", name, res.ExitCode, err)
	return res, err
}

// cappedBuffer keeps the first max bytes and drops the rest.
type cappedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if len(p) > room {
		b.truncated = true
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}
