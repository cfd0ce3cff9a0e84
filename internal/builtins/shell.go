package builtins

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellRun executes a shell command. Transitional: it exists for
// migrating subprocess-based jobs, and new jobs should prefer the other
// namespaces.
//
// Args: command (required), timeout (seconds, default 300), check
// (default true, fail on non-zero exit), cwd.
// Returns: returncode, stdout, stderr.
func ShellRun(ctx context.Context, args map[string]any) (map[string]any, error) {
	command, err := requireString(args, "shell.run", "command")
	if err != nil {
		return nil, err
	}
	timeout := intArg(args, "timeout", 300)
	check := boolArg(args, "check", true)
	cwd, _ := stringArg(args, "cwd")

	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	if cwd != "" {
		cmd.Dir = expandHome(cwd)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if cctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %ds", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, runErr
		}
		if check {
			msg := fmt.Sprintf("command exited with code %d", exitCode)
			if first := firstLine(stderr.String()); first != "" {
				msg += ": " + first
			}
			return nil, errors.New(msg)
		}
	}

	return map[string]any{
		"returncode": exitCode,
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
