package marker

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrSubprocess is returned when the trust tool is missing, fails to launch
// or exits non-zero.
var ErrSubprocess = errors.New("trust tool failed")

// Runner launches the trust tool and waits for it.
type Runner interface {
	Run(name string, args []string) (exitCode int, err error)
}

// ExecRunner runs the tool with os/exec. In-flight invocations are never
// cancelled.
type ExecRunner struct{}

func (ExecRunner) Run(name string, args []string) (int, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err == nil {
		return 0, nil
	}

	detail := strings.TrimSpace(string(out))
	if len(detail) > 512 {
		detail = detail[len(detail)-512:]
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), fmt.Errorf("%w: %s: %v: %s", ErrSubprocess, name, err, detail)
	}
	return -1, fmt.Errorf("%w: %s: %v", ErrSubprocess, name, err)
}

// MarkingRun describes one invocation of the trust tool.
type MarkingRun struct {
	Started  time.Time
	Paths    []string
	ExitCode int
	Err      error
	Duration time.Duration
}

func newRun(paths []string) *MarkingRun {
	return &MarkingRun{
		Started: time.Now(),
		Paths:   paths,
	}
}

func (r *MarkingRun) finish(code int, err error) {
	r.ExitCode = code
	r.Err = err
	if err == nil && code != 0 {
		r.Err = fmt.Errorf("%w: exit status %d", ErrSubprocess, code)
	}
	r.Duration = time.Since(r.Started)
}

// OK reports whether the tool confirmed every path of the run.
func (r *MarkingRun) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

func (r *MarkingRun) String() string {
	status := "ok"
	if !r.OK() {
		status = fmt.Sprintf("failed(exit=%d)", r.ExitCode)
	}
	return fmt.Sprintf("[%s] paths=%d %s in %s",
		r.Started.Format(time.RFC3339), len(r.Paths), status, r.Duration.Round(time.Millisecond))
}
