package process

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
	"sync/atomic"
	"syscall"
	"time"
)

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from engine output (ffmpeg etc.)
type LogParser func(line string) (level, msg string)

// stderrTailLines is how many trailing stderr lines are kept for exit reports.
const stderrTailLines = 10

// Exit code reported when the process had to be killed.
const killExitCode = 137

// SpawnError reports that the engine executable could not be launched at
// all. It indicates a systemic problem (missing binary, invalid device),
// distinguishable in logs from a runtime crash.
type SpawnError struct {
	ID  string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.ID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Exit is the outcome of a terminated worker process.
type Exit struct {
	Code int
	// Forced is true when the process only exited after SIGKILL.
	Forced bool
	// StderrTail holds the last stderr lines, newest last.
	StderrTail []string
}

// Worker owns exactly one external engine process for one output plan.
// The handle is never shared: only the owning monitor goroutine may
// observe or signal it.
type Worker struct {
	id      string
	command string

	cmd     *exec.Cmd
	exited  chan struct{} // closed once Wait returns
	waitErr error
	forced  atomic.Bool

	outputDone chan struct{} // receives twice, once per output stream

	tailMu sync.Mutex
	tail   []string

	logger        *slog.Logger
	processLogger *slog.Logger // logger for process output (nil = use logger)
	logParser     LogParser    // parses process output for log level (nil = no parsing)

	killTimeout time.Duration
}

// NewWorker creates a worker for the given command. The id names the
// camera output and appears in every log record.
func NewWorker(id, command string, logger *slog.Logger) *Worker {
	return &Worker{
		id:          id,
		command:     command,
		exited:      make(chan struct{}),
		outputDone:  make(chan struct{}, 2),
		logger:      logger,
		killTimeout: 5 * time.Second,
	}
}

// Command returns the command string this worker runs.
func (w *Worker) Command() string {
	return w.command
}

// SetLogParser sets a custom logger and log parser for process output.
// The logger is used for process output (e.g., module="ffmpeg").
// The parser extracts log level from process-specific output formats.
func (w *Worker) SetLogParser(logger *slog.Logger, parser LogParser) {
	w.processLogger = logger
	w.logParser = parser
}

// PID returns the process id, or 0 before a successful Start.
func (w *Worker) PID() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return 0
	}
	return w.cmd.Process.Pid
}

// Start spawns the engine process. A failure to launch is returned as a
// *SpawnError; nothing is retried here.
func (w *Worker) Start() error {
	args, err := parseCommand(w.command)
	if err != nil {
		return &SpawnError{ID: w.id, Err: err}
	}
	if len(args) == 0 {
		return &SpawnError{ID: w.id, Err: errors.New("empty command")}
	}

	w.cmd = exec.Command(args[0], args[1:]...)
	w.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{ID: w.id, Err: err}
	}
	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return &SpawnError{ID: w.id, Err: err}
	}

	if err := w.cmd.Start(); err != nil {
		return &SpawnError{ID: w.id, Err: err}
	}

	w.logger.Info("Process started", "id", w.id, "pid", w.cmd.Process.Pid)

	go func() {
		w.streamOutput(stdout, "stdout")
		w.outputDone <- struct{}{}
	}()
	go func() {
		w.streamOutput(stderr, "stderr")
		w.outputDone <- struct{}{}
	}()

	go func() {
		w.waitErr = w.cmd.Wait()
		close(w.exited)
	}()

	return nil
}

// ObserveExit blocks until the process terminates and returns its exit
// outcome. This is the sole suspension point of the supervising logic;
// it must only be called after a successful Start, by the owning
// monitor goroutine.
func (w *Worker) ObserveExit() Exit {
	<-w.exited

	// Drain both output streams before reporting so the tail is complete.
	<-w.outputDone
	<-w.outputDone

	return Exit{
		Code:       exitCodeFromError(w.waitErr),
		Forced:     w.forced.Load(),
		StderrTail: w.stderrTail(),
	}
}

// Stop requests termination: SIGINT first, then SIGKILL after the
// graceful timeout. It returns once the process has exited (or the kill
// wait gave up) and reports whether termination was forced.
func (w *Worker) Stop(graceful time.Duration) bool {
	if w.cmd == nil || w.cmd.Process == nil {
		return false
	}

	select {
	case <-w.exited:
		return false // already gone
	default:
	}

	w.logger.Info("Sending SIGINT to process", "id", w.id, "pid", w.cmd.Process.Pid)
	if err := w.cmd.Process.Signal(syscall.SIGINT); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			w.logger.Warn("Failed to send SIGINT", "id", w.id, "error", err)
		}
	}

	select {
	case <-w.exited:
		return false
	case <-time.After(graceful):
	}

	w.logger.Warn("Graceful stop timeout, forcing kill", "id", w.id, "timeout", graceful)
	w.forced.Store(true)
	if err := w.cmd.Process.Kill(); err != nil {
		// "os: process already finished" is OK - process exited between timeout and kill
		if !errors.Is(err, os.ErrProcessDone) {
			w.logger.Error("Failed to kill process", "id", w.id, "error", err)
		}
	}

	select {
	case <-w.exited:
	case <-time.After(w.killTimeout):
		w.logger.Error("Process did not exit after kill signal", "id", w.id)
	}
	return true
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return killExitCode
	}
	return 1
}

// streamOutput streams output from the subprocess through the logger.
// stderr lines additionally feed the tail buffer for exit reports.
func (w *Worker) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := w.processLogger
	if logger == nil {
		logger = w.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if source == "stderr" {
			w.appendTail(line)
		}

		level, msg := "info", line
		if w.logParser != nil {
			level, msg = w.logParser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		w.logger.Warn("Error reading output", "id", w.id, "source", source, "error", err)
	}
}

func (w *Worker) appendTail(line string) {
	w.tailMu.Lock()
	defer w.tailMu.Unlock()
	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTailLines {
		w.tail = w.tail[len(w.tail)-stderrTailLines:]
	}
}

func (w *Worker) stderrTail() []string {
	w.tailMu.Lock()
	defer w.tailMu.Unlock()
	tail := make([]string, len(w.tail))
	copy(tail, w.tail)
	return tail
}

// parseCommand parses a command string into arguments
// Handles quoted strings and basic escaping.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	command = strings.TrimSpace(command)
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			// Handle escape sequences
			i++ // Skip the backslash
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	// Add final argument
	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
