package process

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_CleanExit(t *testing.T) {
	w := NewWorker("cam/out", "sh -c 'exit 0'", testLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if w.PID() == 0 {
		t.Error("PID() = 0 after successful start")
	}

	exit := w.ObserveExit()
	if exit.Code != 0 {
		t.Errorf("exit code = %d, want 0", exit.Code)
	}
	if exit.Forced {
		t.Error("clean exit reported as forced")
	}
}

func TestWorker_NonZeroExit(t *testing.T) {
	w := NewWorker("cam/out", "sh -c 'exit 3'", testLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if exit := w.ObserveExit(); exit.Code != 3 {
		t.Errorf("exit code = %d, want 3", exit.Code)
	}
}

func TestWorker_StderrTail(t *testing.T) {
	cmd := `sh -c 'for i in 1 2 3 4 5 6 7 8 9 10 11 12; do echo "line $i" 1>&2; done; exit 5'`
	w := NewWorker("cam/out", cmd, testLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	exit := w.ObserveExit()
	if exit.Code != 5 {
		t.Errorf("exit code = %d, want 5", exit.Code)
	}
	if len(exit.StderrTail) != stderrTailLines {
		t.Fatalf("tail has %d lines, want %d", len(exit.StderrTail), stderrTailLines)
	}
	if exit.StderrTail[0] != "line 3" {
		t.Errorf("tail starts with %q, want %q", exit.StderrTail[0], "line 3")
	}
	if exit.StderrTail[len(exit.StderrTail)-1] != "line 12" {
		t.Errorf("tail ends with %q, want %q", exit.StderrTail[len(exit.StderrTail)-1], "line 12")
	}
}

func TestWorker_GracefulStop(t *testing.T) {
	cmd := `sh -c 'trap "exit 0" INT; while :; do sleep 0.1; done'`
	w := NewWorker("cam/out", cmd, testLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	if forced := w.Stop(3 * time.Second); forced {
		t.Error("cooperative process reported as force-killed")
	}

	exit := w.ObserveExit()
	if exit.Code != 0 {
		t.Errorf("exit code = %d, want 0", exit.Code)
	}
	if exit.Forced {
		t.Error("Exit.Forced = true for graceful stop")
	}
}

func TestWorker_ForcedKill(t *testing.T) {
	cmd := `sh -c 'trap "" INT; while :; do sleep 0.1; done'`
	w := NewWorker("cam/out", cmd, testLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)

	if forced := w.Stop(300 * time.Millisecond); !forced {
		t.Error("signal-ignoring process not reported as force-killed")
	}

	exit := w.ObserveExit()
	if exit.Code != killExitCode {
		t.Errorf("exit code = %d, want %d", exit.Code, killExitCode)
	}
	if !exit.Forced {
		t.Error("Exit.Forced = false after kill")
	}
}

func TestWorker_StopAfterExit(t *testing.T) {
	w := NewWorker("cam/out", "sh -c 'exit 0'", testLogger())
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.ObserveExit()

	if forced := w.Stop(time.Second); forced {
		t.Error("Stop() on exited process reported forced")
	}
}

func TestWorker_SpawnError(t *testing.T) {
	w := NewWorker("cam/out", "/nonexistent/engine -x", testLogger())
	err := w.Start()
	if err == nil {
		t.Fatal("Start() succeeded for missing binary")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error type = %T, want *SpawnError", err)
	}
	if spawnErr.ID != "cam/out" {
		t.Errorf("SpawnError.ID = %q", spawnErr.ID)
	}
	if w.PID() != 0 {
		t.Errorf("PID() = %d after failed start, want 0", w.PID())
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{
			name:    "simple",
			command: "ffmpeg -i input -c:v copy out",
			want:    []string{"ffmpeg", "-i", "input", "-c:v", "copy", "out"},
		},
		{
			name:    "single quotes",
			command: "sh -c 'exit 0'",
			want:    []string{"sh", "-c", "exit 0"},
		},
		{
			name:    "double quotes inside single",
			command: `sh -c 'trap "exit 0" INT'`,
			want:    []string{"sh", "-c", `trap "exit 0" INT`},
		},
		{
			name:    "extra whitespace",
			command: "  ffmpeg   -i  x ",
			want:    []string{"ffmpeg", "-i", "x"},
		},
		{
			name:    "unclosed quote",
			command: "sh -c 'exit 0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseCommand() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("arg %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExitCodeFromError(t *testing.T) {
	if got := exitCodeFromError(nil); got != 0 {
		t.Errorf("nil error -> %d, want 0", got)
	}
	if got := exitCodeFromError(errors.New("pipe broke")); got != 1 {
		t.Errorf("generic error -> %d, want 1", got)
	}
}
