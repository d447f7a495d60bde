package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/encodis/encodis/internal/model"
	"github.com/stretchr/testify/require"
)

// withFakeFFmpeg writes an executable script named "ffmpeg" into a temp
// directory and prepends it to PATH for the duration of the test, so
// exec.CommandContext("ffmpeg", ...) resolves to it instead of a real binary.
func withFakeFFmpeg(t *testing.T, script string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	oldPath := os.Getenv("PATH")
	require.NoError(t, os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath))
	t.Cleanup(func() { _ = os.Setenv("PATH", oldPath) })
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestExecute_CleanExitReportsSuccess(t *testing.T) {
	withFakeFFmpeg(t, "#!/bin/sh\necho 'frame=1'\necho 'progress=continue'\necho 'progress=end'\nexit 0\n")

	out := filepath.Join(t.TempDir(), "nested", "out.mp4")
	v := model.ArgVector{Args: []string{"ffmpeg", "-i", "in.mkv", out}, OutputPath: out}

	e := New(Options{})
	events := drain(e.Execute(context.Background(), v, 0))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventCompleted, last.Kind)
	require.NotNil(t, last.Result)
	require.True(t, last.Result.Success)
	require.Equal(t, "clean", last.Result.Reason)
	require.Equal(t, StateTerminal, e.State())
}

func TestExecute_NonZeroExitReportsFailure(t *testing.T) {
	withFakeFFmpeg(t, "#!/bin/sh\necho 'some ffmpeg error' 1>&2\nexit 1\n")

	out := filepath.Join(t.TempDir(), "out.mp4")
	v := model.ArgVector{Args: []string{"ffmpeg", "-i", "in.mkv", out}, OutputPath: out}

	e := New(Options{})
	events := drain(e.Execute(context.Background(), v, 0))

	last := events[len(events)-1]
	require.Equal(t, EventCompleted, last.Kind)
	require.False(t, last.Result.Success)
	require.Equal(t, "non_zero_exit", last.Result.Reason)
	require.Equal(t, 1, last.Result.ExitCode)
	require.Contains(t, last.Result.StderrTail, "some ffmpeg error")
}

func TestExecute_TimeoutKillsProcess(t *testing.T) {
	withFakeFFmpeg(t, "#!/bin/sh\nsleep 5\n")

	out := filepath.Join(t.TempDir(), "out.mp4")
	v := model.ArgVector{Args: []string{"ffmpeg", "-i", "in.mkv", out}, OutputPath: out}

	e := New(Options{Timeout: 100 * time.Millisecond})
	start := time.Now()
	events := drain(e.Execute(context.Background(), v, 0))
	elapsed := time.Since(start)

	require.Less(t, elapsed, 4*time.Second, "timeout should have killed the process well before its sleep finished")
	last := events[len(events)-1]
	require.False(t, last.Result.Success)
	require.Equal(t, "timeout", last.Result.Reason)
}

func TestExecute_CancelStopsProcess(t *testing.T) {
	withFakeFFmpeg(t, "#!/bin/sh\nsleep 5\n")

	out := filepath.Join(t.TempDir(), "out.mp4")
	v := model.ArgVector{Args: []string{"ffmpeg", "-i", "in.mkv", out}, OutputPath: out}

	e := New(Options{})
	events := e.Execute(context.Background(), v, 0)

	time.Sleep(50 * time.Millisecond)
	e.Cancel()

	got := drain(events)
	last := got[len(got)-1]
	require.False(t, last.Result.Success)
	require.Equal(t, "killed_by_cancel", last.Result.Reason)
}

func TestExecute_RejectsInvalidArgVector(t *testing.T) {
	v := model.ArgVector{Args: []string{"sh", "-c", "evil"}}

	e := New(Options{})
	events := drain(e.Execute(context.Background(), v, 0))

	last := events[len(events)-1]
	require.False(t, last.Result.Success)
	require.Equal(t, "rejected", last.Result.Reason)
}

func TestExecute_RejectsConcurrentUse(t *testing.T) {
	withFakeFFmpeg(t, "#!/bin/sh\nsleep 1\n")
	out := filepath.Join(t.TempDir(), "out.mp4")
	v := model.ArgVector{Args: []string{"ffmpeg", "-i", "in.mkv", out}, OutputPath: out}

	e := New(Options{})
	first := e.Execute(context.Background(), v, 0)
	second := drain(e.Execute(context.Background(), v, 0))

	require.Equal(t, "already_running", second[len(second)-1].Result.Reason)

	e.Cancel()
	drain(first)
}

func TestDryRun_SynthesizesProgressToCompletion(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.mp4")
	v := model.ArgVector{Args: []string{"ffmpeg", "-i", "in.mkv", out}, OutputPath: out}

	e := New(Options{DryRun: true})
	events := drain(e.Execute(context.Background(), v, 0))

	var sawProgress bool
	for _, ev := range events {
		if ev.Kind == EventProgress {
			sawProgress = true
		}
	}
	require.True(t, sawProgress)

	last := events[len(events)-1]
	require.True(t, last.Result.Success)
	require.Equal(t, out, last.Result.OutputPath)
}

func TestStderrTail_BoundedAt64KiB(t *testing.T) {
	tail := newStderrTail(64 * 1024)
	chunk := make([]byte, 10*1024)
	for i := range chunk {
		chunk[i] = 'a'
	}
	for i := 0; i < 10; i++ {
		_, _ = tail.Write(chunk)
	}
	require.LessOrEqual(t, len(tail.Bytes()), 64*1024)
}
