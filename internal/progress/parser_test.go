package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParser_EmitsOnProgressKey(t *testing.T) {
	p := NewParser(60) // 60s total duration

	events := p.Feed([]byte("frame=120\nfps=30.0\nout_time_us=30000000\nout_time=00:00:30.00\nspeed=1.0x\ntotal_size=1048576\nprogress=continue\n"))
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, int64(120), ev.Frame)
	require.InDelta(t, 30.0, ev.FPS, 0.001)
	require.Equal(t, int64(1048576), ev.SizeBytes)
	require.NotNil(t, ev.ProgressPercent)
	require.Equal(t, 50, *ev.ProgressPercent)
}

func TestParser_SplitAcrossChunks(t *testing.T) {
	p := NewParser(0)

	events := p.Feed([]byte("frame=10\nfps=25"))
	require.Empty(t, events)

	events = p.Feed([]byte(".0\nprogress=continue\n"))
	require.Len(t, events, 1)
	require.Equal(t, int64(10), events[0].Frame)
	require.Nil(t, events[0].ProgressPercent, "percent is indeterminate when duration is unknown")
}

func TestParser_DropsMalformedLines(t *testing.T) {
	p := NewParser(10)

	events := p.Feed([]byte("this is not kv\nframe=5\nprogress=continue\n"))
	require.Len(t, events, 1)
	require.Equal(t, int64(5), events[0].Frame)
}

func TestParser_PercentClampedAt100(t *testing.T) {
	p := NewParser(10)
	events := p.Feed([]byte("out_time_us=90000000\nprogress=end\n"))
	require.Len(t, events, 1)
	require.Equal(t, 100, *events[0].ProgressPercent)
}

func TestParser_MultipleRecordsInOneChunk(t *testing.T) {
	p := NewParser(0)
	events := p.Feed([]byte("frame=1\nprogress=continue\nframe=2\nprogress=continue\n"))
	require.Len(t, events, 2)
	require.Equal(t, int64(1), events[0].Frame)
	require.Equal(t, int64(2), events[1].Frame)
}
