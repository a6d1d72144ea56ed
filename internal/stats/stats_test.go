package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCounters(t *testing.T) {
	c := New(true)
	c.AddInFull(10)
	c.AddInPartial(1)
	c.AddOutFull(5)
	c.AddOutPartial(1)
	c.AddOutSparse(3)
	c.AddOutSparsePartial(1)
	c.AddRecovered(2)
	c.AddTrimErrs(1)
	c.AddRetries(4)
	c.AddInterruptedRetry()

	s := c.Snapshot()
	assert.Equal(t, int64(10), s.InFull)
	assert.Equal(t, int64(1), s.InPartial)
	assert.Equal(t, int64(5), s.OutFull)
	assert.Equal(t, int64(1), s.OutPartial)
	assert.Equal(t, int64(3), s.OutSparse)
	assert.Equal(t, int64(1), s.OutSparsePartial)
	assert.Equal(t, int64(2), s.RecoveredErrs)
	assert.Equal(t, int64(1), s.TrimErrs)
	assert.Equal(t, int64(4), s.Retries)
	assert.Equal(t, int64(1), s.InterruptedRetries)
}

func TestNoteUnrecoveredRange(t *testing.T) {
	c := New(false)
	s := c.Snapshot()
	assert.Equal(t, int64(-1), s.HighestUnrecovered)

	c.NoteUnrecovered(100)
	c.NoteUnrecovered(50)
	c.NoteUnrecovered(200)

	s = c.Snapshot()
	assert.Equal(t, int64(3), s.UnrecoveredErrs)
	assert.Equal(t, int64(50), s.LowestUnrecovered)
	assert.Equal(t, int64(200), s.HighestUnrecovered)
}

func TestSwapInFullForPartial(t *testing.T) {
	c := New(false)
	c.AddInFull(10)
	c.SwapInFullForPartial(1)
	s := c.Snapshot()
	assert.Equal(t, int64(9), s.InFull)
	assert.Equal(t, int64(1), s.InPartial)
}

func TestElapsedTiming(t *testing.T) {
	c := New(true)
	require.True(t, c.TimingActive())
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, c.Elapsed(), time.Duration(0))

	off := New(false)
	assert.False(t, off.TimingActive())
	assert.Equal(t, time.Duration(0), off.Elapsed())
}

func TestWriteReportBasic(t *testing.T) {
	c := New(false)
	c.AddInFull(10)
	c.AddOutFull(10)

	var b strings.Builder
	WriteReport(&b, "", c.Snapshot(), ReportContext{})
	out := b.String()
	assert.Contains(t, out, "10+0 records in\n")
	assert.Contains(t, out, "10+0 records out\n")
	assert.NotContains(t, out, "bypassed")
	assert.NotContains(t, out, "remaining block count")
}

func TestWriteReportRemainingAndSparse(t *testing.T) {
	c := New(false)
	c.AddInFull(4)
	c.AddOutSparse(4)

	var b strings.Builder
	WriteReport(&b, "  ", c.Snapshot(), ReportContext{
		Remaining:    6,
		SparseActive: true,
	})
	out := b.String()
	assert.Contains(t, out, "remaining block count=6\n")
	assert.Contains(t, out, "  4 bypassed records out\n")
}

func TestWriteReportTrim(t *testing.T) {
	c := New(false)
	c.AddOutSparse(8)

	var b strings.Builder
	WriteReport(&b, "", c.Snapshot(), ReportContext{
		SparseActive: true,
		TrimActive:   true,
	})
	assert.Contains(t, b.String(), "8 trimmed records out\n")

	c.AddTrimErrs(1)
	b.Reset()
	WriteReport(&b, "", c.Snapshot(), ReportContext{
		SparseActive: true,
		TrimActive:   true,
	})
	assert.Contains(t, b.String(), "8 attempted trim records out\n")
	assert.Contains(t, b.String(), "1 trim errors\n")
}

func TestWriteReportUnrecovered(t *testing.T) {
	c := New(false)
	c.NoteUnrecovered(7)

	var b strings.Builder
	WriteReport(&b, "", c.Snapshot(), ReportContext{})
	out := b.String()
	assert.Contains(t, out, "1 unrecovered read error\n")
	assert.Contains(t, out, "lowest unrecovered read lba=7, highest unrecovered lba=7\n")

	c.NoteUnrecovered(9)
	b.Reset()
	WriteReport(&b, "", c.Snapshot(), ReportContext{})
	assert.Contains(t, b.String(), "2 unrecovered read errors\n")
}

func TestWriteThroughput(t *testing.T) {
	s := Snapshot{InFull: 1 << 20, Elapsed: time.Second}

	var b strings.Builder
	WriteThroughput(&b, "", false, s, ReportContext{IBS: 512})
	out := b.String()
	assert.Contains(t, out, "time to transfer data:")
	assert.Contains(t, out, "MB/sec")

	b.Reset()
	WriteThroughput(&b, "", false, s, ReportContext{IBS: 512, ReadOnly: true})
	assert.Contains(t, b.String(), "time to read data:")
}

func TestWriteThroughputETA(t *testing.T) {
	// 512 MiB moved in 1s, 2^30 blocks remaining -> an ETA of 17:04.
	s := Snapshot{InFull: 1 << 20, Elapsed: time.Second}
	var b strings.Builder
	WriteThroughput(&b, "  ", true, s, ReportContext{IBS: 512, Remaining: 1 << 30})
	out := b.String()
	assert.Contains(t, out, "so far")
	assert.Contains(t, out, "estimated time remaining:")
}
