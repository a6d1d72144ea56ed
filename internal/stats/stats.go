// Package stats tracks the copy counters and renders the records-in /
// records-out report and throughput figures.
package stats

import (
	"sync/atomic"
	"time"
)

// Collector tracks copy counters. The copy loop is the only writer;
// atomics keep the progress report safe if it ever moves off the loop
// goroutine.
type Collector struct {
	inFull             atomic.Int64
	inPartial          atomic.Int64
	outFull            atomic.Int64
	outPartial         atomic.Int64
	outSparse          atomic.Int64
	outSparsePartial   atomic.Int64
	recoveredErrs      atomic.Int64
	unrecoveredErrs    atomic.Int64
	wrRecoveredErrs    atomic.Int64
	wrUnrecoveredErrs  atomic.Int64
	trimErrs           atomic.Int64
	retries            atomic.Int64
	interruptedRetries atomic.Int64
	sumOfResids        atomic.Int64

	lowestUnrecovered  atomic.Int64
	highestUnrecovered atomic.Int64

	startTime  time.Time
	startValid bool
}

// New creates a Collector. The monotonic start timestamp is only
// recorded when timing is wanted (status=noxfer clears it).
func New(doTime bool) *Collector {
	c := &Collector{}
	c.lowestUnrecovered.Store(-1)
	c.highestUnrecovered.Store(-1)
	if doTime {
		c.startTime = time.Now()
		c.startValid = true
	}
	return c
}

func (c *Collector) AddInFull(n int64)           { c.inFull.Add(n) }
func (c *Collector) AddInPartial(n int64)        { c.inPartial.Add(n) }
func (c *Collector) AddOutFull(n int64)          { c.outFull.Add(n) }
func (c *Collector) AddOutPartial(n int64)       { c.outPartial.Add(n) }
func (c *Collector) AddOutSparse(n int64)        { c.outSparse.Add(n) }
func (c *Collector) AddOutSparsePartial(n int64) { c.outSparsePartial.Add(n) }
func (c *Collector) AddRecovered(n int64)        { c.recoveredErrs.Add(n) }
func (c *Collector) AddWrRecovered(n int64)      { c.wrRecoveredErrs.Add(n) }
func (c *Collector) AddWrUnrecovered(n int64)    { c.wrUnrecoveredErrs.Add(n) }
func (c *Collector) AddTrimErrs(n int64)         { c.trimErrs.Add(n) }
func (c *Collector) AddRetries(n int64)          { c.retries.Add(n) }
func (c *Collector) AddInterruptedRetry()        { c.interruptedRetries.Add(1) }
func (c *Collector) AddResid(n int64)            { c.sumOfResids.Add(n) }

// NoteUnrecovered records one unrecovered read error at the given
// block address, widening the lowest/highest range.
func (c *Collector) NoteUnrecovered(lba int64) {
	c.unrecoveredErrs.Add(1)
	if c.highestUnrecovered.Load() < 0 {
		c.lowestUnrecovered.Store(lba)
		c.highestUnrecovered.Store(lba)
		return
	}
	if lba < c.lowestUnrecovered.Load() {
		c.lowestUnrecovered.Store(lba)
	}
	if lba > c.highestUnrecovered.Load() {
		c.highestUnrecovered.Store(lba)
	}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	InFull             int64
	InPartial          int64
	OutFull            int64
	OutPartial         int64
	OutSparse          int64
	OutSparsePartial   int64
	RecoveredErrs      int64
	UnrecoveredErrs    int64
	WrRecoveredErrs    int64
	WrUnrecoveredErrs  int64
	TrimErrs           int64
	Retries            int64
	InterruptedRetries int64
	SumOfResids        int64
	LowestUnrecovered  int64
	HighestUnrecovered int64
	Elapsed            time.Duration
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		InFull:             c.inFull.Load(),
		InPartial:          c.inPartial.Load(),
		OutFull:            c.outFull.Load(),
		OutPartial:         c.outPartial.Load(),
		OutSparse:          c.outSparse.Load(),
		OutSparsePartial:   c.outSparsePartial.Load(),
		RecoveredErrs:      c.recoveredErrs.Load(),
		UnrecoveredErrs:    c.unrecoveredErrs.Load(),
		WrRecoveredErrs:    c.wrRecoveredErrs.Load(),
		WrUnrecoveredErrs:  c.wrUnrecoveredErrs.Load(),
		TrimErrs:           c.trimErrs.Load(),
		Retries:            c.retries.Load(),
		InterruptedRetries: c.interruptedRetries.Load(),
		SumOfResids:        c.sumOfResids.Load(),
		LowestUnrecovered:  c.lowestUnrecovered.Load(),
		HighestUnrecovered: c.highestUnrecovered.Load(),
		Elapsed:            c.Elapsed(),
	}
}

// SubOutSparse takes back one sparse record, used when the terminal
// zero block ends up written after all.
func (c *Collector) SubOutSparse() { c.outSparse.Add(-1) }

// SwapInFullForPartial converts n full input records into partials,
// used when a short read leaves a fractional block.
func (c *Collector) SwapInFullForPartial(n int64) {
	c.inFull.Add(-n)
	c.inPartial.Add(n)
}

// TimingActive reports whether a start timestamp was recorded.
func (c *Collector) TimingActive() bool { return c.startValid }

// Elapsed returns time since collector creation, or zero when timing
// is off.
func (c *Collector) Elapsed() time.Duration {
	if !c.startValid {
		return 0
	}
	return time.Since(c.startTime)
}
