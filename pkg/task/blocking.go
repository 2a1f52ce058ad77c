package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Probe tuning. Sampling keeps steady-state overhead near zero: the
// first few invocations are always probed, then one in probeInterval,
// unless a violation put the monitor back into the always-probe state.
const (
	heartbeatInterval = 100 * time.Millisecond
	initialProbes     = 3
	probeInterval     = 50
	blockThreshold    = time.Second
	minTicksExpected  = 2
)

// warnedIdentities de-duplicates blocking warnings process-wide, keyed
// by callable identity.
var warnedIdentities sync.Map

// resetWarnings clears the process-wide warning set. Test hook.
func resetWarnings() {
	warnedIdentities.Range(func(key, _ any) bool {
		warnedIdentities.Delete(key)

		return true
	})
}

// blockMonitor detects cooperative callables that block. A heartbeat
// goroutine ticks every 100ms; a probed invocation that runs longer
// than blockThreshold while observing fewer than minTicksExpected ticks
// has starved the scheduler.
//
// Detection is best-effort: the Go scheduler keeps the heartbeat
// goroutine running while a task sleeps or waits on I/O, so in practice
// the warning fires only when the whole process is starved, such as a
// tight cgo call pinning every P or GOMAXPROCS=1 with a busy loop. A
// merely slow task never trips it; the per-item timeout covers that.
type blockMonitor struct {
	logger *slog.Logger

	ticks       atomic.Int64
	callCount   atomic.Int64
	cleanStreak atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

func newBlockMonitor(logger *slog.Logger) *blockMonitor {
	m := &blockMonitor{
		logger: logger,
		stop:   make(chan struct{}),
	}

	go m.heartbeat()

	return m
}

func (m *blockMonitor) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ticks.Add(1)
		case <-m.stop:
			return
		}
	}
}

func (m *blockMonitor) close() {
	if m == nil {
		return
	}

	m.stopOnce.Do(func() { close(m.stop) })
}

// shouldProbe implements the sampling schedule: the first
// initialProbes calls, every probeInterval-th call, and every call
// while the clean streak is empty.
func (m *blockMonitor) shouldProbe(call int64) bool {
	if call <= initialProbes {
		return true
	}

	if m.cleanStreak.Load() == 0 {
		return true
	}

	return call%probeInterval == 0
}

// observe records a probed invocation and warns on a violation.
// Returns true when the invocation was clean.
func (m *blockMonitor) observe(identity string, elapsed time.Duration, ticksSeen int64) bool {
	if elapsed > blockThreshold && ticksSeen < minTicksExpected {
		m.cleanStreak.Store(0)
		m.warnOnce(identity, elapsed)

		return false
	}

	m.cleanStreak.Add(1)

	return true
}

func (m *blockMonitor) warnOnce(identity string, elapsed time.Duration) {
	if _, alreadyWarned := warnedIdentities.LoadOrStore(identity, true); alreadyWarned {
		return
	}

	m.logger.Warn("cooperative task blocked the scheduler",
		"task", identity,
		"elapsed", elapsed.String(),
		"hint", "offload blocking work to a worker pool or switch to async I/O")
}

// invokeMonitored runs fn, probing it when the monitor's schedule says
// so. Without a monitor (non-cooperative tasks) the call passes
// through untouched.
func invokeMonitored(
	ctx context.Context,
	m *blockMonitor,
	identity string,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	if m == nil {
		return fn(ctx)
	}

	call := m.callCount.Add(1)
	if !m.shouldProbe(call) {
		return fn(ctx)
	}

	ticksBefore := m.ticks.Load()
	start := time.Now()

	out, err := fn(ctx)

	elapsed := time.Since(start)
	ticksSeen := m.ticks.Load() - ticksBefore

	m.observe(identity, elapsed, ticksSeen)

	return out, err
}
