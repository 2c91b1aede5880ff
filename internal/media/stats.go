package media

import (
	"context"
	"time"

	"github.com/petervdpas/callcore/internal/clockwork"
)

// StatsSampler polls an Engine's connection stats on a fixed interval
// while a call is in progress and delivers each sample to onSample, so
// uistate.State.RealtimeStats stays current (spec §7). Grounded on the
// teacher's drainRemoteTrack ticker (internal/call/session.go), which
// logs remote-track packet counts every 5 seconds; generalized here
// from a log line to a typed Stats sample and from time.NewTicker to
// the package's own clockwork.Clock so it can be driven by a fake clock
// in tests.
type StatsSampler struct {
	engine   Engine
	clock    clockwork.Clock
	interval time.Duration
	onSample func(Stats)

	timer clockwork.Timer
}

// NewStatsSampler builds a sampler for engine. interval defaults to 5
// seconds when zero or negative.
func NewStatsSampler(engine Engine, clock clockwork.Clock, interval time.Duration, onSample func(Stats)) *StatsSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatsSampler{engine: engine, clock: clock, interval: interval, onSample: onSample}
}

// Start arms the first tick. A second call before Stop is a no-op.
func (s *StatsSampler) Start() {
	if s.timer != nil {
		return
	}
	s.timer = s.clock.AfterFunc(s.interval, s.tick)
}

func (s *StatsSampler) tick() {
	stats, err := s.engine.GetStats(context.Background())
	if err == nil && s.onSample != nil {
		s.onSample(stats)
	}
	s.timer = s.clock.AfterFunc(s.interval, s.tick)
}

// Stop cancels the pending tick, if any. Safe to call repeatedly.
func (s *StatsSampler) Stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
