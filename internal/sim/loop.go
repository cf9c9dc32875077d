// Package sim drives the scene at a fixed tick rate.
package sim

import (
	"context"
	"time"

	"holding-parade/server/internal/telemetry"
	"holding-parade/server/logging"
)

// Stepper advances by dt seconds.
type Stepper interface {
	Tick(dt float64)
}

// LoopConfig tunes the fixed-timestep runner.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
}

// StepResult describes one executed tick.
type StepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
}

type LoopHooks struct {
	AfterStep func(StepResult)
}

// Loop ticks a Stepper with the elapsed wall time, clamped so a stalled host
// does not produce one huge corrective step.
type Loop struct {
	stepper Stepper
	config  LoopConfig
	hooks   LoopHooks
	clock   logging.Clock
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

func NewLoop(stepper Stepper, cfg LoopConfig, hooks LoopHooks, clock logging.Clock, logger telemetry.Logger, metrics telemetry.Metrics) *Loop {
	if stepper == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 30
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Loop{stepper: stepper, config: cfg, hooks: hooks, clock: clock, logger: logger, metrics: metrics}
}

// MaxDelta is the largest dt handed to the stepper.
func (l *Loop) MaxDelta() float64 {
	budget := 1.0 / float64(l.config.TickRate)
	if l.config.CatchupMaxTicks > 1 {
		return budget * float64(l.config.CatchupMaxTicks)
	}
	return budget
}

// Run drives the loop until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	if l == nil {
		return
	}
	budget := time.Second / time.Duration(l.config.TickRate)
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	last := l.clock.Now()
	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := l.clock.Now()
			result := l.Advance(tick+1, now, now.Sub(last))
			last = now
			tick = result.Tick
			if result.Duration > budget {
				l.logger.Printf("[sim] tick %d took %s, budget %s", result.Tick, result.Duration, budget)
			}
		}
	}
}

// Advance executes one step for the given elapsed time.
func (l *Loop) Advance(tick uint64, now time.Time, elapsed time.Duration) StepResult {
	budgetSeconds := 1.0 / float64(l.config.TickRate)
	maxDt := l.MaxDelta()
	dt := elapsed.Seconds()
	clamped := false
	if dt <= 0 {
		dt = budgetSeconds
	} else if dt > maxDt {
		dt = maxDt
		clamped = true
	}

	start := l.clock.Now()
	l.stepper.Tick(dt)
	result := StepResult{
		Tick:         tick,
		Now:          now,
		Delta:        dt,
		Duration:     l.clock.Now().Sub(start),
		Budget:       time.Second / time.Duration(l.config.TickRate),
		ClampedDelta: clamped,
		MaxDelta:     maxDt,
	}
	if l.metrics != nil {
		l.metrics.Store("sim_tick", tick)
		if clamped {
			l.metrics.Add("sim_clamped_ticks", 1)
		}
	}
	if l.hooks.AfterStep != nil {
		l.hooks.AfterStep(result)
	}
	return result
}
