package cycle

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"s2idle/internal/evidence"
	"s2idle/internal/model"
)

// Countdown waits for d while telling the user what happens next. It returns early with the
// context's error when the context is cancelled.
type Countdown interface {
	Countdown(ctx context.Context, d time.Duration, message string) error
}

// Recorder persists finished cycles.
type Recorder interface {
	RecordCycle(rec model.CycleRecord) error
}

// Result is the outcome of a run.
type Result struct {
	Cycles      []model.CycleRecord
	Aborted     bool
	AbortReason string
}

// Orchestrator runs the configured number of suspend/resume cycles, one after another.
type Orchestrator struct {
	cfg       Config
	wake      evidence.WakeControl
	collector *Collector
	countdown Countdown
	reporter  Reporter
	recorder  Recorder
	rand      *rand.Rand
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCountdown replaces the plain timer used between cycles.
func WithCountdown(c Countdown) Option {
	return func(o *Orchestrator) { o.countdown = c }
}

// WithReporter sets the receiver of cycle state changes.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithRecorder persists every cycle once it is finalized.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRand sets the source of the random durations and waits.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) { o.rand = r }
}

// NewOrchestrator returns an orchestrator for cfg. The collector's WakeTolerance and
// DebugCapture are taken from cfg.
func NewOrchestrator(cfg Config, wake evidence.WakeControl, collector *Collector, opts ...Option) *Orchestrator {
	collector.WakeTolerance = cfg.WakeTolerance
	collector.DebugCapture = cfg.DebugCapture
	o := &Orchestrator{
		cfg:       cfg,
		wake:      wake,
		collector: collector,
		countdown: timerCountdown{},
		rand:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run validates the configuration and runs the cycles. Failures of a single cycle are
// recorded in its CycleRecord and the run continues. A cancelled context stops the run
// before the next cycle is armed and marks it aborted.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := o.cfg.Validate(); err != nil {
		return res, err
	}
	slog.Info("starting cycles", slog.Int("count", o.cfg.Count), slog.String("duration", o.cfg.Duration.String()),
		slog.String("wait", o.cfg.Wait.String()), slog.Bool("random", o.cfg.Random))
	for i := 0; i < o.cfg.Count; i++ {
		if err := ctx.Err(); err != nil {
			res.abort(err)
			break
		}
		duration, wait := o.pick()
		if err := o.countdown.Countdown(ctx, wait/2, fmt.Sprintf("Suspending for %s", duration)); err != nil {
			res.abort(err)
			break
		}
		rec := o.runCycle(ctx, i, duration)
		if o.recorder != nil {
			if err := o.recorder.RecordCycle(rec); err != nil {
				slog.Warn("unable to record cycle", slog.Int("cycle", i), slog.String("error", err.Error()))
			}
		}
		res.Cycles = append(res.Cycles, rec)
		if err := o.countdown.Countdown(ctx, wait/2, "Collecting data"); err != nil {
			res.abort(err)
			break
		}
	}
	slog.Info("cycles finished", slog.Int("cycles", len(res.Cycles)), slog.Bool("aborted", res.Aborted))
	return res, nil
}

func (r *Result) abort(err error) {
	r.Aborted = true
	r.AbortReason = err.Error()
	slog.Warn("run aborted", slog.Int("cycles", len(r.Cycles)), slog.String("reason", r.AbortReason))
}

// pick returns the duration and wait of the next cycle, randomized when configured
func (o *Orchestrator) pick() (time.Duration, time.Duration) {
	if !o.cfg.Random {
		return o.cfg.Duration, o.cfg.Wait
	}
	durSpan := int64((o.cfg.Duration - MinDuration) / time.Second)
	duration := MinDuration + time.Duration(o.rand.Int64N(durSpan+1))*time.Second
	wait := o.cfg.Wait
	if wait >= minWait {
		waitSpan := int64((wait - minWait) / time.Second)
		wait = minWait + time.Duration(o.rand.Int64N(waitSpan+1))*time.Second
	}
	return duration, wait
}

func (o *Orchestrator) runCycle(ctx context.Context, num int, requested time.Duration) model.CycleRecord {
	rec := model.CycleRecord{CycleNum: num, RequestedDuration: requested}
	m := &machine{cycleNum: num, count: o.cfg.Count, reporter: o.reporter}

	m.to(StateArming)
	before := o.collector.Snapshot()
	if err := o.wake.ArmWakeAlarm(requested); err != nil {
		rec.Start = o.collector.now()
		rec.End = rec.Start
		rec.Incomplete = true
		rec.AbortReason = fmt.Sprintf("Unable to program wake alarm: %v", err)
		rec.Battery = before.Battery
		slog.Error("unable to arm wake alarm", slog.Int("cycle", num), slog.String("error", err.Error()))
		m.to(StateAborted)
		return rec
	}

	rec.Start = o.collector.now()
	m.to(StateSuspending)
	elapsed, err := o.wake.Suspend(ctx, o.cfg.SuspendTimeout)
	if elapsed < 0 {
		elapsed = 0
	}
	rec.End = rec.Start.Add(elapsed)
	if err != nil {
		rec.Incomplete = true
		rec.AbortReason = fmt.Sprintf("Suspend failed: %v", err)
		slog.Error("suspend failed", slog.Int("cycle", num), slog.String("error", err.Error()))
	} else {
		m.to(StateSuspended)
		m.to(StateResuming)
		m.to(StateCapturing)
	}

	o.collector.Finalize(ctx, &rec, before)
	if rec.Incomplete {
		m.to(StateAborted)
	} else {
		m.to(StateComplete)
	}
	return rec
}

type timerCountdown struct{}

func (timerCountdown) Countdown(ctx context.Context, d time.Duration, _ string) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
