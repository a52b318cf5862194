package cycle

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"s2idle/internal/classify"
	"s2idle/internal/evidence"
	"s2idle/internal/model"
	"s2idle/internal/util"
)

// ProblemSpuriousWakeup labels a cycle that resumed well before its wake alarm.
const ProblemSpuriousWakeup = "Spurious wakeup"

// a cycle that returns sooner than this without the kernel reporting suspend entry never suspended
const immediateReturn = time.Second

// Snapshot is the counter state sampled before a cycle.
type Snapshot struct {
	Battery model.BatterySample
	// SuspendCount is -1 when unknown.
	SuspendCount int64
	// GPEs is nil when the counters were not sampled, e.g., across the suspend hooks.
	GPEs map[string]int64
}

// Collector gathers the evidence of a finished cycle and classifies it. It is shared by the
// orchestrator and the hook entry points.
type Collector struct {
	Log      evidence.KernelLog
	Counters evidence.Counters
	// Platform seeds the classifier context; CycleNum and scrutiny are set per cycle.
	Platform      classify.Context
	DebugCapture  bool
	WakeTolerance float64
	Now           func() time.Time
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return evidence.WallNow()
}

// Snapshot samples the counters compared against after the cycle.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{SuspendCount: -1, GPEs: c.Counters.GPECounts()}
	if n, err := c.Counters.SuspendCount(); err == nil {
		snap.SuspendCount = n
	}
	if batteries, err := c.Counters.Batteries(); err == nil && len(batteries) > 0 {
		b := batteries[0]
		snap.Battery = model.BatterySample{Name: b.Name, Unit: b.Unit, Start: b.Energy, Full: b.Full, Exists: true}
	}
	return snap
}

// Finalize reads the kernel log window and counters of a cycle whose Start and End are
// set, classifies the log and fills in the record. A cycle that returned immediately
// without entering suspend is marked incomplete; one that woke well before the requested
// duration is flagged as a premature wake and classified with high scrutiny.
func (c *Collector) Finalize(ctx context.Context, rec *model.CycleRecord, before Snapshot) {
	elapsed := rec.Duration()
	premature := !rec.Incomplete && rec.RequestedDuration > 0 &&
		float64(elapsed) < c.WakeTolerance*float64(rec.RequestedDuration)

	lines, err := c.Log.Read(ctx, rec.Start, rec.End)
	if err != nil {
		slog.Warn("unable to read kernel log for cycle", slog.Int("cycle", rec.CycleNum), slog.String("error", err.Error()))
		rec.Notes = append(rec.Notes, model.CycleNote{Text: "Kernel log unavailable for this cycle", Verdict: model.VerdictWarn})
	}
	rec.RawLines = evidence.Texts(lines)

	cctx := c.Platform
	cctx.CycleNum = rec.CycleNum
	cctx.DebugCapture = c.DebugCapture
	cctx.HighScrutiny = premature
	res := classify.Classify(lines, cctx)
	rec.Messages = res.Messages
	rec.Failures = append(rec.Failures, res.Failures...)
	rec.Notes = append(rec.Notes, res.Notes...)
	rec.WakeIRQs = res.Stats.WakeIRQs
	rec.ActiveGPIOs = res.Stats.ActiveGPIOs
	rec.KernelSleep = res.Stats.KernelSleep

	suspended := true
	if before.SuspendCount >= 0 {
		if after, err := c.Counters.SuspendCount(); err == nil && after == before.SuspendCount {
			suspended = false
		}
	}
	rec.HardwareSleep = res.Stats.HardwareSleep
	if hw, err := c.Counters.HardwareSleep(); err == nil && hw > 0 && suspended {
		rec.HardwareSleep = hw
	}
	wakeIRQ := 0
	if irq, err := c.Counters.WakeupIRQ(); err == nil && irq > 0 && suspended {
		rec.WakeIRQs = util.UniqueAppend(rec.WakeIRQs, irq)
		wakeIRQ = irq
	}

	rec.Battery = before.Battery
	if batteries, err := c.Counters.Batteries(); err == nil && before.Battery.Exists {
		for _, b := range batteries {
			if b.Name == before.Battery.Name {
				rec.Battery.End = b.Energy
			}
		}
	}

	switch {
	case rec.Incomplete:
	case !res.Stats.SuspendEntered && elapsed < immediateReturn:
		rec.Incomplete = true
		rec.AbortReason = fmt.Sprintf("Suspend returned after %s without entering suspend", elapsed.Round(time.Millisecond))
	case premature:
		rec.PrematureWake = true
		rec.Failures = append(rec.Failures, model.FailureRecord{
			CycleNum: rec.CycleNum,
			Problem:  ProblemSpuriousWakeup,
			Data:     fmt.Sprintf("Woke up after %s of %s requested", elapsed.Round(time.Second), rec.RequestedDuration),
		})
	}
	if !rec.Incomplete {
		rec.Notes = append(rec.Notes, c.cycleNotes(rec, before, wakeIRQ)...)
	}
	slog.Info("cycle captured", slog.Int("cycle", rec.CycleNum), slog.String("duration", elapsed.String()),
		slog.String("hardware_sleep", rec.HardwareSleep.String()), slog.Int("lines", len(rec.RawLines)),
		slog.Int("failures", len(rec.Failures)), slog.Bool("incomplete", rec.Incomplete))
}

// cycleNotes describes how long the cycle spent in each layer of suspend, what woke it and
// which ACPI events fired while it was suspended.
func (c *Collector) cycleNotes(rec *model.CycleRecord, before Snapshot, wakeIRQ int) []model.CycleNote {
	var notes []model.CycleNote
	elapsed := rec.Duration()
	if rec.PrematureWake {
		minimum := time.Duration(c.WakeTolerance * float64(rec.RequestedDuration))
		notes = append(notes, model.CycleNote{Text: fmt.Sprintf("Userspace suspended for %s (< minimum expected %s)", elapsed.Round(time.Millisecond), minimum.Round(time.Millisecond)), Verdict: model.VerdictFail})
	} else {
		notes = append(notes, model.CycleNote{Text: fmt.Sprintf("Userspace suspended for %s", elapsed.Round(time.Millisecond)), Verdict: model.VerdictPass})
	}
	if rec.KernelSleep > 0 && elapsed > 0 {
		notes = append(notes, model.CycleNote{Text: fmt.Sprintf("Kernel suspended for total of %s (%.2f%%)", rec.KernelSleep.Round(time.Millisecond), 100*rec.KernelSleep.Seconds()/elapsed.Seconds()), Verdict: model.VerdictPass})
	}
	if rec.HardwareSleep <= 0 {
		notes = append(notes, model.CycleNote{Text: "Did not reach hardware sleep state", Verdict: model.VerdictFail})
	}
	if wakeIRQ > 0 {
		text := fmt.Sprintf("Woke up from IRQ %d", wakeIRQ)
		if desc := c.Counters.WakeupIRQDescription(wakeIRQ); desc != "" {
			text += " (" + desc + ")"
		}
		notes = append(notes, model.CycleNote{Text: text, Verdict: model.VerdictInfo})
	}
	if before.GPEs != nil {
		after := c.Counters.GPECounts()
		for _, name := range slices.Sorted(maps.Keys(after)) {
			if prev, ok := before.GPEs[name]; ok && prev != after[name] {
				notes = append(notes, model.CycleNote{Text: fmt.Sprintf("%s increased from %d to %d", name, prev, after[name]), Verdict: model.VerdictInfo})
			}
		}
	}
	return notes
}
