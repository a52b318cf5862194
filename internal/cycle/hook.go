package cycle

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"s2idle/internal/model"
	"s2idle/internal/prereq"
)

// HookStore keeps the state handed from the pre-suspend hook to the post-resume hook.
type HookStore interface {
	Recorder
	HasPrerequisites(since time.Time) (bool, error)
	RecordPrerequisites(res prereq.Result) error
	BeginCycle(start time.Time, battery model.BatterySample) error
	PendingCycle() (time.Time, model.BatterySample, bool, error)
	CycleCount(since time.Time) (int, error)
}

// RunPrerequisitesOnce is the pre-suspend hook. Prerequisites are evaluated and stored the
// first time it runs after boot; every call records the start of a cycle. The returned
// bool reports whether prerequisites were evaluated.
func RunPrerequisitesOnce(ctx context.Context, st HookStore, boot time.Time, evaluate func(context.Context) prereq.Result, c *Collector) (prereq.Result, bool, error) {
	var res prereq.Result
	done, err := st.HasPrerequisites(boot)
	if err != nil {
		return res, false, errors.Wrap(err, "failed to query prerequisites")
	}
	evaluated := false
	if !done {
		res = evaluate(ctx)
		if err := st.RecordPrerequisites(res); err != nil {
			return res, false, errors.Wrap(err, "failed to record prerequisites")
		}
		evaluated = true
	}
	snap := c.Snapshot()
	start := c.now()
	if err := st.BeginCycle(start, snap.Battery); err != nil {
		return res, evaluated, errors.Wrap(err, "failed to record cycle start")
	}
	slog.Info("pre-suspend hook", slog.Bool("prerequisites", evaluated), slog.Time("start", start))
	return res, evaluated, nil
}

// FinalizeCycle is the post-resume hook. It completes the cycle started by the last
// RunPrerequisitesOnce call and stores it, numbered after the cycles recorded since boot.
func FinalizeCycle(ctx context.Context, st HookStore, boot time.Time, c *Collector) (model.CycleRecord, error) {
	start, battery, ok, err := st.PendingCycle()
	if err != nil {
		return model.CycleRecord{}, errors.Wrap(err, "failed to query pending cycle")
	}
	if !ok {
		return model.CycleRecord{}, ErrNoPendingCycle
	}
	num, err := st.CycleCount(boot)
	if err != nil {
		return model.CycleRecord{}, errors.Wrap(err, "failed to count cycles")
	}
	rec := model.CycleRecord{CycleNum: num, Start: start, End: c.now()}
	if rec.End.Before(rec.Start) {
		rec.End = rec.Start
	}
	c.Finalize(ctx, &rec, Snapshot{Battery: battery, SuspendCount: -1})
	if err := st.RecordCycle(rec); err != nil {
		return rec, errors.Wrap(err, "failed to record cycle")
	}
	return rec, nil
}
