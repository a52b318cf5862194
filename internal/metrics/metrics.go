// Package metrics exports a run summary in the Prometheus text format, suitable for the
// node_exporter textfile collector.
package metrics

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"s2idle/internal/model"
)

const promMetricPrefix = "s2idle_"

type collectors struct {
	cycleDuration  *prometheus.GaugeVec
	hardwareSleep  *prometheus.GaugeVec
	residency      *prometheus.GaugeVec
	cycleFailures  *prometheus.GaugeVec
	batteryDelta   *prometheus.GaugeVec
	prerequisites  *prometheus.GaugeVec
	cyclesTotal    prometheus.Gauge
	incomplete     prometheus.Gauge
	verdict        prometheus.Gauge
	durationMedian prometheus.Gauge
}

func newCollectors(reg *prometheus.Registry) *collectors {
	cycleGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: promMetricPrefix + name, Help: help}, []string{"cycle"})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: promMetricPrefix + name, Help: help})
	}
	c := &collectors{
		cycleDuration:  cycleGauge("cycle_duration_seconds", "Time spent in the suspend call"),
		hardwareSleep:  cycleGauge("cycle_hardware_sleep_seconds", "Time spent in the deepest hardware sleep state"),
		residency:      cycleGauge("cycle_residency_percent", "Hardware sleep residency of the cycle"),
		cycleFailures:  cycleGauge("cycle_failures", "Failures recorded for the cycle"),
		batteryDelta:   cycleGauge("cycle_battery_delta", "Battery energy change across the cycle in the battery's unit"),
		prerequisites:  prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: promMetricPrefix + "prerequisite_status", Help: "1 for the verdict of each prerequisite"}, []string{"name", "verdict"}),
		cyclesTotal:    gauge("cycles_total", "Cycles run"),
		incomplete:     gauge("cycles_incomplete", "Cycles that didn't complete"),
		verdict:        gauge("run_pass", "1 when the run passed, 0 when it failed"),
		durationMedian: gauge("cycle_duration_median_seconds", "Median duration of complete cycles"),
	}
	reg.MustRegister(c.cycleDuration, c.hardwareSleep, c.residency, c.cycleFailures, c.batteryDelta,
		c.prerequisites, c.cyclesTotal, c.incomplete, c.verdict, c.durationMedian)
	return c
}

// Gather builds a registry holding the metrics of the summary.
func Gather(summary model.RunSummary) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	c := newCollectors(reg)
	incomplete := 0
	for _, cyc := range summary.Cycles {
		label := strconv.Itoa(cyc.CycleNum)
		c.cycleFailures.WithLabelValues(label).Set(float64(len(summary.FailuresForCycle(cyc.CycleNum))))
		if cyc.Incomplete {
			incomplete++
			continue
		}
		c.cycleDuration.WithLabelValues(label).Set(cyc.Duration().Seconds())
		c.hardwareSleep.WithLabelValues(label).Set(cyc.HardwareSleep.Seconds())
		c.residency.WithLabelValues(label).Set(cyc.Residency())
		if cyc.Battery.Exists {
			c.batteryDelta.WithLabelValues(label).Set(float64(cyc.Battery.End - cyc.Battery.Start))
		}
	}
	for _, p := range summary.Prerequisites {
		c.prerequisites.WithLabelValues(p.Name, p.Verdict.String()).Set(1)
	}
	c.cyclesTotal.Set(float64(summary.TotalCycles))
	c.incomplete.Set(float64(incomplete))
	c.durationMedian.Set(summary.Durations.Median.Seconds())
	if summary.Verdict == model.VerdictPass {
		c.verdict.Set(1)
	}
	return reg
}

// WriteTextfile writes the metrics of the summary to path.
func WriteTextfile(path string, summary model.RunSummary) error {
	if err := prometheus.WriteToTextfile(path, Gather(summary)); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	slog.Info("wrote metrics", slog.String("path", path))
	return nil
}
