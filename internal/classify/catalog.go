package classify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/casbin/govaluate"

	"s2idle/internal/model"
)

// MatchKind selects how a Signature is matched against a line.
type MatchKind int

const (
	MatchSubstring MatchKind = iota
	MatchRegex
	// MatchExpression matches a regex with named captures and then evaluates a boolean
	// expression over the captured fields. Numeric captures are passed as numbers.
	MatchExpression
)

// ExtractFunc records what a matched line says about the cycle.
type ExtractFunc func(line string, fields map[string]string, st *Stats)

// Signature is one entry of the known-condition catalog.
type Signature struct {
	Label      string
	Kind       MatchKind
	Pattern    string
	Expression string
	Severity   model.Severity
	IsFailure  bool
	Benign     bool
	Extract    ExtractFunc

	re   *regexp.Regexp
	expr *govaluate.EvaluableExpression
}

// failure labels
const (
	ProblemACPIError       = "ACPI BIOS Errors detected"
	ProblemPageFault       = "IOMMU page fault"
	ProblemDeviceSuspend   = "Device failed to suspend"
	ProblemDeviceResume    = "Device failed to resume"
	ProblemSuspendAborted  = "Suspend aborted by wakeup event"
	ProblemIRQ1            = "IRQ1 found during wakeup"
	ProblemFirmwareMissing = "GPU firmware missing"
)

func (s *Signature) compile() error {
	switch s.Kind {
	case MatchRegex, MatchExpression:
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("signature %q: %w", s.Label, err)
		}
		s.re = re
	}
	if s.Kind == MatchExpression {
		expr, err := govaluate.NewEvaluableExpression(s.Expression)
		if err != nil {
			return fmt.Errorf("signature %q: %w", s.Label, err)
		}
		s.expr = expr
	}
	return nil
}

// Match reports whether the line matches, and the named captures for regex kinds.
func (s *Signature) Match(line string) (bool, map[string]string) {
	switch s.Kind {
	case MatchSubstring:
		return strings.Contains(line, s.Pattern), nil
	case MatchRegex, MatchExpression:
		m := s.re.FindStringSubmatch(line)
		if m == nil {
			return false, nil
		}
		fields := make(map[string]string)
		for i, name := range s.re.SubexpNames() {
			if name != "" && i < len(m) {
				fields[name] = m[i]
			}
		}
		if s.Kind == MatchRegex {
			return true, fields
		}
		params := make(map[string]any, len(fields))
		for k, v := range fields {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				params[k] = f
			} else {
				params[k] = v
			}
		}
		result, err := s.expr.Evaluate(params)
		if err != nil {
			return false, nil
		}
		ok, isBool := result.(bool)
		return isBool && ok, fields
	}
	return false, nil
}

func mustCompile(signatures []Signature) []Signature {
	for i := range signatures {
		if err := signatures[i].compile(); err != nil {
			panic(err)
		}
	}
	return signatures
}

// Catalog returns a copy of the ordered signature catalog.
func Catalog() []Signature {
	return append([]Signature(nil), catalog...)
}

// catalog is consulted in order; the first matching signature wins
var catalog = mustCompile([]Signature{
	{
		Label:    "suspend entry",
		Kind:     MatchRegex,
		Pattern:  `PM: suspend entry \((?P<mode>\w+)\)`,
		Severity: model.SeverityInfo,
		Extract: func(_ string, f map[string]string, st *Stats) {
			st.SuspendEntered = true
			st.SleepMode = f["mode"]
		},
	},
	{
		Label:    "suspend exit",
		Kind:     MatchSubstring,
		Pattern:  "PM: suspend exit",
		Severity: model.SeverityInfo,
	},
	{
		Label:    "timekeeping",
		Kind:     MatchRegex,
		Pattern:  `Timekeeping suspended for (?P<seconds>[0-9.]+) seconds`,
		Severity: model.SeverityInfo,
		Extract: func(_ string, f map[string]string, st *Stats) {
			st.SleepCycles++
			if v, err := strconv.ParseFloat(f["seconds"], 64); err == nil {
				st.KernelSleep += seconds(v)
			}
		},
	},
	{
		Label:    "uPEP transition",
		Kind:     MatchSubstring,
		Pattern:  "Successfully transitioned to state",
		Severity: model.SeverityDebug,
		Extract: func(line string, _ map[string]string, st *Stats) {
			st.UPEP = true
			if strings.Contains(line, "Successfully transitioned to state lps0 ms entry") {
				st.UPEPMicrosoft = true
			}
		},
	},
	{
		Label:    "LPS0 _DSM",
		Kind:     MatchRegex,
		Pattern:  `_DSM function (?P<fn>\d+)`,
		Severity: model.SeverityDebug,
		Extract: func(_ string, f map[string]string, st *Stats) {
			st.UPEP = true
			if f["fn"] == "7" {
				st.UPEPMicrosoft = true
			}
		},
	},
	{
		Label:    "deepest state residency",
		Kind:     MatchRegex,
		Pattern:  `Last suspend in deepest state for (?P<us>\d+)us`,
		Severity: model.SeverityInfo,
		Extract: func(_ string, f map[string]string, st *Stats) {
			if v, err := strconv.ParseFloat(f["us"], 64); err == nil {
				st.HardwareSleep += seconds(v / 1e6)
			}
		},
	},
	{
		Label:    "not deepest state",
		Kind:     MatchSubstring,
		Pattern:  "Last suspend didn't reach deepest state",
		Severity: model.SeverityWarning,
	},
	{
		Label:    "wakeup IRQ",
		Kind:     MatchRegex,
		Pattern:  `Triggering wakeup from IRQ (?P<irq>\d+)`,
		Severity: model.SeverityInfo,
		Extract: func(_ string, f map[string]string, st *Stats) {
			irq, err := strconv.Atoi(f["irq"])
			if err == nil && irq != 0 {
				st.addWakeIRQ(irq)
			}
		},
	},
	{
		Label:    "idle mask",
		Kind:     MatchRegex,
		Pattern:  `SMU idlemask s0i3: *(?P<mask>\S+)`,
		Severity: model.SeverityDebug,
		Extract: func(_ string, f map[string]string, st *Stats) {
			st.IdleMasks = append(st.IdleMasks, f["mask"])
		},
	},
	{
		Label:     ProblemACPIError,
		Kind:      MatchRegex,
		Pattern:   `ACPI (BIOS )?Error`,
		Severity:  model.SeverityCritical,
		IsFailure: true,
	},
	{
		Label:    "active GPIO",
		Kind:     MatchRegex,
		Pattern:  `GPIO.*is active`,
		Severity: model.SeverityInfo,
		Extract: func(line string, _ map[string]string, st *Stats) {
			for _, n := range digitsRe.FindAllString(activeGPIORe.FindString(line), -1) {
				if gpio, err := strconv.Atoi(n); err == nil {
					st.addGPIO(gpio)
				}
			}
		},
	},
	{
		Label:    "IRQ1 workaround",
		Kind:     MatchSubstring,
		Pattern:  "Disabling IRQ1 wakeup source to avoid platform firmware bug",
		Severity: model.SeverityInfo,
		Extract: func(_ string, _ map[string]string, st *Stats) {
			st.IRQ1Workaround = true
		},
	},
	{
		Label:     ProblemPageFault,
		Kind:      MatchRegex,
		Pattern:   `Event logged \[IO_PAGE_FAULT device=(?P<device>\S+?) domain`,
		Severity:  model.SeverityCritical,
		IsFailure: true,
		Extract: func(_ string, f map[string]string, st *Stats) {
			st.addPageFault(f["device"])
		},
	},
	{
		Label:    "notify",
		Kind:     MatchRegex,
		Pattern:  `Dispatching Notify on \[(?P<device>[^\]]+)\]`,
		Severity: model.SeverityDebug,
		Extract: func(_ string, f map[string]string, st *Stats) {
			st.addNotifyDevice(f["device"])
		},
	},
	{
		Label:      ProblemDeviceSuspend,
		Kind:       MatchExpression,
		Pattern:    `PM: .*failed to (?:suspend|freeze)(?: async| noirq| late)?: error (?P<errno>-?\d+)`,
		Expression: "errno < 0",
		Severity:   model.SeverityCritical,
		IsFailure:  true,
	},
	{
		Label:      ProblemDeviceResume,
		Kind:       MatchExpression,
		Pattern:    `PM: .*failed to (?:resume|restore|thaw)(?: async| noirq| early)?: error (?P<errno>-?\d+)`,
		Expression: "errno < 0",
		Severity:   model.SeverityCritical,
		IsFailure:  true,
	},
	{
		Label:     ProblemSuspendAborted,
		Kind:      MatchSubstring,
		Pattern:   "PM: Some devices failed to suspend, or early wake event detected",
		Severity:  model.SeverityCritical,
		IsFailure: true,
	},
	{
		Label:      "slow device suspend",
		Kind:       MatchExpression,
		Pattern:    `PM: suspend (?:devices|of devices complete after) (?:took )?(?P<value>[0-9.]+) (?P<unit>seconds|msecs)`,
		Expression: "(unit == 'seconds' && value > 1) || (unit == 'msecs' && value > 1000)",
		Severity:   model.SeverityWarning,
	},
	{
		Label:      "slow device resume",
		Kind:       MatchExpression,
		Pattern:    `PM: resume (?:devices|of devices complete after) (?:took )?(?P<value>[0-9.]+) (?P<unit>seconds|msecs)`,
		Expression: "(unit == 'seconds' && value > 1) || (unit == 'msecs' && value > 1000)",
		Severity:   model.SeverityWarning,
	},
	{
		Label:      "slow freeze",
		Kind:       MatchExpression,
		Pattern:    `Freezing (?:user space|remaining freezable tasks) .*completed \(elapsed (?P<seconds>[0-9.]+) seconds\)`,
		Expression: "seconds > 1",
		Severity:   model.SeverityWarning,
	},
	{
		Label:    "wakeup source abort",
		Kind:     MatchRegex,
		Pattern:  `(?:Wakeup pending, aborting suspend|PM: Wakeup pending, aborting suspend|Abort: Last active Wakeup Source: (?P<source>\S+))`,
		Severity: model.SeverityWarning,
	},
	{
		Label:      ProblemFirmwareMissing,
		Kind:       MatchExpression,
		Pattern:    `Direct firmware load for (?P<file>amdgpu/\S+) failed`,
		Expression: "file !~ '^amdgpu/isp'",
		Severity:   model.SeverityCritical,
		IsFailure:  true,
	},
	{
		Label:    "amdgpu error",
		Kind:     MatchRegex,
		Pattern:  `amdgpu.*\*ERROR\*`,
		Severity: model.SeverityCritical,
	},
	{
		Label:   "benign",
		Kind:    MatchRegex,
		Pattern: `^(?:PM: )?(?:ACPI: EC: (?:interrupt|event) (?:un)?blocked|Filesystems sync: |OOM killer (?:dis|en)abled|Restarting tasks|printk: (?:Suspending|Resuming) console|Freezing (?:user space processes|remaining freezable tasks)|Disabling non-boot CPUs|Enabling non-boot CPUs|random: crng reseeded)`,
		Benign:  true,
	},
})

var (
	activeGPIORe = regexp.MustCompile(`GPIO.*is active`)
	digitsRe     = regexp.MustCompile(`\d+`)
)
