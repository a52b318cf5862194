// Package classify tags kernel log lines captured across a suspend cycle with a severity,
// records known failure conditions and extracts the facts (wake IRQs, sleep times, active
// GPIOs, ...) that the cycle summary reports.
package classify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"s2idle/internal/evidence"
	"s2idle/internal/model"
	"s2idle/internal/util"
)

// Context carries what the classifier needs to know about the cycle and the platform.
type Context struct {
	CycleNum int
	// DebugCapture retains unmatched lines as debug messages.
	DebugCapture bool
	// HighScrutiny is set for premature wakes; it retains unmatched lines like DebugCapture.
	HighScrutiny bool
	CPUFamily    int
	CPUModel     int
	SMUVersion   string
}

// Stats are the facts extracted from one cycle's log lines.
type Stats struct {
	SuspendEntered   bool
	SleepMode        string
	SleepCycles      int
	KernelSleep      time.Duration
	HardwareSleep    time.Duration
	WakeIRQs         []int
	ActiveGPIOs      []int
	IdleMasks        []string
	UPEP             bool
	UPEPMicrosoft    bool
	IRQ1Workaround   bool
	PageFaultDevices []string
	NotifyDevices    []string
	Benign           int
	Unmatched        int
	Dropped          int
}

func (st *Stats) addWakeIRQ(irq int) {
	st.WakeIRQs = util.UniqueAppend(st.WakeIRQs, irq)
}

func (st *Stats) addGPIO(gpio int) {
	st.ActiveGPIOs = util.UniqueAppend(st.ActiveGPIOs, gpio)
}

func (st *Stats) addPageFault(device string) {
	st.PageFaultDevices = util.UniqueAppend(st.PageFaultDevices, device)
}

func (st *Stats) addNotifyDevice(device string) {
	st.NotifyDevices = util.UniqueAppend(st.NotifyDevices, device)
}

// Result is the outcome of classifying one cycle.
type Result struct {
	Messages []model.ClassifiedMessage
	Failures []model.FailureRecord
	Notes    []model.CycleNote
	Stats    Stats
}

var (
	priorityPrefixRe = regexp.MustCompile(`^<(\d+)>`)
	timestampRe      = regexp.MustCompile(`^\[\s*\d+\.\d+\]\s?`)
)

// Normalize strips the kernel priority prefix and the dmesg timestamp from a line. The
// returned priority is the level encoded in the prefix, or fallback when there is none.
func Normalize(line string, fallback int) (string, int) {
	priority := fallback
	if m := priorityPrefixRe.FindStringSubmatch(line); m != nil {
		v, _ := strconv.Atoi(m[1])
		// facility is encoded above the low three bits
		priority = v % 8
		line = line[len(m[0]):]
	}
	line = timestampRe.ReplaceAllString(line, "")
	return strings.TrimRight(line, " \t\r"), priority
}

// Classify makes a single ordered pass over the lines of one cycle. Each line is tagged by
// the first catalog signature that matches. Lines no signature matches become debug
// messages, raised to warning or critical by their syslog priority.
func Classify(lines []evidence.LogLine, ctx Context) Result {
	return classifyWith(catalog, lines, ctx)
}

func classifyWith(signatures []Signature, lines []evidence.LogLine, ctx Context) Result {
	var res Result
	var failureOrder []string
	failures := make(map[string]*model.FailureRecord)
	keepDebug := ctx.DebugCapture || ctx.HighScrutiny

	for _, l := range lines {
		text, priority := Normalize(l.Text, l.Priority)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if rendered, handled, drop := RenderBIOSTrace(text); handled {
			if drop {
				res.Stats.Dropped++
				continue
			}
			text = rendered
			priority = 7
		}

		var matched *Signature
		var fields map[string]string
		for i := range signatures {
			if ok, f := signatures[i].Match(text); ok {
				matched = &signatures[i]
				fields = f
				break
			}
		}

		if matched == nil {
			res.Stats.Unmatched++
			severity := model.SeverityDebug
			if priority >= 0 && priority <= 4 {
				severity = model.SeverityFromPriority(priority)
			}
			if severity == model.SeverityDebug && !keepDebug {
				continue
			}
			res.Messages = append(res.Messages, model.ClassifiedMessage{Text: text, Severity: severity, CycleNum: ctx.CycleNum})
			continue
		}
		if matched.Extract != nil {
			matched.Extract(text, fields, &res.Stats)
		}
		if matched.Benign {
			res.Stats.Benign++
			continue
		}
		if matched.IsFailure {
			if rec, ok := failures[matched.Label]; ok {
				rec.Data += "\n" + text
			} else {
				failures[matched.Label] = &model.FailureRecord{CycleNum: ctx.CycleNum, Problem: matched.Label, Data: text}
				failureOrder = append(failureOrder, matched.Label)
			}
		}
		if matched.Severity == model.SeverityDebug && !keepDebug {
			continue
		}
		res.Messages = append(res.Messages, model.ClassifiedMessage{Text: text, Severity: matched.Severity, CycleNum: ctx.CycleNum})
	}

	for _, label := range failureOrder {
		res.Failures = append(res.Failures, *failures[label])
	}
	derive(&res, ctx)
	return res
}

// SoCNeedsIRQ1Workaround reports whether the platform firmware is known to report IRQ1 as
// a wake source spuriously.
func SoCNeedsIRQ1Workaround(family, cpuModel int, smuVersion string) bool {
	switch family {
	case 0x17:
		return cpuModel == 0x68 || cpuModel == 0x60
	case 0x19:
		if cpuModel != 0x50 {
			return false
		}
		cmp, err := util.CompareVersions(smuVersion, "64.66.0")
		return err == nil && cmp < 0
	}
	return false
}

// derive adds the failures and notes that depend on the whole pass
func derive(res *Result, ctx Context) {
	st := &res.Stats
	if st.SleepCycles > 0 {
		res.Notes = append(res.Notes, model.CycleNote{Text: fmt.Sprintf("Hardware sleep cycle count: %d", st.SleepCycles), Verdict: model.VerdictInfo})
	}
	if slices.Contains(st.WakeIRQs, 1) && SoCNeedsIRQ1Workaround(ctx.CPUFamily, ctx.CPUModel, ctx.SMUVersion) {
		if st.IRQ1Workaround {
			res.Notes = append(res.Notes, model.CycleNote{Text: "Kernel workaround for IRQ1 issue utilized", Verdict: model.VerdictInfo})
		} else {
			res.Notes = append(res.Notes, model.CycleNote{Text: ProblemIRQ1, Verdict: model.VerdictWarn})
			res.Failures = append(res.Failures, model.FailureRecord{
				CycleNum: ctx.CycleNum,
				Problem:  ProblemIRQ1,
				Data:     "The wakeup showed an IRQ1 wakeup source, which might be a platform firmware bug",
			})
		}
	}
	for _, bit := range changedIdleMaskBits(st.IdleMasks) {
		res.Notes = append(res.Notes, model.CycleNote{Text: fmt.Sprintf("Idle mask bit %d (0x%x) changed during suspend", bit, uint64(1)<<bit), Verdict: model.VerdictInfo})
	}
	if st.UPEP {
		guid := "AMD"
		if st.UPEPMicrosoft {
			guid = "Microsoft"
		}
		res.Notes = append(res.Notes, model.CycleNote{Text: fmt.Sprintf("Used %s uPEP GUID in LPS0 _DSM", guid), Verdict: model.VerdictInfo})
	}
	labels := mapset.NewSet[string]()
	for _, f := range res.Failures {
		labels.Add(f.Problem)
	}
	if labels.Contains(ProblemACPIError) {
		res.Notes = append(res.Notes, model.CycleNote{Text: "ACPI BIOS errors found", Verdict: model.VerdictFail})
	}
	if labels.Contains(ProblemPageFault) {
		res.Notes = append(res.Notes, model.CycleNote{Text: fmt.Sprintf("Page faults found for %s", strings.Join(st.PageFaultDevices, ", ")), Verdict: model.VerdictFail})
	}
	if len(st.NotifyDevices) > 0 {
		res.Notes = append(res.Notes, model.CycleNote{Text: fmt.Sprintf("Notify devices %s found during suspend", strings.Join(st.NotifyDevices, ", ")), Verdict: model.VerdictInfo})
	}
}

// changedIdleMaskBits returns the bits that were set in one idle mask and cleared in a later one
func changedIdleMaskBits(masks []string) []int {
	var changed uint64
	for i := range masks {
		mi, err := util.ParseHex(masks[i])
		if err != nil {
			continue
		}
		for j := i + 1; j < len(masks); j++ {
			mj, err := util.ParseHex(masks[j])
			if err != nil {
				continue
			}
			changed |= mi &^ mj
		}
	}
	var bits []int
	for bit := 0; bit < 31; bit++ {
		if changed&(1<<bit) != 0 {
			bits = append(bits, bit)
		}
	}
	return bits
}

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}
