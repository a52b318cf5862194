package classify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2idle/internal/evidence"
	"s2idle/internal/model"
)

func logLines(texts ...string) []evidence.LogLine {
	lines := make([]evidence.LogLine, len(texts))
	for i, t := range texts {
		lines[i] = evidence.LogLine{Priority: -1, Text: t}
	}
	return lines
}

func TestRenderBIOSTrace(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
		handled  bool
		drop     bool
	}{
		{
			name:     "no specifiers",
			line:     `ex_trace_args: "format_string", 0x1234, 0x5678`,
			expected: "format_string",
			handled:  true,
		},
		{
			name:     "unknown argument",
			line:     `ex_trace_args: "format_string", Unknown, 0x5678`,
			expected: "format_string",
			handled:  true,
		},
		{
			name:    "trace point",
			line:    `ex_trace_point: "format_string", 0x1234, 0x5678`,
			handled: true,
			drop:    true,
		},
		{
			name:     "post code",
			line:     `ex_trace_args: "  POST CODE: %X  ACPI TIMER: %X  TIME: %d.%d ms\n", b0003f33, 83528798, 0, 77, 0, 0`,
			expected: "POST CODE: B0003F33  ACPI TIMER: 83528798  TIME: 0.77 ms",
			handled:  true,
		},
		{
			name:     "_REG print",
			line:     `ex_trace_args:  "  OEM-ASL-PCIe Address (0x%X)._REG (%d %d)  PCSA = %d\n", ec303000, 2, 0, 0, 0, 0`,
			expected: "OEM-ASL-PCIe Address (0xEC303000)._REG (2 0)  PCSA = 0",
			handled:  true,
		},
		{
			name:     "too many arguments",
			line:     `ex_trace_args         :  "  APGE                  = %d\n", 1, 0, 0, 0, 0, 0`,
			expected: "APGE                  = 1",
			handled:  true,
		},
		{
			name:     "notify dispatch",
			line:     "evmisc-0132 ev_queue_notify_reques: Dispatching Notify on [UBTC] (Device) Value 0x80 (Status Change) Node 00000000851b15c1",
			expected: "Dispatching Notify on [UBTC] (Device) Value 0x80 (Status Change)",
			handled:  true,
		},
		{
			name:     "ordinary line",
			line:     "PM: suspend entry (s2idle)",
			expected: "PM: suspend entry (s2idle)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, handled, drop := RenderBIOSTrace(tt.line)
			assert.Equal(t, tt.handled, handled)
			assert.Equal(t, tt.drop, drop)
			if !tt.drop {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		line     string
		fallback int
		text     string
		priority int
	}{
		{"<3>[  12.3456] ACPI Error: AE_NOT_FOUND", -1, "ACPI Error: AE_NOT_FOUND", 3},
		{"[    0.000000] Linux version 6.9.0", -1, "Linux version 6.9.0", -1},
		{"PM: suspend exit", 6, "PM: suspend exit", 6},
		{"<14>[  15.0001] PM: suspend entry (s2idle)", -1, "PM: suspend entry (s2idle)", 6},
		{"<11>amd_pmc AMDI0009:00: SMU cmd failed", -1, "amd_pmc AMDI0009:00: SMU cmd failed", 3},
	}
	for _, tt := range tests {
		text, priority := Normalize(tt.line, tt.fallback)
		assert.Equal(t, tt.text, text)
		assert.Equal(t, tt.priority, priority)
	}
}

func TestCatalogCompiles(t *testing.T) {
	sigs := Catalog()
	require.NotEmpty(t, sigs)
	for _, s := range sigs {
		assert.NotEmpty(t, s.Label)
		if s.Kind != MatchSubstring {
			assert.NotNil(t, s.re, s.Label)
		}
		if s.Kind == MatchExpression {
			assert.NotNil(t, s.expr, s.Label)
		}
	}
}

func TestClassifyExtractsCycleFacts(t *testing.T) {
	lines := logLines(
		"PM: suspend entry (s2idle)",
		"ACPI: EC: interrupt blocked",
		"amd_pmc: SMU idlemask s0i3: 0x3ffff",
		"ACPI: \\_SB_.PEP_: Successfully transitioned to state lps0 ms entry",
		"Timekeeping suspended for 9.512 seconds",
		"amd_pmc AMDI0007:00: Last suspend in deepest state for 9300000us",
		"PM: Triggering wakeup from IRQ 9",
		"PM: Triggering wakeup from IRQ 9",
		"amd_gpio AMDI0030:00: GPIO 0 is active: 0x38145b00",
		"amd_pmc: SMU idlemask s0i3: 0x3fff7",
		"evmisc-0132 ev_queue_notify_reques: Dispatching Notify on [UBTC] (Device) Value 0x80 (Status Change) Node 00000000851b15c1",
		"some unmatched driver chatter",
		"PM: suspend exit",
	)
	res := Classify(lines, Context{CycleNum: 2})
	st := res.Stats
	assert.True(t, st.SuspendEntered)
	assert.Equal(t, "s2idle", st.SleepMode)
	assert.Equal(t, 1, st.SleepCycles)
	assert.Equal(t, 9512*time.Millisecond, st.KernelSleep)
	assert.Equal(t, 9300*time.Millisecond, st.HardwareSleep)
	assert.Equal(t, []int{9}, st.WakeIRQs)
	assert.Equal(t, []int{0}, st.ActiveGPIOs)
	assert.Equal(t, []string{"UBTC"}, st.NotifyDevices)
	assert.True(t, st.UPEP)
	assert.True(t, st.UPEPMicrosoft)
	assert.Equal(t, 1, st.Benign)
	assert.Equal(t, 1, st.Unmatched)
	assert.Empty(t, res.Failures)

	for _, m := range res.Messages {
		assert.Equal(t, 2, m.CycleNum)
		assert.NotEqual(t, model.SeverityDebug, m.Severity, m.Text)
	}
	var notes []string
	for _, n := range res.Notes {
		notes = append(notes, n.Text)
	}
	assert.Contains(t, notes, "Hardware sleep cycle count: 1")
	assert.Contains(t, notes, "Idle mask bit 3 (0x8) changed during suspend")
	assert.Contains(t, notes, "Used Microsoft uPEP GUID in LPS0 _DSM")
	assert.Contains(t, notes, "Notify devices UBTC found during suspend")
}

func TestClassifyDebugRetention(t *testing.T) {
	lines := logLines("some unmatched driver chatter", "amd_pmc: SMU idlemask s0i3: 0x3ffff")
	tests := []struct {
		name     string
		ctx      Context
		expected int
	}{
		{"default drops debug", Context{}, 0},
		{"debug capture", Context{DebugCapture: true}, 2},
		{"high scrutiny", Context{HighScrutiny: true}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(lines, tt.ctx)
			assert.Len(t, res.Messages, tt.expected)
			for _, m := range res.Messages {
				assert.Equal(t, model.SeverityDebug, m.Severity)
			}
		})
	}
}

func TestClassifyPriorityRaisesUnmatched(t *testing.T) {
	lines := []evidence.LogLine{
		{Priority: 3, Text: "nvme nvme0: controller is down"},
		{Priority: 4, Text: "usb 1-1: device descriptor read/64, error -71"},
		{Priority: 6, Text: "usb 1-1: new high-speed USB device"},
		{Priority: -1, Text: "<4>[ 100.1] r8169 0000:02:00.0: link down"},
	}
	res := Classify(lines, Context{})
	require.Len(t, res.Messages, 3)
	assert.Equal(t, model.SeverityCritical, res.Messages[0].Severity)
	assert.Equal(t, model.SeverityWarning, res.Messages[1].Severity)
	assert.Equal(t, model.SeverityWarning, res.Messages[2].Severity)
	assert.Equal(t, "r8169 0000:02:00.0: link down", res.Messages[2].Text)
}

func TestClassifyFailures(t *testing.T) {
	lines := logLines(
		"ACPI BIOS Error (bug): Could not resolve symbol [\\_SB.PCI0.GPP0], AE_NOT_FOUND",
		"ACPI Error: Aborting method \\_SB.PCI0.GPP0._REG due to previous error (AE_NOT_FOUND)",
		"AMD-Vi: Event logged [IO_PAGE_FAULT device=0000:00:0c.0 domain=0x0000 address=0x7e800000 flags=0x0050]",
		"AMD-Vi: Event logged [IO_PAGE_FAULT device=0000:00:0c.0 domain=0x0000 address=0x7e801000 flags=0x0050]",
		"PM: dpm_run_callback(): pci_pm_suspend+0x0/0x170 returns -16",
		"PM: Device 0000:00:08.1 failed to suspend async: error -16",
		"PM: suspend devices took 0.400 seconds",
		"PM: resume devices took 2.100 seconds",
	)
	res := Classify(lines, Context{CycleNum: 0})
	require.Len(t, res.Failures, 3)
	assert.Equal(t, ProblemACPIError, res.Failures[0].Problem)
	assert.Equal(t, "ACPI BIOS Error (bug): Could not resolve symbol [\\_SB.PCI0.GPP0], AE_NOT_FOUND\n"+
		"ACPI Error: Aborting method \\_SB.PCI0.GPP0._REG due to previous error (AE_NOT_FOUND)", res.Failures[0].Data)
	assert.Equal(t, ProblemPageFault, res.Failures[1].Problem)
	assert.Equal(t, []string{"0000:00:0c.0"}, res.Stats.PageFaultDevices)
	assert.Equal(t, ProblemDeviceSuspend, res.Failures[2].Problem)

	var warnings []string
	for _, m := range res.Messages {
		if m.Severity == model.SeverityWarning {
			warnings = append(warnings, m.Text)
		}
	}
	assert.Equal(t, []string{"PM: resume devices took 2.100 seconds"}, warnings)
}

func TestClassifyFirmwareExpression(t *testing.T) {
	res := Classify(logLines(
		"amdgpu 0000:c4:00.0: Direct firmware load for amdgpu/isp_4_1_0.bin failed with error -2",
	), Context{})
	assert.Empty(t, res.Failures)

	res = Classify(logLines(
		"amdgpu 0000:c4:00.0: Direct firmware load for amdgpu/psp_14_0_0_toc.bin failed with error -2",
	), Context{})
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ProblemFirmwareMissing, res.Failures[0].Problem)
}

func TestClassifyIRQ1(t *testing.T) {
	lines := logLines("PM: Triggering wakeup from IRQ 1")
	tests := []struct {
		name     string
		lines    []evidence.LogLine
		ctx      Context
		failures int
	}{
		{"affected model", lines, Context{CPUFamily: 0x17, CPUModel: 0x68}, 1},
		{"affected firmware", lines, Context{CPUFamily: 0x19, CPUModel: 0x50, SMUVersion: "64.65.0"}, 1},
		{"fixed firmware", lines, Context{CPUFamily: 0x19, CPUModel: 0x50, SMUVersion: "64.66.0"}, 0},
		{"unaffected", lines, Context{CPUFamily: 0x19, CPUModel: 0x74}, 0},
		{"workaround active", append(logLines("Disabling IRQ1 wakeup source to avoid platform firmware bug"), lines...),
			Context{CPUFamily: 0x17, CPUModel: 0x60}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Classify(tt.lines, tt.ctx)
			assert.Len(t, res.Failures, tt.failures)
			if tt.failures > 0 {
				assert.Equal(t, ProblemIRQ1, res.Failures[0].Problem)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	lines := logLines(
		"ACPI Error: AE_NOT_FOUND",
		"PM: Triggering wakeup from IRQ 9",
		"GPIO 18 is active: 0x1",
		"unmatched",
	)
	ctx := Context{CycleNum: 1, DebugCapture: true}
	first := Classify(lines, ctx)
	second := Classify(lines, ctx)
	assert.Equal(t, first, second)
}

func TestClassifyFirstMatchWins(t *testing.T) {
	sigs := mustCompile([]Signature{
		{Label: "first", Kind: MatchSubstring, Pattern: "wake", Severity: model.SeverityWarning},
		{Label: "second", Kind: MatchSubstring, Pattern: "wake", Severity: model.SeverityCritical, IsFailure: true},
	})
	res := classifyWith(sigs, logLines("spurious wake"), Context{})
	require.Len(t, res.Messages, 1)
	assert.Equal(t, model.SeverityWarning, res.Messages[0].Severity)
	assert.Empty(t, res.Failures)
}
