package prereq

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2idle/internal/evidence"
	"s2idle/internal/model"
)

type fakeLog struct {
	name   string
	lines  []string
	header string
}

func (f *fakeLog) Name() string { return f.name }

func (f *fakeLog) Read(_ context.Context, _, _ time.Time) ([]evidence.LogLine, error) {
	var out []evidence.LogLine
	for _, l := range f.lines {
		out = append(out, evidence.LogLine{Priority: -1, Text: l})
	}
	return out, nil
}

type fakeDmesg struct {
	fakeLog
}

func (f *fakeDmesg) Header(_ context.Context) (string, error) { return f.header, nil }

func healthyFiles() map[string]string {
	return map[string]string{
		"etc/os-release":                                        "NAME=\"Ubuntu\"\nPRETTY_NAME=\"Ubuntu 24.04 LTS\"\n",
		"proc/cpuinfo":                                          "processor\t: 0\nvendor_id\t: AuthenticAMD\ncpu family\t: 25\nmodel\t\t: 116\nmodel name\t: AMD Ryzen 7 7840U\n\nprocessor\t: 1\n",
		"proc/sys/kernel/osrelease":                             "6.10.0\n",
		"proc/cmdline":                                          "BOOT_IMAGE=/vmlinuz root=UUID=1234 ro quiet splash amd_iommu=off\n",
		"proc/sys/kernel/tainted":                               "0\n",
		"boot/config-6.10.0":                                    "# comment\nCONFIG_SUSPEND=y\nCONFIG_ACPI_SLEEP=y\nCONFIG_AMD_PMC=m\n",
		"sys/power/state":                                       "freeze mem\n",
		"sys/power/mem_sleep":                                   "[s2idle] deep\n",
		"sys/module/pcie_aspm/parameters/policy":                "[default] performance powersave powersupersave\n",
		"sys/module/acpi/parameters/sleep_no_lps0":              "N\n",
		"sys/module/rtc_cmos/parameters/use_acpi_alarm":         "Y\n",
		"sys/devices/system/cpu/smt/control":                    "on\n",
		"sys/devices/system/cpu/smt/active":                     "1\n",
		"sys/bus/platform/drivers/amd_pmc/AMDI0009:00/smu_fw_version": "76.70.0\n",
		"sys/bus/platform/drivers/amd_pmc/AMDI0009:00/smu_program":    "0\n",
		"sys/bus/platform/drivers/amd_gpio/AMDI0030:00/uevent":        "\n",
		"sys/bus/pci/devices/0000:c4:00.0/vendor":               "0x1002\n",
		"sys/bus/pci/devices/0000:c4:00.0/class":                "0x030000\n",
	}
}

func newFixture(t *testing.T, files map[string]string) *evidence.System {
	t.Helper()
	root := t.TempDir()
	for name, contents := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	}
	return evidence.NewSystem(root)
}

func bindDriver(t *testing.T, sys *evidence.System, slot, driver string) {
	t.Helper()
	require.NoError(t, os.Symlink("../../../bus/pci/drivers/"+driver, sys.Path("sys", "bus", "pci", "devices", slot, "driver")))
}

func journal(lines ...string) evidence.KernelLog {
	return &fakeLog{name: evidence.SourceJournal, lines: lines}
}

func find(t *testing.T, res Result, name string) model.CheckResult {
	t.Helper()
	for _, c := range res.Checks {
		if c.Name == name {
			return c
		}
	}
	require.Failf(t, "missing check", "no check named %q", name)
	return model.CheckResult{}
}

func TestEvaluateHealthySystem(t *testing.T) {
	sys := newFixture(t, healthyFiles())
	bindDriver(t, sys, "0000:c4:00.0", "amdgpu")

	res := Evaluate(context.Background(), sys, journal("ACPI: FADT Low-power S0 idle used by default for system suspend"))

	require.Len(t, res.Checks, len(Rules()))
	for _, c := range res.Checks {
		assert.NotEqual(t, model.VerdictFail, c.Verdict, "%s: %s", c.Name, c.Text)
		assert.NotEqual(t, model.VerdictWarn, c.Verdict, "%s: %s", c.Name, c.Text)
	}
	assert.False(t, res.Failed())
	assert.Equal(t, "distro", res.Checks[0].Name)
	assert.Equal(t, "Ubuntu 24.04 LTS", res.Checks[0].Text)
	assert.Equal(t, "76.70.0", res.Platform.SMUVersion)
	assert.Equal(t, 0x74, res.Platform.CPU.Model)
	assert.Equal(t, "SMU FW version 76.70.0 (program 0)", find(t, res, "amd_pmc").Text)
	assert.Contains(t, res.Debug, "/proc/cmdline: amd_iommu=off")
}

func TestEvaluateFailures(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(files map[string]string)
		rule    string
		verdict model.Verdict
		text    string
	}{
		{
			name:    "aspm disabled",
			modify:  func(f map[string]string) { f["sys/module/pcie_aspm/parameters/policy"] = "default performance [powersave] powersupersave\n" },
			rule:    "aspm",
			verdict: model.VerdictFail,
			text:    "ASPM policy set to default performance [powersave] powersupersave",
		},
		{
			name:    "aspm unreadable",
			modify:  func(f map[string]string) { delete(f, "sys/module/pcie_aspm/parameters/policy") },
			rule:    "aspm",
			verdict: model.VerdictWarn,
			text:    "Unable to check ASPM policy",
		},
		{
			name:    "deep sleep on command line",
			modify:  func(f map[string]string) { f["proc/cmdline"] = "quiet mem_sleep_default=deep\n" },
			rule:    "sleep mode",
			verdict: model.VerdictFail,
		},
		{
			name:    "deep sleep in firmware",
			modify:  func(f map[string]string) { f["sys/power/mem_sleep"] = "s2idle [deep]\n" },
			rule:    "sleep mode",
			verdict: model.VerdictFail,
			text:    "System isn't configured for s2idle in firmware setup",
		},
		{
			name:    "amd_pmc missing",
			modify:  func(f map[string]string) { delete(f, "sys/bus/platform/drivers/amd_pmc/AMDI0009:00/smu_fw_version"); delete(f, "sys/bus/platform/drivers/amd_pmc/AMDI0009:00/smu_program") },
			rule:    "amd_pmc",
			verdict: model.VerdictFail,
		},
		{
			name:    "kernel config missing pmc",
			modify:  func(f map[string]string) { f["boot/config-6.10.0"] = "CONFIG_SUSPEND=y\nCONFIG_ACPI_SLEEP=y\n# CONFIG_AMD_PMC is not set\n" },
			rule:    "kernel config",
			verdict: model.VerdictFail,
			text:    "Kernel is missing CONFIG_AMD_PMC",
		},
		{
			name:    "ppfeaturemask overridden",
			modify:  func(f map[string]string) { f["sys/module/amdgpu/parameters/ppfeaturemask"] = "0xffffffff\n" },
			rule:    "ppfeaturemask",
			verdict: model.VerdictFail,
			text:    "AMDGPU ppfeaturemask overridden to 0xffffffff",
		},
		{
			name:    "ppfeaturemask default",
			modify:  func(f map[string]string) { f["sys/module/amdgpu/parameters/ppfeaturemask"] = "0xfff7bfff\n" },
			rule:    "ppfeaturemask",
			verdict: model.VerdictPass,
		},
		{
			name:    "tainted",
			modify:  func(f map[string]string) { f["proc/sys/kernel/tainted"] = "4608\n" },
			rule:    "taint",
			verdict: model.VerdictFail,
			text:    "Kernel is tainted: 4096",
		},
		{
			name:    "ignored taint bit",
			modify:  func(f map[string]string) { f["proc/sys/kernel/tainted"] = "512\n" },
			rule:    "taint",
			verdict: model.VerdictPass,
		},
		{
			name:    "smt disabled",
			modify:  func(f map[string]string) { f["sys/devices/system/cpu/smt/active"] = "0\n" },
			rule:    "smt",
			verdict: model.VerdictFail,
		},
		{
			name:    "smt not supported",
			modify:  func(f map[string]string) { f["sys/devices/system/cpu/smt/control"] = "notsupported\n" },
			rule:    "smt",
			verdict: model.VerdictInfo,
		},
		{
			name:    "lps0 disabled",
			modify:  func(f map[string]string) { f["sys/module/acpi/parameters/sleep_no_lps0"] = "Y\n" },
			rule:    "lps0",
			verdict: model.VerdictFail,
		},
		{
			name:    "cmos alarm",
			modify:  func(f map[string]string) { f["sys/module/rtc_cmos/parameters/use_acpi_alarm"] = "N\n" },
			rule:    "rtc_cmos",
			verdict: model.VerdictFail,
		},
		{
			name: "hsmp loaded on old kernel",
			modify: func(f map[string]string) {
				f["proc/sys/kernel/osrelease"] = "6.8.0-45-generic\n"
				f["boot/config-6.8.0-45-generic"] = f["boot/config-6.10.0"]
				f["sys/module/amd_hsmp/refcnt"] = "0\n"
			},
			rule:    "amd_hsmp",
			verdict: model.VerdictFail,
		},
		{
			name: "hsmp blacklisted on old kernel",
			modify: func(f map[string]string) {
				f["proc/sys/kernel/osrelease"] = "6.8.0-45-generic\n"
				f["boot/config-6.8.0-45-generic"] = f["boot/config-6.10.0"]
				f["sys/module/amd_hsmp/refcnt"] = "0\n"
				f["proc/cmdline"] = "quiet initcall_blacklist=hsmp_plt_init\n"
			},
			rule:    "amd_hsmp",
			verdict: model.VerdictPass,
		},
		{
			name:    "port pm affected firmware",
			modify:  func(f map[string]string) { f["sys/bus/platform/drivers/amd_pmc/AMDI0009:00/smu_fw_version"] = "76.50.0\n" },
			rule:    "port pm",
			verdict: model.VerdictWarn,
		},
		{
			name: "port pm affected firmware with override",
			modify: func(f map[string]string) {
				f["sys/bus/platform/drivers/amd_pmc/AMDI0009:00/smu_fw_version"] = "76.50.0\n"
				f["proc/cmdline"] = "pcie_port_pm=off\n"
			},
			rule:    "port pm",
			verdict: model.VerdictPass,
		},
		{
			name: "battery health",
			modify: func(f map[string]string) {
				f["sys/class/power_supply/BAT0/type"] = "Battery\n"
				f["sys/class/power_supply/BAT0/energy_now"] = "40000000\n"
				f["sys/class/power_supply/BAT0/energy_full"] = "50000000\n"
				f["sys/class/power_supply/BAT0/energy_full_design"] = "55000000\n"
				f["sys/class/power_supply/BAT0/manufacturer"] = "SMP\n"
				f["sys/class/power_supply/BAT0/model_name"] = "5B11F21946\n"
			},
			rule:    "battery",
			verdict: model.VerdictInfo,
			text:    "Battery BAT0 (SMP 5B11F21946) is operating at 90.91% of design",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := healthyFiles()
			tt.modify(files)
			sys := newFixture(t, files)
			bindDriver(t, sys, "0000:c4:00.0", "amdgpu")

			res := Evaluate(context.Background(), sys, journal())

			got := find(t, res, tt.rule)
			assert.Equal(t, tt.verdict, got.Verdict, got.Text)
			if tt.text != "" {
				assert.Equal(t, tt.text, got.Text)
			}
			assert.Equal(t, tt.verdict == model.VerdictFail, res.Failed())
		})
	}
}

func TestEvaluateUnboundGPU(t *testing.T) {
	sys := newFixture(t, healthyFiles())

	res := Evaluate(context.Background(), sys, journal())

	got := find(t, res, "amdgpu")
	assert.Equal(t, model.VerdictFail, got.Verdict)
	assert.Equal(t, "AMD display device 0000:c4:00.0 is not bound to amdgpu", got.Text)
}

func TestEvaluateSkipsAMDRulesOnOtherVendors(t *testing.T) {
	files := healthyFiles()
	files["proc/cpuinfo"] = "vendor_id\t: GenuineIntel\ncpu family\t: 6\nmodel\t\t: 140\nmodel name\t: Intel(R) Core(TM) i7\n"
	sys := newFixture(t, files)

	res := Evaluate(context.Background(), sys, journal())

	assert.Equal(t, model.VerdictWarn, find(t, res, "cpu").Verdict)
	assert.Len(t, res.Checks, len(Rules()))
	for _, name := range []string{"amd_pmc", "amdgpu", "amd_hsmp", "port pm"} {
		got := find(t, res, name)
		assert.Equal(t, model.VerdictInfo, got.Verdict)
		assert.Equal(t, "Skipped on GenuineIntel", got.Text)
	}
	assert.Equal(t, "Kernel is built with CONFIG_ACPI_SLEEP, CONFIG_SUSPEND", find(t, res, "kernel config").Text)
}

func TestEvaluateMissingStateIsNotAnError(t *testing.T) {
	sys := newFixture(t, map[string]string{})

	res := Evaluate(context.Background(), sys, nil)

	require.NotEmpty(t, res.Checks)
	assert.Equal(t, model.VerdictWarn, find(t, res, "distro").Verdict)
	assert.Equal(t, model.VerdictFail, find(t, res, "logger").Verdict)
	assert.Equal(t, model.VerdictFail, find(t, res, "sleep mode").Verdict)
}

func TestCheckLogger(t *testing.T) {
	tests := []struct {
		name    string
		log     evidence.KernelLog
		verdict model.Verdict
	}{
		{name: "journal", log: journal(), verdict: model.VerdictPass},
		{name: "file", log: &fakeLog{name: evidence.SourceFile}, verdict: model.VerdictInfo},
		{name: "dmesg", log: &fakeDmesg{fakeLog{name: evidence.SourceDmesg, header: "Linux version 6.10.0"}}, verdict: model.VerdictWarn},
		{name: "dmesg wrapped", log: &fakeDmesg{fakeLog{name: evidence.SourceDmesg, header: "usb 1-1: new device"}}, verdict: model.VerdictFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Env{Log: tt.log, ctx: context.Background()}
			assert.Equal(t, tt.verdict, checkLogger(env).Verdict)
		})
	}
}

func TestCheckFADTFromTable(t *testing.T) {
	table := make([]byte, 0x74)
	table[0x72] = 0x20 // bit 21
	sys := newFixture(t, map[string]string{"sys/firmware/acpi/tables/FACP": string(table)})
	env := &Env{Sys: sys, Log: journal(), ctx: context.Background()}
	assert.Equal(t, model.VerdictPass, checkFADT(env).Verdict)

	sys = newFixture(t, map[string]string{"sys/firmware/acpi/tables/FACP": string(make([]byte, 0x74))})
	env = &Env{Sys: sys, Log: journal(), ctx: context.Background()}
	assert.Equal(t, model.VerdictFail, checkFADT(env).Verdict)
}

func TestFilterCommandLine(t *testing.T) {
	assert.Equal(t, "amd_iommu=off pcie_aspm=force", FilterCommandLine("BOOT_IMAGE=/vmlinuz root=/dev/nvme0n1p2 ro quiet splash amd_iommu=off pcie_aspm=force"))
	assert.Equal(t, "", FilterCommandLine(""))
}

func TestEvaluateRegistrationOrder(t *testing.T) {
	sys := newFixture(t, healthyFiles())
	rules := []Rule{
		{Name: "b", Check: func(*Env) model.CheckResult { return pass("b") }},
		{Name: "a", Check: func(*Env) model.CheckResult { return fail("a") }},
	}
	res := evaluateRules(context.Background(), sys, journal(), rules)
	require.Len(t, res.Checks, 2)
	assert.Equal(t, "b", res.Checks[0].Name)
	assert.Equal(t, "a", res.Checks[1].Name)
	assert.True(t, res.Failed())
}
