package prereq

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/binary"
	"fmt"
	"os"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"s2idle/internal/evidence"
	"s2idle/internal/model"
	"s2idle/internal/util"
)

// PCI classes, vendors and values the rules look for
const (
	classDisplay     = 0x03
	classXHCI        = 0x0c0330
	classUSB4        = 0x0c0340
	classWLAN        = 0x028000
	vendorAMD        = 0x1002
	defaultPPFeature = 0xfff7bfff
	taintOOTModule   = 1 << 12
	taintUnsigned    = 1 << 13
	taintIgnored     = 1 << 9
	fadtLowPowerS0   = 1 << 21
	fadtFlagsOffset  = 0x70
)

// Rules returns the prerequisite rules in evaluation order.
func Rules() []Rule {
	return []Rule{
		{Name: "distro", Check: checkDistro},
		{Name: "kernel", Check: checkKernel},
		{Name: "cpu", Check: checkCPU},
		{Name: "logger", Check: checkLogger},
		{Name: "permissions", Check: checkPermissions},
		{Name: "sleep mode", Check: checkSleepMode},
		{Name: "kernel config", Check: checkKernelConfig},
		{Name: "aspm", Check: checkASPM},
		{Name: "lps0", Check: checkLPS0},
		{Name: "fadt", Check: checkFADT},
		{Name: "amd_pmc", AMDOnly: true, Check: checkAMDPMC},
		{Name: "pinctrl_amd", AMDOnly: true, Check: checkPinctrl},
		{Name: "amdgpu", AMDOnly: true, Check: checkAMDGPU},
		{Name: "ppfeaturemask", AMDOnly: true, Check: checkPPFeatureMask},
		{Name: "gpu firmware", AMDOnly: true, Check: checkGPUFirmware},
		{Name: "xhci", Check: checkXHCI},
		{Name: "usb4", Check: checkUSB4},
		{Name: "wlan", Check: checkWLAN},
		{Name: "amd_hsmp", AMDOnly: true, Check: checkHSMP},
		{Name: "smt", Check: checkSMT},
		{Name: "taint", Check: checkTaint},
		{Name: "rtc_cmos", Check: checkRTCAlarm},
		{Name: "port pm", AMDOnly: true, Check: checkPortPM},
		{Name: "hpet", AMDOnly: true, Check: checkHPET},
		{Name: "battery", Check: checkBattery},
	}
}

func checkDistro(env *Env) model.CheckResult {
	lines, err := util.ReadLines(env.Sys.Path("etc", "os-release"))
	if err != nil {
		return unreadable("distribution", err)
	}
	for _, line := range lines {
		if v, found := strings.CutPrefix(line, "PRETTY_NAME="); found {
			return info("%s", strings.Trim(v, `"`))
		}
	}
	return warn("Unknown distribution")
}

func checkKernel(env *Env) model.CheckResult {
	if env.Platform.Release == "" {
		return unreadable("kernel version", nil)
	}
	return info("Kernel %s", env.Platform.Release)
}

func checkCPU(env *Env) model.CheckResult {
	cpu := env.Platform.CPU
	if cpu.Vendor == "" {
		return unreadable("processor", nil)
	}
	if !env.Platform.IsAMD() {
		return warn("%s (%s) is not an AMD processor, AMD specific checks are skipped", cpu.ModelName, cpu.Vendor)
	}
	return pass("%s (family %x model %x)", cpu.ModelName, cpu.Family, cpu.Model)
}

func checkLogger(env *Env) model.CheckResult {
	if env.Log == nil {
		return fail("No kernel log source available")
	}
	switch env.Log.Name() {
	case evidence.SourceJournal:
		return pass("Logs are provided via systemd")
	case evidence.SourceFile:
		return info("Logs are provided via input file")
	}
	if h, ok := env.Log.(evidence.HeaderReader); ok {
		header, err := h.Header(env.ctx)
		if err != nil {
			return unreadable("kernel ring buffer", err)
		}
		if !strings.Contains(header, "Linux version") {
			return fail("Kernel ringbuffer has wrapped, unable to accurately validate pre-requisites")
		}
	}
	return warn("Logs are provided via dmesg, timestamps may not be accurate over multiple cycles")
}

func checkPermissions(env *Env) model.CheckResult {
	ok, err := env.Sys.Writable("sys", "power", "state")
	if err != nil {
		return fail("Kernel doesn't support power management")
	}
	if !ok {
		return fail("Suspend must be initiated by root user")
	}
	return pass("Permission to suspend the system")
}

func checkSleepMode(env *Env) model.CheckResult {
	if strings.Contains(env.Platform.CmdLine, "mem_sleep_default=deep") {
		return fail("Kernel command line is configured for 'deep' sleep")
	}
	modes, err := env.Sys.ReadString("sys", "power", "mem_sleep")
	if err != nil {
		return fail("Kernel doesn't support sleep")
	}
	if !strings.Contains(modes, "[s2idle]") {
		return fail("System isn't configured for s2idle in firmware setup")
	}
	return pass("System is configured for s2idle")
}

func checkKernelConfig(env *Env) model.CheckResult {
	config, err := env.Sys.KernelConfig()
	if err != nil {
		return unreadable("kernel config", err)
	}
	enabled := mapset.NewSet[string]()
	for key, value := range config {
		if value == "y" || value == "m" {
			enabled.Add(key)
		}
	}
	required := mapset.NewSet("CONFIG_SUSPEND", "CONFIG_ACPI_SLEEP")
	if env.Platform.IsAMD() {
		required.Add("CONFIG_AMD_PMC")
	}
	missing := required.Difference(enabled).ToSlice()
	if len(missing) > 0 {
		slices.Sort(missing)
		return fail("Kernel is missing %s", strings.Join(missing, ", "))
	}
	names := required.ToSlice()
	slices.Sort(names)
	return pass("Kernel is built with %s", strings.Join(names, ", "))
}

func checkASPM(env *Env) model.CheckResult {
	policy, err := env.Sys.ReadString("sys", "module", "pcie_aspm", "parameters", "policy")
	if err != nil {
		return unreadable("ASPM policy", err)
	}
	if !strings.Contains(policy, "[default]") {
		return fail("ASPM policy set to %s", policy)
	}
	return pass("ASPM policy set to 'default'")
}

func checkLPS0(env *Env) model.CheckResult {
	for _, module := range []string{"acpi", "acpi_x86"} {
		v, err := env.Sys.ReadString("sys", "module", module, "parameters", "sleep_no_lps0")
		if err != nil {
			continue
		}
		if v == "Y" {
			return fail("LPS0 _DSM disabled")
		}
		return pass("LPS0 _DSM enabled")
	}
	return warn("LPS0 _DSM not found")
}

func checkFADT(env *Env) model.CheckResult {
	const target = "Low-power S0 idle used by default for system suspend"
	if lines, err := env.BootLog(); err == nil {
		for _, l := range lines {
			if strings.Contains(l.Text, target) {
				return pass("ACPI FADT supports Low-power S0 idle")
			}
		}
	}
	b, err := os.ReadFile(env.Sys.Path("sys", "firmware", "acpi", "tables", "FACP"))
	if err != nil {
		return unreadable("ACPI FADT", err)
	}
	if len(b) < fadtFlagsOffset+4 {
		return warn("ACPI FADT is truncated")
	}
	if binary.LittleEndian.Uint32(b[fadtFlagsOffset:])&fadtLowPowerS0 == 0 {
		return fail("ACPI FADT doesn't support Low-power S0 idle")
	}
	return pass("ACPI FADT supports Low-power S0 idle")
}

func checkAMDPMC(env *Env) model.CheckResult {
	if len(env.Sys.PlatformDevices("amd_pmc")) == 0 {
		return fail("The kernel driver `amd_pmc` is not bound to a device")
	}
	p := env.Platform
	if p.SMUVersion == "" {
		return pass("The kernel driver `amd_pmc` is loaded")
	}
	return pass("SMU FW version %s (program %s)", p.SMUVersion, p.SMUProgram)
}

func checkPinctrl(env *Env) model.CheckResult {
	if len(env.Sys.PlatformDevices("amd_gpio")) == 0 {
		return fail("GPIO driver `pinctrl_amd` not loaded")
	}
	return pass("GPIO driver `pinctrl_amd` available")
}

// pciDriverCheck reports whether every device of the class is bound to the driver. An
// empty driver accepts any bound driver.
func pciDriverCheck(env *Env, what string, match func(evidence.PCIDevice) bool, driver string, missing model.Verdict) model.CheckResult {
	devices, err := env.Sys.PCIDevices()
	if err != nil {
		return unreadable(what, err)
	}
	var slots []string
	for _, dev := range devices {
		if !match(dev) {
			continue
		}
		if dev.Driver == "" || (driver != "" && dev.Driver != driver) {
			want := driver
			if want == "" {
				want = "a driver"
			}
			return model.CheckResult{Verdict: missing, Text: fmt.Sprintf("%s device %s is not bound to %s", what, dev.Slot, want)}
		}
		slots = append(slots, dev.Slot)
	}
	if len(slots) == 0 {
		return info("No %s devices found", what)
	}
	return pass("%s devices %s bound to %s", what, strings.Join(slots, ", "), firstNonEmpty(driver, "their drivers"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func checkAMDGPU(env *Env) model.CheckResult {
	return pciDriverCheck(env, "AMD display", func(d evidence.PCIDevice) bool {
		return d.Vendor == vendorAMD && d.Class>>16 == classDisplay
	}, "amdgpu", model.VerdictFail)
}

func checkXHCI(env *Env) model.CheckResult {
	return pciDriverCheck(env, "USB3", func(d evidence.PCIDevice) bool {
		return d.Class == classXHCI
	}, "xhci_hcd", model.VerdictFail)
}

func checkUSB4(env *Env) model.CheckResult {
	return pciDriverCheck(env, "USB4", func(d evidence.PCIDevice) bool {
		return d.Class == classUSB4
	}, "thunderbolt", model.VerdictFail)
}

func checkWLAN(env *Env) model.CheckResult {
	return pciDriverCheck(env, "WLAN", func(d evidence.PCIDevice) bool {
		return d.Class == classWLAN
	}, "", model.VerdictWarn)
}

func checkPPFeatureMask(env *Env) model.CheckResult {
	v, err := env.Sys.ReadString("sys", "module", "amdgpu", "parameters", "ppfeaturemask")
	if err != nil {
		return info("amdgpu ppfeaturemask is not set")
	}
	mask, err := util.ParseHex(v)
	if err != nil {
		return unreadable("amdgpu ppfeaturemask", err)
	}
	if mask != defaultPPFeature {
		return fail("AMDGPU ppfeaturemask overridden to 0x%x", mask)
	}
	return pass("AMDGPU ppfeaturemask isn't overridden")
}

func checkGPUFirmware(env *Env) model.CheckResult {
	lines, err := env.BootLog()
	if err != nil {
		return unreadable("GPU firmware", err)
	}
	for _, l := range lines {
		if strings.Contains(l.Text, "Direct firmware load for amdgpu/") && strings.Contains(l.Text, "failed") &&
			!strings.Contains(l.Text, "amdgpu/isp") {
			return fail("GPU firmware missing")
		}
	}
	return pass("GPU firmware loaded")
}

func checkHSMP(env *Env) model.CheckResult {
	if cmp, err := util.CompareVersions(env.Platform.Release, "6.10.0"); err == nil && cmp >= 0 {
		return pass("HSMP driver doesn't conflict with this kernel")
	}
	if config, err := env.Sys.KernelConfig(); err == nil && config["CONFIG_AMD_HSMP"] == "y" {
		return fail("HSMP driver `amd_hsmp` built in to kernel")
	}
	if env.Sys.Exists("sys", "module", "amd_hsmp") && !strings.Contains(env.Platform.CmdLine, "initcall_blacklist=hsmp_plt_init") {
		return fail("HSMP driver `amd_hsmp` loaded, it conflicts with `amd_pmc`")
	}
	return pass("HSMP driver `amd_hsmp` not detected")
}

func checkSMT(env *Env) model.CheckResult {
	control, err := env.Sys.ReadString("sys", "devices", "system", "cpu", "smt", "control")
	if err != nil {
		return unreadable("SMT", err)
	}
	if control == "notsupported" {
		return info("SMT is not supported")
	}
	active, err := env.Sys.ReadInt("sys", "devices", "system", "cpu", "smt", "active")
	if err != nil {
		return unreadable("SMT", err)
	}
	if active == 0 {
		return fail("SMT is not enabled")
	}
	return pass("SMT enabled")
}

func checkTaint(env *Env) model.CheckResult {
	taint, err := env.Sys.ReadInt("proc", "sys", "kernel", "tainted")
	if err != nil {
		return unreadable("kernel taint", err)
	}
	taint &^= taintIgnored
	if taint == 0 {
		return pass("Kernel is not tainted")
	}
	r := fail("Kernel is tainted: %d", taint)
	if taint&(taintOOTModule|taintUnsigned) != 0 {
		r.Debug = "Out of tree or unsigned modules are loaded"
	}
	return r
}

func checkRTCAlarm(env *Env) model.CheckResult {
	v, err := env.Sys.ReadString("sys", "module", "rtc_cmos", "parameters", "use_acpi_alarm")
	if err != nil {
		return info("rtc_cmos is not loaded")
	}
	if v == "N" {
		return fail("RTC driver `rtc_cmos` configured to use CMOS alarm")
	}
	return pass("RTC driver `rtc_cmos` configured to use ACPI alarm")
}

// affected SMU firmware releases for Rembrandt and Phoenix port power management
func portPMAffected(p Platform) bool {
	if p.CPU.Family != 0x19 || (p.CPU.Model != 0x74 && p.CPU.Model != 0x78) {
		return false
	}
	low, err := util.CompareVersions(p.SMUVersion, "76.18.0")
	if err != nil || low < 0 {
		return false
	}
	high, err := util.CompareVersions(p.SMUVersion, "76.60.0")
	return err == nil && high < 0
}

func checkPortPM(env *Env) model.CheckResult {
	if !portPMAffected(env.Platform) {
		return pass("PCIe port power management doesn't need an override")
	}
	if strings.Contains(env.Platform.CmdLine, "pcie_port_pm=off") {
		return pass("PCIe port power management override in use")
	}
	return warn("Platform may hang resuming; upgrade SMU firmware or set pcie_port_pm=off")
}

func checkHPET(env *Env) model.CheckResult {
	p := env.Platform
	affected := false
	switch p.CPU.Family {
	case 0x17:
		affected = p.CPU.Model == 0x68 || p.CPU.Model == 0x60
	case 0x19:
		if p.CPU.Model == 0x50 {
			cmp, err := util.CompareVersions(p.SMUVersion, "64.53.0")
			affected = err == nil && cmp < 0
		}
	}
	if !affected {
		return pass("Timer based wakeup is reliable")
	}
	if strings.Contains(p.CmdLine, "hpet=disable") {
		return pass("HPET disabled for timer based wakeup")
	}
	return warn("Timer based wakeup doesn't work properly without hpet=disable or updated firmware")
}

func checkBattery(env *Env) model.CheckResult {
	batteries, err := env.Sys.Batteries()
	if err != nil {
		return unreadable("battery", err)
	}
	if len(batteries) == 0 {
		return info("No battery found")
	}
	var parts []string
	for _, b := range batteries {
		desc := b.Name
		if b.Manufacturer != "" || b.Model != "" {
			desc = fmt.Sprintf("%s (%s %s)", b.Name, b.Manufacturer, b.Model)
		}
		if b.FullDesign > 0 {
			parts = append(parts, fmt.Sprintf("Battery %s is operating at %.2f%% of design", desc, 100*float64(b.Full)/float64(b.FullDesign)))
		} else {
			parts = append(parts, "Battery "+desc)
		}
	}
	return info("%s", strings.Join(parts, "; "))
}
