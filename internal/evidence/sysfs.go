// Package evidence reads the firmware, kernel and driver state that the diagnostics
// are built on: sysfs/procfs attributes, the kernel log and the suspend/wake controls.
package evidence

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// System reads kernel interfaces below Root. Root is "/" on a live system; tests point it at a
// temporary directory populated with fixture files.
type System struct {
	Root string
}

// NewSystem returns a System rooted at root, or at "/" when root is empty.
func NewSystem(root string) *System {
	if root == "" {
		root = "/"
	}
	return &System{Root: root}
}

// Live reports whether the System reads the running kernel rather than a fixture tree.
func (s *System) Live() bool {
	return s.Root == "/"
}

// Path joins elem below the system root.
func (s *System) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Root}, elem...)...)
}

// Exists reports whether the path below the system root exists.
func (s *System) Exists(elem ...string) bool {
	_, err := os.Stat(s.Path(elem...))
	return err == nil
}

// ReadString returns the trimmed contents of a file below the system root.
func (s *System) ReadString(elem ...string) (string, error) {
	p := s.Path(elem...)
	b, err := os.ReadFile(p)
	if err != nil {
		return "", unavailable(p, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// ReadInt returns the integer value of a file below the system root.
func (s *System) ReadInt(elem ...string) (int64, error) {
	v, err := s.ReadString(elem...)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(strings.Fields(v + " 0")[0], 0, 64)
	if err != nil {
		return 0, unavailable(s.Path(elem...), err)
	}
	return i, nil
}

// WriteString writes value to an existing file below the system root.
func (s *System) WriteString(value string, elem ...string) error {
	p := s.Path(elem...)
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0)
	if err != nil {
		return unavailable(p, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return unavailable(p, err)
	}
	return nil
}

// Writable reports whether the current user may write to the file below the system root.
func (s *System) Writable(elem ...string) (bool, error) {
	p := s.Path(elem...)
	if _, err := os.Stat(p); err != nil {
		return false, unavailable(p, err)
	}
	return unix.Access(p, unix.W_OK) == nil, nil
}

// Glob returns the matches of pattern below the system root, sorted.
func (s *System) Glob(pattern ...string) []string {
	matches, err := filepath.Glob(s.Path(pattern...))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// KernelRelease returns the running kernel release, e.g., 6.10.0-rc3.
func (s *System) KernelRelease() (string, error) {
	release, err := s.ReadString("proc", "sys", "kernel", "osrelease")
	if err == nil || !s.Live() {
		return release, err
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", unavailable("uname", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

// BootTime returns the time the system booted, from the btime field of /proc/stat.
func (s *System) BootTime() (time.Time, error) {
	contents, err := s.ReadString("proc", "stat")
	if err != nil {
		return time.Time{}, err
	}
	for line := range strings.SplitSeq(contents, "\n") {
		if v, found := strings.CutPrefix(line, "btime "); found {
			sec, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return time.Time{}, unavailable("btime", err)
			}
			return time.Unix(sec, 0), nil
		}
	}
	return time.Time{}, unavailable("btime", os.ErrNotExist)
}

// CommandLine returns the kernel command line.
func (s *System) CommandLine() (string, error) {
	return s.ReadString("proc", "cmdline")
}

// CPU identifies the processor of the system.
type CPU struct {
	Vendor    string
	Family    int
	Model     int
	ModelName string
}

// CPUInfo parses the first processor entry of /proc/cpuinfo.
func (s *System) CPUInfo() (CPU, error) {
	var cpu CPU
	contents, err := s.ReadString("proc", "cpuinfo")
	if err != nil {
		return cpu, err
	}
	for line := range strings.SplitSeq(contents, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			if strings.TrimSpace(line) == "" && cpu.Vendor != "" {
				break
			}
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "vendor_id":
			cpu.Vendor = value
		case "cpu family":
			cpu.Family, _ = strconv.Atoi(value)
		case "model":
			cpu.Model, _ = strconv.Atoi(value)
		case "model name":
			cpu.ModelName = value
		}
	}
	return cpu, nil
}

// PCIDevice is a device found on the PCI bus.
type PCIDevice struct {
	Slot   string
	Vendor uint64
	Class  uint64
	Driver string
}

// PCIDevices lists the devices in /sys/bus/pci/devices in slot order.
func (s *System) PCIDevices() ([]PCIDevice, error) {
	base := s.Path("sys", "bus", "pci", "devices")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, unavailable(base, err)
	}
	var devices []PCIDevice
	for _, entry := range entries {
		dev := PCIDevice{Slot: entry.Name()}
		dir := filepath.Join(base, entry.Name())
		if v, err := readHexFile(filepath.Join(dir, "vendor")); err == nil {
			dev.Vendor = v
		}
		if v, err := readHexFile(filepath.Join(dir, "class")); err == nil {
			dev.Class = v
		}
		dev.Driver = driverName(dir)
		devices = append(devices, dev)
	}
	return devices, nil
}

// PlatformDevices returns the device directories bound to the named platform driver.
func (s *System) PlatformDevices(driver string) []string {
	var devices []string
	for _, p := range s.Glob("sys", "bus", "platform", "drivers", driver, "*") {
		if filepath.Base(p) == "module" {
			continue
		}
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			continue
		}
		devices = append(devices, p)
	}
	return devices
}

func driverName(dir string) string {
	target, err := os.Readlink(filepath.Join(dir, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

func readHexFile(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v := strings.TrimPrefix(strings.TrimSpace(string(b)), "0x")
	return strconv.ParseUint(v, 16, 64)
}

// KernelConfig returns the kernel build options, read from /proc/config.gz or
// /boot/config-<release>. Values keep their raw form, e.g., "y", "m" or "\"string\"".
func (s *System) KernelConfig() (map[string]string, error) {
	var r io.Reader
	if f, err := os.Open(s.Path("proc", "config.gz")); err == nil {
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, unavailable(f.Name(), err)
		}
		defer gz.Close()
		r = gz
	} else {
		release, err := s.KernelRelease()
		if err != nil {
			return nil, err
		}
		p := s.Path("boot", "config-"+release)
		f, err := os.Open(p)
		if err != nil {
			return nil, unavailable(p, err)
		}
		defer f.Close()
		r = f
	}
	config := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, found := strings.Cut(line, "="); found {
			config[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, unavailable("kernel config", err)
	}
	return config, nil
}

// Battery is the energy state of one system battery.
type Battery struct {
	Name         string
	Unit         string // µWh or µAh
	Energy       int64
	Full         int64
	FullDesign   int64
	Manufacturer string
	Model        string
}

// Counters are the values sampled before and after each suspend cycle.
type Counters interface {
	HardwareSleep() (time.Duration, error)
	Batteries() ([]Battery, error)
	WakeupIRQ() (int, error)
	WakeupIRQDescription(irq int) string
	SuspendCount() (int64, error)
	GPECounts() map[string]int64
}

// HardwareSleep returns the time spent in the deepest hardware sleep state during the last
// suspend. The suspend_stats interface works even with kernel lockdown and is tried first.
func (s *System) HardwareSleep() (time.Duration, error) {
	if us, err := s.ReadInt("sys", "power", "suspend_stats", "last_hw_sleep"); err == nil {
		return time.Duration(us) * time.Microsecond, nil
	}
	contents, err := s.ReadString("sys", "kernel", "debug", "amd_pmc", "smu_fw_info")
	if err != nil {
		return 0, err
	}
	for line := range strings.SplitSeq(contents, "\n") {
		if !strings.Contains(line, "Time (in us) in S0i3") {
			continue
		}
		_, value, _ := strings.Cut(line, ":")
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, unavailable("smu_fw_info", err)
		}
		return time.Duration(us) * time.Microsecond, nil
	}
	return 0, nil
}

// Batteries returns the system batteries, skipping peripheral (scope Device) supplies.
func (s *System) Batteries() ([]Battery, error) {
	var batteries []Battery
	for _, dir := range s.Glob("sys", "class", "power_supply", "*") {
		rel, err := filepath.Rel(s.Root, dir)
		if err != nil {
			continue
		}
		if t, _ := s.ReadString(rel, "type"); t != "Battery" {
			continue
		}
		if scope, _ := s.ReadString(rel, "scope"); scope == "Device" {
			continue
		}
		bat := Battery{Name: filepath.Base(dir), Unit: "µWh"}
		prefix := "energy"
		if !s.Exists(rel, "energy_now") {
			bat.Unit = "µAh"
			prefix = "charge"
		}
		bat.Energy, _ = s.ReadInt(rel, prefix+"_now")
		bat.Full, _ = s.ReadInt(rel, prefix+"_full")
		bat.FullDesign, _ = s.ReadInt(rel, prefix+"_full_design")
		bat.Manufacturer, _ = s.ReadString(rel, "manufacturer")
		bat.Model, _ = s.ReadString(rel, "model_name")
		batteries = append(batteries, bat)
	}
	return batteries, nil
}

// WakeupIRQ returns the IRQ that woke the system from the last suspend.
func (s *System) WakeupIRQ() (int, error) {
	v, err := s.ReadInt("sys", "power", "pm_wakeup_irq")
	return int(v), err
}

// WakeupIRQDescription describes an IRQ using its chip, hardware IRQ and action names.
func (s *System) WakeupIRQDescription(irq int) string {
	n := strconv.Itoa(irq)
	chip, _ := s.ReadString("sys", "kernel", "irq", n, "chip_name")
	name, _ := s.ReadString("sys", "kernel", "irq", n, "name")
	hw, _ := s.ReadString("sys", "kernel", "irq", n, "hwirq")
	actions, _ := s.ReadString("sys", "kernel", "irq", n, "actions")
	if chip == "" && name == "" && actions == "" {
		return ""
	}
	return strings.TrimSpace(chip + " " + hw + "-" + name + " " + actions)
}

// SuspendCount returns the number of successful suspends since boot.
func (s *System) SuspendCount() (int64, error) {
	return s.ReadInt("sys", "power", "suspend_stats", "success")
}

// WakeupCount returns /sys/power/wakeup_count, or zero if it can't be read.
func (s *System) WakeupCount() int64 {
	v, _ := s.ReadInt("sys", "power", "wakeup_count")
	return v
}

// GPECounts returns the ACPI general purpose event counters keyed by name.
func (s *System) GPECounts() map[string]int64 {
	counts := make(map[string]int64)
	for _, p := range s.Glob("sys", "firmware", "acpi", "interrupts", "gpe*") {
		name := filepath.Base(p)
		if name == "gpe_all" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		fields := strings.Fields(string(b))
		if len(fields) == 0 {
			continue
		}
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			counts[name] = v
		}
	}
	return counts
}

// LidStates returns the ACPI lid states, e.g., "LID0: open".
func (s *System) LidStates() []string {
	var states []string
	for _, p := range s.Glob("proc", "acpi", "button", "lid", "*", "state") {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		_, state, _ := strings.Cut(string(b), ":")
		states = append(states, filepath.Base(filepath.Dir(p))+": "+strings.TrimSpace(state))
	}
	return states
}

// Lockdown reports whether kernel lockdown is engaged.
func (s *System) Lockdown() bool {
	v, err := s.ReadString("sys", "kernel", "security", "lockdown")
	if err != nil {
		return false
	}
	return !strings.Contains(v, "[none]")
}
