package evidence

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"s2idle/internal/util"
)

// kernel log provider names
const (
	SourceJournal = "systemd"
	SourceDmesg   = "dmesg"
	SourceFile    = "file"
)

// dmesg timestamps aren't always accurate, so dmesg windows open this much earlier
const DmesgFuzz = 10 * time.Second

// LogLine is one kernel log entry.
type LogLine struct {
	Time     time.Time
	Priority int // syslog priority, -1 when the provider doesn't report one
	Text     string
}

// KernelLog is a provider of kernel log lines.
type KernelLog interface {
	Name() string
	// Read returns the lines logged in [since, until]. A zero since reads from the start of
	// the current boot; a zero until reads to the end. Providers that can't filter by time
	// return everything they have.
	Read(ctx context.Context, since, until time.Time) ([]LogLine, error)
}

// HeaderReader is implemented by providers that can report the oldest retained line,
// which is used to detect a wrapped ring buffer.
type HeaderReader interface {
	Header(ctx context.Context) (string, error)
}

// Texts returns the text of each line.
func Texts(lines []LogLine) []string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return texts
}

// OpenKernelLog picks the kernel log provider: the input file when one is given, the systemd
// journal when systemd is in use, dmesg otherwise.
func OpenKernelLog(ctx context.Context, runner Runner, sys *System, inputFile string) (KernelLog, error) {
	if inputFile != "" {
		return NewFileLog(inputFile)
	}
	if sys.Exists("run", "systemd", "system") {
		journal := NewJournalLog(runner)
		_, _, _, err := runner.Run(ctx, "journalctl", "-k", "-b", "-n", "1", "-o", "json", "--no-pager")
		if err == nil {
			slog.Debug("kernel log provider", slog.String("provider", journal.Name()))
			return journal, nil
		}
		slog.Debug("journalctl unavailable", slog.String("error", err.Error()))
	}
	dmesg, err := NewDmesgLog(ctx, runner)
	if err != nil {
		return nil, errors.Wrap(ErrNoKernelLog, err.Error())
	}
	slog.Debug("kernel log provider", slog.String("provider", dmesg.Name()), slog.Bool("since", dmesg.sinceSupport))
	return dmesg, nil
}

// JournalLog reads the kernel transport of the current boot from the systemd journal.
type JournalLog struct {
	runner Runner
}

// NewJournalLog returns a journal provider using runner to invoke journalctl.
func NewJournalLog(runner Runner) *JournalLog {
	return &JournalLog{runner: runner}
}

func (j *JournalLog) Name() string {
	return SourceJournal
}

type journalEntry struct {
	Message  json.RawMessage `json:"MESSAGE"`
	Priority string          `json:"PRIORITY"`
	Realtime string          `json:"__REALTIME_TIMESTAMP"`
}

func (j *JournalLog) Read(ctx context.Context, since, until time.Time) ([]LogLine, error) {
	args := []string{"-k", "-b", "-o", "json", "--no-pager"}
	if !since.IsZero() {
		args = append(args, "--since", "@"+strconv.FormatInt(since.Unix(), 10))
	}
	if !until.IsZero() {
		args = append(args, "--until", "@"+strconv.FormatInt(until.Unix()+1, 10))
	}
	stdout, stderr, _, err := j.runner.Run(ctx, "journalctl", args...)
	if err != nil {
		return nil, unavailable("journalctl", errors.Wrap(err, strings.TrimSpace(stderr)))
	}
	return ParseJournal(stdout), nil
}

// ParseJournal decodes journalctl JSON output, one object per line. Lines that don't decode
// are skipped.
func ParseJournal(output string) []LogLine {
	var lines []LogLine
	for raw := range strings.SplitSeq(output, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			slog.Debug("skipping undecodable journal entry", slog.String("error", err.Error()))
			continue
		}
		line := LogLine{Priority: -1, Text: decodeJournalMessage(entry.Message)}
		if p, err := strconv.Atoi(entry.Priority); err == nil {
			line.Priority = p
		}
		if us, err := strconv.ParseInt(entry.Realtime, 10, 64); err == nil {
			line.Time = time.UnixMicro(us)
		}
		lines = append(lines, line)
	}
	return lines
}

// journald emits messages that aren't valid UTF-8 as an array of byte values
func decodeJournalMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var b []int
	if err := json.Unmarshal(raw, &b); err != nil {
		return ""
	}
	buf := make([]byte, 0, len(b))
	for _, v := range b {
		buf = append(buf, byte(v))
	}
	return strings.ToValidUTF8(string(buf), "?")
}

// DmesgLog reads the kernel ring buffer with dmesg.
type DmesgLog struct {
	runner       Runner
	sinceSupport bool
}

// NewDmesgLog probes dmesg for --since support.
func NewDmesgLog(ctx context.Context, runner Runner) (*DmesgLog, error) {
	stdout, _, _, err := runner.Run(ctx, "dmesg", "-h")
	if err != nil {
		return nil, unavailable("dmesg", err)
	}
	return &DmesgLog{runner: runner, sinceSupport: strings.Contains(stdout, "--since")}, nil
}

func (d *DmesgLog) Name() string {
	return SourceDmesg
}

func (d *DmesgLog) Read(ctx context.Context, since, _ time.Time) ([]LogLine, error) {
	args := []string{"-t", "-k"}
	if !since.IsZero() && d.sinceSupport {
		fuzz := since.Add(-DmesgFuzz)
		args = append(args, "--time-format=iso", "--since="+fuzz.Format("2006-01-02T15:04:05"))
	}
	stdout, stderr, _, err := d.runner.Run(ctx, "dmesg", args...)
	if err != nil {
		return nil, unavailable("dmesg", errors.Wrap(err, strings.TrimSpace(stderr)))
	}
	return splitLines(stdout), nil
}

// Header returns the oldest line in the ring buffer.
func (d *DmesgLog) Header(ctx context.Context) (string, error) {
	lines, err := d.Read(ctx, time.Time{}, time.Time{})
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0].Text, nil
}

// FileLog replays a previously captured kernel log.
type FileLog struct {
	path  string
	lines []LogLine
}

// NewFileLog reads the whole file up front.
func NewFileLog(path string) (*FileLog, error) {
	texts, err := util.ReadLines(path)
	if err != nil {
		return nil, unavailable(path, err)
	}
	f := &FileLog{path: path}
	for _, t := range texts {
		f.lines = append(f.lines, LogLine{Priority: -1, Text: t})
	}
	return f, nil
}

func (f *FileLog) Name() string {
	return SourceFile
}

func (f *FileLog) Read(_ context.Context, _, _ time.Time) ([]LogLine, error) {
	return append([]LogLine(nil), f.lines...), nil
}

func (f *FileLog) Header(_ context.Context) (string, error) {
	if len(f.lines) == 0 {
		return "", nil
	}
	return f.lines[0].Text, nil
}

func splitLines(output string) []LogLine {
	var lines []LogLine
	for text := range strings.SplitSeq(strings.TrimRight(output, "\n"), "\n") {
		if text == "" {
			continue
		}
		lines = append(lines, LogLine{Priority: -1, Text: text})
	}
	return lines
}
