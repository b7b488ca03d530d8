package stats

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Log appends each cached build's outcome to an optional, human-readable
// log file: a "# <input path>" line followed by one counter name per
// line (spec.md §6 "Stats log format (optional)"), grounded on
// core::StatsLog::log_result.
type Log struct {
	path string
}

// NewLog returns a Log writing to path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// LogResult appends one entry recording that inputFile produced the named
// statistics (by canonical name, in the order given). A failure to open
// the log file is not propagated as a cache error — the stats log is
// diagnostic only, matching statslog.cpp's "failed to open: log and
// continue" behavior.
func (l *Log) LogResult(inputFile string, statistics []Statistic) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("stats: unable to open stats log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# %s\n", inputFile)
	for _, s := range statistics {
		name := s.Name()
		if name == "" {
			continue
		}
		fmt.Fprintf(w, "%s\n", name)
	}
	return w.Flush()
}

// Read replays every logged entry into a fresh Counters vector, one
// increment per recognized counter name. An unrecognized name (e.g. from
// a newer ccache-compatible writer) is skipped, not an error.
func (l *Log) Read() (Counters, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return Counters{}, nil
	}
	if err != nil {
		return Counters{}, fmt.Errorf("stats: unable to open stats log: %w", err)
	}
	defer f.Close()

	var c Counters
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if s, ok := StatisticByName(line); ok {
			c.Increment(s, 1)
		}
	}
	if err := scanner.Err(); err != nil {
		return Counters{}, fmt.Errorf("stats: unable to read stats log: %w", err)
	}
	return c, nil
}
