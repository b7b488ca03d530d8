package stats

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EncodeFile renders counters in the per-shard stats file format (spec.md
// §6 "Statistics file format"): line-oriented text, one unsigned integer
// per line, index position matching the counter enumeration.
func EncodeFile(c Counters) []byte {
	var buf strings.Builder
	for _, v := range c.values {
		fmt.Fprintf(&buf, "%d\n", v)
	}
	return []byte(buf.String())
}

// DecodeFile parses the per-shard stats file format. A line that is not a
// valid unsigned integer is treated as 0, matching ccache's tolerance for
// a file truncated or corrupted by a concurrent crash (a stats file is
// diagnostic, never load-bearing for cache correctness). Trailing lines
// beyond the statistics this build knows about are preserved as opaque
// slots so re-encoding does not drop them.
func DecodeFile(r io.Reader) (Counters, error) {
	var c Counters
	scanner := bufio.NewScanner(r)
	index := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var v uint64
		if line != "" {
			parsed, err := strconv.ParseUint(line, 10, 64)
			if err == nil {
				v = parsed
			}
		}
		c.Set(Statistic(index), v)
		index++
	}
	if err := scanner.Err(); err != nil {
		return Counters{}, fmt.Errorf("stats: unable to read stats file: %w", err)
	}
	return c, nil
}
