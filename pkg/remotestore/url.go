// Package remotestore implements the optional remote/secondary storage
// tier described in spec.md §4.5: a narrow get/put/remove backend
// interface, framework-level URL attribute parsing, and the policy layer
// (query remote on local miss, write through on local put) that sits
// above any concrete backend.
package remotestore

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

// defaultTimeout is used when a remote URL carries no explicit timeout
// attribute.
const defaultTimeout = 1000 * time.Millisecond

const (
	minTimeoutMilliseconds = 1
	maxTimeoutMilliseconds = 60000
)

// Attributes holds the framework-level URL attributes spec.md §4.5/§6
// call out as handled "by the framework before the backend sees the
// rest": read-only, shards, and timeout.
type Attributes struct {
	ReadOnly bool
	Shards   []string
	Timeout  time.Duration
}

// ParseURL splits rawURL into its backend-facing base URL (attributes
// stripped from the query string) and the framework Attributes parsed
// from it (spec.md §6 "URLs for remote storage":
// "scheme://host[:port]/path?attr=val&attr=val").
//
// The attribute values themselves are parsed with a github.com/spf13/pflag
// FlagSet synthesized from the query string — the same value-parsing
// helpers (`Bool`, `StringSlice`, `Int`) the teacher uses for its own
// command-line flags (`go.mod` require, `cmd/mutagen`), repurposed here
// against an attribute string instead of os.Args.
func ParseURL(rawURL string) (string, Attributes, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", Attributes{}, fmt.Errorf("remotestore: unable to parse URL: %w", err)
	}

	query := parsed.Query()

	fs := pflag.NewFlagSet("remotestore-attributes", pflag.ContinueOnError)
	readOnly := fs.Bool("read-only", false, "")
	shards := fs.StringSlice("shards", nil, "")
	timeoutMillis := fs.Int("timeout", int(defaultTimeout/time.Millisecond), "")

	args := make([]string, 0, len(query))
	for _, key := range []string{"read-only", "shards", "timeout"} {
		if values, ok := query[key]; ok && len(values) > 0 {
			args = append(args, fmt.Sprintf("--%s=%s", key, values[len(values)-1]))
			query.Del(key)
		}
	}
	if err := fs.Parse(args); err != nil {
		return "", Attributes{}, fmt.Errorf("remotestore: unable to parse attributes: %w", err)
	}

	clamped := *timeoutMillis
	if clamped < minTimeoutMilliseconds {
		clamped = minTimeoutMilliseconds
	} else if clamped > maxTimeoutMilliseconds {
		clamped = maxTimeoutMilliseconds
	}

	parsed.RawQuery = query.Encode()

	return parsed.String(), Attributes{
		ReadOnly: *readOnly,
		Shards:   *shards,
		Timeout:  time.Duration(clamped) * time.Millisecond,
	}, nil
}
