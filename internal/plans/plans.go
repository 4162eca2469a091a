// Package plans maps account plan names to upload limits.
package plans

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Plan names. Anything else resolves to Free.
const (
	Free     = "free"
	Starter  = "starter"
	Hobby    = "hobby"
	Pro      = "pro"
	Business = "business"
)

//go:embed plans.yaml
var defaultTable []byte

// Limits bounds what an event of a given plan may accept.
type Limits struct {
	Plan              string
	MaxFileSizeBytes  int64
	MaxPhotosPerEvent *int
}

// Unlimited reports whether the plan has no photo cap.
func (l Limits) Unlimited() bool {
	return l.MaxPhotosPerEvent == nil
}

// Remaining returns how many more photos fit given current. ok is false when unlimited.
func (l Limits) Remaining(current int) (remaining int, ok bool) {
	if l.MaxPhotosPerEvent == nil {
		return 0, false
	}
	remaining = *l.MaxPhotosPerEvent - current
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

type planEntry struct {
	MaxFileSize       string `yaml:"max_file_size"`
	MaxPhotosPerEvent *int   `yaml:"max_photos_per_event"`
}

// Resolver holds a parsed plan table.
type Resolver struct {
	table map[string]Limits
}

// Default returns a Resolver over the embedded plan table.
func Default() *Resolver {
	r, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("plans: embedded table: %v", err))
	}
	return r
}

// Parse builds a Resolver from a YAML plan table. The free plan is required.
func Parse(data []byte) (*Resolver, error) {
	var raw map[string]planEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plan table: %w", err)
	}
	table := make(map[string]Limits, len(raw))
	for name, entry := range raw {
		size, err := humanize.ParseBytes(entry.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("plan %s: invalid max_file_size %q: %w", name, entry.MaxFileSize, err)
		}
		if size == 0 {
			return nil, fmt.Errorf("plan %s: max_file_size must be positive", name)
		}
		if entry.MaxPhotosPerEvent != nil && *entry.MaxPhotosPerEvent < 0 {
			return nil, fmt.Errorf("plan %s: max_photos_per_event must not be negative", name)
		}
		name = normalize(name)
		table[name] = Limits{Plan: name, MaxFileSizeBytes: int64(size), MaxPhotosPerEvent: entry.MaxPhotosPerEvent}
	}
	if _, ok := table[Free]; !ok {
		return nil, fmt.Errorf("plan table must define %q", Free)
	}
	return &Resolver{table: table}, nil
}

// LimitsFor returns the limits for planName, falling back to the free plan.
func (r *Resolver) LimitsFor(planName string) Limits {
	if l, ok := r.table[normalize(planName)]; ok {
		return l
	}
	return r.table[Free]
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
