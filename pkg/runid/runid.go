// Package runid derives unique run identifiers and checkpoint paths.
package runid

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Timestamp layouts used in ids and paths.
const (
	stampLayout = "060102-1504"
	dateLayout  = "2006-01-02"
)

// StripProvider removes a "provider/" prefix from a model string. The
// stripped form is used for ids, paths, and display; the full string is
// what the user task receives.
func StripProvider(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}

	return model
}

// Generator derives collision-free run ids within one process.
type Generator struct {
	mu   sync.Mutex
	used map[string]bool

	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewGenerator creates a Generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{
		used: make(map[string]bool),
		now:  time.Now,
	}
}

// NewGeneratorWithClock creates a Generator with a custom clock.
func NewGeneratorWithClock(now func() time.Time) *Generator {
	return &Generator{
		used: make(map[string]bool),
		now:  now,
	}
}

// Derive builds "{base}-{model_stripped}-{YYMMDD-HHMM}" and, on
// collision within this process, appends "-{counter}". The counter
// never appears inside the timestamp portion.
func (g *Generator) Derive(base, model string) string {
	stamp := g.now().Format(stampLayout)

	parts := []string{base}
	if stripped := StripProvider(model); stripped != "" {
		parts = append(parts, stripped)
	}

	parts = append(parts, stamp)
	candidate := strings.Join(parts, "-")

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.used[candidate] {
		g.used[candidate] = true

		return candidate
	}

	for counter := 1; ; counter++ {
		suffixed := fmt.Sprintf("%s-%d", candidate, counter)
		if !g.used[suffixed] {
			g.used[suffixed] = true

			return suffixed
		}
	}
}

// Reserve marks an explicit run name as taken. Caller-provided names
// are used verbatim, with no suffix.
func (g *Generator) Reserve(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.used[name] = true
}

// CheckpointPath builds the conventional checkpoint location:
// {outputDir}/{task}/{model_stripped}/{YYYY-MM-DD}/{runID}.csv
func CheckpointPath(outputDir, taskName, model string, when time.Time, runID string) string {
	stripped := StripProvider(model)
	if stripped == "" {
		stripped = "default"
	}

	return filepath.Join(
		outputDir,
		taskName,
		stripped,
		when.Format(dateLayout),
		runID+".csv",
	)
}
