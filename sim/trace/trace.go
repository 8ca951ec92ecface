package trace

import (
	"cmp"
	"slices"
	"sync"
)

// Level controls the verbosity of run tracing.
type Level string

const (
	// LevelNone disables tracing (zero overhead).
	LevelNone Level = "none"
	// LevelIndividuals records one IndividualRecord per simulated individual.
	LevelIndividuals Level = "individuals"
)

// validLevels maps accepted trace level strings.
var validLevels = map[Level]bool{
	LevelNone:        true,
	LevelIndividuals: true,
	"":               true, // empty defaults to none
}

// IsValidLevel returns true if the given level string is a recognized trace level.
func IsValidLevel(level string) bool {
	return validLevels[Level(level)]
}

// Config controls trace collection behavior.
type Config struct {
	Level Level
}

// Enabled reports whether records should be collected.
func (c Config) Enabled() bool {
	return c.Level == LevelIndividuals
}

// RunTrace collects individual records during a population run. Record is
// safe for concurrent use by workers.
type RunTrace struct {
	Config      Config
	Individuals []IndividualRecord

	mu sync.Mutex
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(config Config) *RunTrace {
	return &RunTrace{
		Config:      config,
		Individuals: make([]IndividualRecord, 0),
	}
}

// Record appends one individual's record. No-op on a nil trace.
func (rt *RunTrace) Record(record IndividualRecord) {
	if rt == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.Individuals = append(rt.Individuals, record)
}

// Sort orders records by individual id, undoing worker completion order.
func (rt *RunTrace) Sort() {
	if rt == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	slices.SortFunc(rt.Individuals, func(a, b IndividualRecord) int { return cmp.Compare(a.ID, b.ID) })
}
