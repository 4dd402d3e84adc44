// Package trace provides leveled event tracing for the translation layer.
// Components accept a Tracer and emit layout, translation and specialization
// events; the nop tracer keeps the hot path free when tracing is off.
package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Level controls how much the translation layer reports.
type Level uint8

const (
	// LevelOff disables tracing.
	LevelOff Level = iota
	// LevelTranslation reports per-kernel translation and specialization
	// events.
	LevelTranslation
	// LevelDetail additionally reports per-instruction layout decisions.
	LevelDetail
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelTranslation:
		return "translation"
	case LevelDetail:
		return "detail"
	default:
		return "off"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "off":
		return LevelOff, nil
	case "translation":
		return LevelTranslation, nil
	case "detail":
		return LevelDetail, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|translation|detail)", s)
	}
}

// Tracer receives translation events. Implementations must be
// goroutine-safe.
type Tracer interface {
	// Eventf records a formatted event at the given level.
	Eventf(level Level, format string, args ...any)

	// Enabled reports whether events at the given level are recorded.
	Enabled(level Level) bool
}

// Nop returns a tracer that discards everything.
func Nop() Tracer { return nopTracer{} }

type nopTracer struct{}

func (nopTracer) Eventf(Level, string, ...any) {}
func (nopTracer) Enabled(Level) bool           { return false }

// Stream is a Tracer writing timestamped lines to an io.Writer.
type Stream struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
	start time.Time
}

// NewStream creates a stream tracer recording events up to level.
func NewStream(w io.Writer, level Level) *Stream {
	return &Stream{w: w, level: level, start: time.Now()}
}

// Enabled implements Tracer.
func (s *Stream) Enabled(level Level) bool {
	return level != LevelOff && level <= s.level
}

// Eventf implements Tracer.
func (s *Stream) Eventf(level Level, format string, args ...any) {
	if !s.Enabled(level) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.start)
	fmt.Fprintf(s.w, "[%10.3fms] ", float64(elapsed)/float64(time.Millisecond))
	fmt.Fprintf(s.w, format, args...)
	fmt.Fprintln(s.w)
}
