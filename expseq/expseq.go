// Package expseq provides a list of exposure times played back in order,
// one per frame, for hardware-style exposure sequencing.
package expseq

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-yaml/yaml"
)

// DefaultMaxLength is the capacity of a sequencer created with New(0)
const DefaultMaxLength = 100

var (
	// ErrFull is generated when Add is called on a sequencer at capacity
	ErrFull = errors.New("exposure sequence is at maximum length")

	// ErrNegative is generated when a negative exposure is added
	ErrNegative = errors.New("exposure time must be non-negative")
)

// Sequencer is an ordered list of exposure durations with a wrap-around
// cursor.  It is safe for concurrent use.
type Sequencer struct {
	mu     sync.Mutex
	values []time.Duration
	cursor int
	max    int
}

// New returns an empty sequencer holding up to max entries.  max <= 0 uses
// DefaultMaxLength.
func New(max int) *Sequencer {
	if max <= 0 {
		max = DefaultMaxLength
	}
	return &Sequencer{max: max}
}

// Next returns the exposure for the next frame and advances the cursor.  When
// the list is empty, static is returned and nothing advances.
func (s *Sequencer) Next(static time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return static
	}
	d := s.values[s.cursor]
	s.cursor = (s.cursor + 1) % len(s.values)
	return d
}

// Add appends an exposure to the end of the list
func (s *Sequencer) Add(d time.Duration) error {
	if d < 0 {
		return ErrNegative
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) >= s.max {
		return ErrFull
	}
	s.values = append(s.values, d)
	return nil
}

// Clear empties the list and rewinds the cursor
func (s *Sequencer) Clear() {
	s.mu.Lock()
	s.values = s.values[:0]
	s.cursor = 0
	s.mu.Unlock()
}

// Replace swaps the whole list for vals and rewinds the cursor.  Either
// every entry is taken or, on error, s is unchanged.
func (s *Sequencer) Replace(vals []time.Duration) error {
	if len(vals) > s.max {
		return fmt.Errorf("%d exposures, maximum is %d: %w", len(vals), s.max, ErrFull)
	}
	for i, d := range vals {
		if d < 0 {
			return fmt.Errorf("entry %d: %w", i, ErrNegative)
		}
	}
	next := make([]time.Duration, len(vals))
	copy(next, vals)
	s.mu.Lock()
	s.values = next
	s.cursor = 0
	s.mu.Unlock()
	return nil
}

// Rewind moves the cursor to the first entry without changing the list
func (s *Sequencer) Rewind() {
	s.mu.Lock()
	s.cursor = 0
	s.mu.Unlock()
}

// Len is the number of entries
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// MaxLength is the capacity of the sequencer
func (s *Sequencer) MaxLength() int {
	return s.max
}

// Values returns a copy of the list
func (s *Sequencer) Values() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.values))
	copy(out, s.values)
	return out
}

// File is the on-disk form of an exposure sequence
type File struct {
	// ExposuresMs is the list of exposure times, in milliseconds
	ExposuresMs []float64 `yaml:"exposuresMs"`
}

// LoadYaml reads a File from disk and replaces the contents of s with it.
// On error, s is unchanged.
func (s *Sequencer) LoadYaml(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var ef File
	err = yaml.NewDecoder(f).Decode(&ef)
	if err != nil {
		return err
	}
	vals := make([]time.Duration, len(ef.ExposuresMs))
	for i, ms := range ef.ExposuresMs {
		vals[i] = time.Duration(ms * float64(time.Millisecond))
	}
	if err = s.Replace(vals); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
