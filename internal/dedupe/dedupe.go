// Package dedupe decides whether two appointment records describe the same
// logical appointment.
package dedupe

import (
	"strings"
	"time"
	"unicode"

	"terminsync/internal/records"
)

// DefaultTolerance absorbs timestamp rounding between collections.
const DefaultTolerance = 5 * time.Minute

// Candidate is the comparable part of a record. Key is an external
// correlation key (e.g. a mail event id) and may be empty.
type Candidate struct {
	Key   string
	Title string
	Start time.Time
}

// FromContent builds a candidate from decoded record content.
func FromContent(key string, c records.Content) Candidate {
	return Candidate{Key: key, Title: c.Title, Start: c.Start}
}

type Detector struct {
	Tolerance time.Duration
}

func New() Detector {
	return Detector{Tolerance: DefaultTolerance}
}

// IsDuplicate compares by key when both candidates carry one, otherwise by
// normalized title and start within the tolerance.
func (d Detector) IsDuplicate(a, b Candidate) bool {
	if a.Key != "" && b.Key != "" {
		return a.Key == b.Key
	}
	if normalize(a.Title) != normalize(b.Title) || normalize(a.Title) == "" {
		return false
	}
	diff := a.Start.Sub(b.Start)
	if diff < 0 {
		diff = -diff
	}
	return diff <= d.tolerance()
}

// Find returns the index of the first entry of known that c duplicates, or -1.
func (d Detector) Find(c Candidate, known []Candidate) int {
	for i, k := range known {
		if d.IsDuplicate(c, k) {
			return i
		}
	}
	return -1
}

func (d Detector) tolerance() time.Duration {
	if d.Tolerance <= 0 {
		return DefaultTolerance
	}
	return d.Tolerance
}

// Index accumulates accepted candidates. Keyed candidates are looked up in a
// map; the title/start fallback scans the accepted list.
type Index struct {
	detector Detector
	keys     map[string]struct{}
	accepted []Candidate
}

func NewIndex(d Detector) *Index {
	return &Index{detector: d, keys: make(map[string]struct{})}
}

// Seen reports whether c duplicates an accepted candidate.
func (ix *Index) Seen(c Candidate) bool {
	if c.Key != "" {
		if _, ok := ix.keys[c.Key]; ok {
			return true
		}
	}
	for _, k := range ix.accepted {
		if ix.detector.IsDuplicate(c, k) {
			return true
		}
	}
	return false
}

func (ix *Index) Add(c Candidate) {
	if c.Key != "" {
		ix.keys[c.Key] = struct{}{}
	}
	ix.accepted = append(ix.accepted, c)
}

// Accept adds c unless it is already seen and reports whether it was added.
func (ix *Index) Accept(c Candidate) bool {
	if ix.Seen(c) {
		return false
	}
	ix.Add(c)
	return true
}

func (ix *Index) Len() int { return len(ix.accepted) }

func normalize(title string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}), " ")
}
