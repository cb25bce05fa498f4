package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func TestIsDuplicateByKey(t *testing.T) {
	d := New()

	assert.True(t, d.IsDuplicate(
		Candidate{Key: "evt-1", Title: "Zahnarzt", Start: base},
		Candidate{Key: "evt-1", Title: "Dentist", Start: base.Add(time.Hour)},
	))
	assert.False(t, d.IsDuplicate(
		Candidate{Key: "evt-1", Title: "Zahnarzt", Start: base},
		Candidate{Key: "evt-2", Title: "Zahnarzt", Start: base},
	))
}

func TestIsDuplicateFallsBackToTitleAndStart(t *testing.T) {
	d := New()

	keyed := Candidate{Key: "evt-1", Title: "Team  Sync!", Start: base}
	plain := Candidate{Title: "team sync", Start: base.Add(4 * time.Minute)}
	assert.True(t, d.IsDuplicate(keyed, plain))

	late := Candidate{Title: "team sync", Start: base.Add(6 * time.Minute)}
	assert.False(t, d.IsDuplicate(keyed, late))

	other := Candidate{Title: "Review", Start: base}
	assert.False(t, d.IsDuplicate(plain, other))
}

func TestCustomTolerance(t *testing.T) {
	d := Detector{Tolerance: time.Minute}
	a := Candidate{Title: "Call", Start: base}
	assert.True(t, d.IsDuplicate(a, Candidate{Title: "Call", Start: base.Add(-time.Minute)}))
	assert.False(t, d.IsDuplicate(a, Candidate{Title: "Call", Start: base.Add(2 * time.Minute)}))
}

func TestEmptyTitlesNeverMatch(t *testing.T) {
	d := New()
	assert.False(t, d.IsDuplicate(Candidate{Start: base}, Candidate{Start: base}))
}

func TestIndex(t *testing.T) {
	ix := NewIndex(New())

	assert.True(t, ix.Accept(Candidate{Key: "evt-1", Title: "Zahnarzt", Start: base}))
	assert.False(t, ix.Accept(Candidate{Key: "evt-1", Title: "anything", Start: base.Add(48 * time.Hour)}))
	assert.False(t, ix.Accept(Candidate{Title: "zahnarzt", Start: base.Add(2 * time.Minute)}))
	// A different key at the same slot is a different appointment.
	assert.True(t, ix.Accept(Candidate{Key: "evt-2", Title: "Zahnarzt", Start: base}))
	assert.Equal(t, 2, ix.Len())
}

func TestFind(t *testing.T) {
	d := New()
	known := []Candidate{
		{Title: "Standup", Start: base},
		{Title: "Review", Start: base.Add(time.Hour)},
	}
	assert.Equal(t, 1, d.Find(Candidate{Title: "review", Start: base.Add(time.Hour)}, known))
	assert.Equal(t, -1, d.Find(Candidate{Title: "Lunch", Start: base}, known))
}
