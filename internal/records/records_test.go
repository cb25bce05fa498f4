package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminsync/internal/store"
)

func TestDecodeAppointment(t *testing.T) {
	doc := store.Document{ID: "p1", Properties: store.Properties{
		PropName:            "Team Sync",
		PropStart:           "2026-10-18T14:00:00Z",
		PropEnd:             "2026-10-18T14:30:00Z",
		PropPartnerRelevant: true,
		PropSyncedSharedID:  "s1",
		PropLocation:        "Büro",
	}}

	a, err := DecodeAppointment(doc, 7)
	require.NoError(t, err)
	assert.Equal(t, "p1", a.ID)
	assert.Equal(t, "Team Sync", a.Title)
	assert.Equal(t, 30*time.Minute, a.End.Sub(a.Start))
	assert.True(t, a.PartnerRelevant)
	assert.Equal(t, "s1", a.SyncedSharedID)
	assert.Equal(t, int64(7), a.OwnerID)
	assert.Equal(t, "Büro", a.Location)
	assert.False(t, a.Legacy)
}

func TestDecodeAppointmentLegacyDate(t *testing.T) {
	doc := store.Document{ID: "p1", Properties: store.Properties{
		PropName:       "Zahnarzt",
		PropLegacyDate: "2026-10-18T09:00:00Z",
	}}

	a, err := DecodeAppointment(doc, 1)
	require.NoError(t, err)
	assert.True(t, a.Legacy)
	assert.Equal(t, 9, a.Start.Hour())
	assert.Equal(t, DefaultDuration, a.End.Sub(a.Start))
}

func TestDecodeAppointmentStartEndWinOverLegacy(t *testing.T) {
	doc := store.Document{ID: "p1", Properties: store.Properties{
		PropName:       "Zahnarzt",
		PropLegacyDate: "2026-10-18T09:00:00Z",
		PropStart:      "2026-10-18T11:00:00Z",
		PropEnd:        "2026-10-18T11:15:00Z",
	}}

	a, err := DecodeAppointment(doc, 1)
	require.NoError(t, err)
	assert.False(t, a.Legacy)
	assert.Equal(t, 11, a.Start.Hour())
	assert.Equal(t, 15*time.Minute, a.End.Sub(a.Start))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]store.Properties{
		"no title":   {PropStart: "2026-10-18T11:00:00Z"},
		"no start":   {PropName: "x"},
		"bad start":  {PropName: "x", PropStart: "morgen"},
		"end before": {PropName: "x", PropStart: "2026-10-18T11:00:00Z", PropEnd: "2026-10-18T10:00:00Z"},
	}
	for name, props := range cases {
		_, err := DecodeAppointment(store.Document{ID: "p", Properties: props}, 1)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestSharedRoundTripThroughProperties(t *testing.T) {
	a := Appointment{
		ID: "p1",
		Content: Content{
			Title: "Team Sync",
			Start: time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC),
		},
		OwnerID: 42,
	}
	props := SharedFrom(a).Properties()
	assert.Equal(t, "p1", props[PropSourcePrivateID])
	assert.Equal(t, int64(42), props[PropSourceUserID])
	assert.Nil(t, props[PropDescription])

	// JSON-decoded numbers arrive as float64.
	props[PropSourceUserID] = float64(42)
	s, err := DecodeShared(store.Document{ID: "s1", Properties: props})
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.SourceOwnerID)
	assert.True(t, s.Content.Equal(a.Content))
}

func TestDecodeSharedRequiresSource(t *testing.T) {
	_, err := DecodeShared(store.Document{ID: "s1", Properties: store.Properties{
		PropName:         "x",
		PropStart:        "2026-10-18T11:00:00Z",
		PropSourceUserID: 1,
	}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestContentEqualIgnoresSubSecond(t *testing.T) {
	start := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	a := Content{Title: "a", Start: start, End: start.Add(time.Hour)}
	b := a
	b.Start = start.Add(300 * time.Millisecond)
	assert.True(t, a.Equal(b))

	b.Location = "elsewhere"
	assert.False(t, a.Equal(b))
}
