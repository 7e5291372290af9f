package controller

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func mustUpsert(t *testing.T, a *Aggregator, hb Heartbeat, now time.Time) bool {
	t.Helper()
	changed, err := a.Upsert(hb, now)
	require.NoError(t, err)
	return changed
}

func TestUpsertValidation(t *testing.T) {
	tests := []struct {
		name     string
		hb       Heartbeat
		wantCode string
	}{
		{"empty client id", Heartbeat{ClientID: ""}, "invalid_client_id"},
		{"whitespace client id", Heartbeat{ClientID: "   "}, "invalid_client_id"},
		{"bad characters", Heartbeat{ClientID: "a b!"}, "invalid_client_id"},
		{"too long", Heartbeat{ClientID: strings.Repeat("x", 65)}, "invalid_client_id"},
		{"unknown tool", Heartbeat{ClientID: "c1", Tool: "spray"}, "invalid_tool"},
		{"active without trigger", Heartbeat{ClientID: "c1", Active: true}, "invalid_trigger_tag_id"},
		{"active with zero trigger", Heartbeat{ClientID: "c1", Active: true, TriggerTagID: intp(0)}, "invalid_trigger_tag_id"},
		{"active with out-of-range trigger", Heartbeat{ClientID: "c1", Active: true, TriggerTagID: intp(10000)}, "invalid_trigger_tag_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(DefaultTTL)
			_, err := a.Upsert(tt.hb, t0)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			require.Equal(t, tt.wantCode, verr.Code)
		})
	}
}

func TestUpsertRejectionLeavesStateUntouched(t *testing.T) {
	a := NewAggregator(DefaultTTL)
	mustUpsert(t, a, Heartbeat{ClientID: "good", Active: true, Tool: "draw", TriggerTagID: intp(4)}, t0)
	before := a.Snapshot(t0)

	_, err := a.Upsert(Heartbeat{ClientID: "good", Active: true, Tool: "spray", TriggerTagID: intp(4)}, t0.Add(time.Millisecond))
	require.Error(t, err)

	after := a.Snapshot(t0.Add(time.Millisecond))
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("rejected heartbeat mutated state (-before +after):\n%s", diff)
	}
}

func TestUpsertDefaultsAndSanitization(t *testing.T) {
	a := NewAggregator(DefaultTTL)

	// Empty tool defaults to draw, mixed case is folded.
	mustUpsert(t, a, Heartbeat{ClientID: "c1", Active: true, TriggerTagID: intp(3)}, t0)
	mustUpsert(t, a, Heartbeat{ClientID: "c2", Active: true, Tool: " ERASER ", TriggerTagID: intp(4)}, t0)
	snap := a.Snapshot(t0)
	require.Equal(t, "draw", snap.ActiveToolByTriggerTagID["3"])
	require.Equal(t, "eraser", snap.ActiveToolByTriggerTagID["4"])

	// Inactive heartbeat with an out-of-range trigger is accepted; the
	// trigger is simply dropped.
	mustUpsert(t, a, Heartbeat{ClientID: "c3", TriggerTagID: intp(-5)}, t0)

	// Oversized note text is truncated, finalize tick clamped.
	long := strings.Repeat("n", NoteTextMaxLen+50)
	mustUpsert(t, a, Heartbeat{
		ClientID:         "c4",
		TriggerTagID:     intp(8),
		NoteText:         long,
		NoteFinalizeTick: 1 << 40,
	}, t0)
	snap = a.Snapshot(t0)
	note := snap.RemoteNoteStateByTriggerTagID["8"]
	require.Len(t, note.Text, NoteTextMaxLen)
	require.EqualValues(t, maxFinalizeTick, note.FinalizeTick)

	mustUpsert(t, a, Heartbeat{ClientID: "c5", TriggerTagID: intp(9), NoteFinalizeTick: -3}, t0)
	snap = a.Snapshot(t0)
	_, hasNote := snap.RemoteNoteStateByTriggerTagID["9"]
	require.False(t, hasNote, "negative tick clamps to zero and carries no note state")
}

func TestUpsertSeqAdvancesOnMaterialChangeOnly(t *testing.T) {
	a := NewAggregator(DefaultTTL)
	hb := Heartbeat{ClientID: "c1", Active: true, Tool: "draw", TriggerTagID: intp(7)}

	require.True(t, mustUpsert(t, a, hb, t0))
	seq := a.Snapshot(t0).Seq

	// Same payload, fresher timestamp: liveness only, no seq bump.
	require.False(t, mustUpsert(t, a, hb, t0.Add(100*time.Millisecond)))
	require.Equal(t, seq, a.Snapshot(t0.Add(100*time.Millisecond)).Seq)

	hb.Tool = "dot"
	require.True(t, mustUpsert(t, a, hb, t0.Add(200*time.Millisecond)))
	require.Greater(t, a.Snapshot(t0.Add(200*time.Millisecond)).Seq, seq)
}

func TestSnapshotTTLExpiry(t *testing.T) {
	ttl := DefaultTTL
	a := NewAggregator(ttl)
	mustUpsert(t, a, Heartbeat{ClientID: "a", Active: true, Tool: "draw", TriggerTagID: intp(7)}, t0)

	// Just inside the TTL the client is present.
	fresh := a.Snapshot(t0.Add(ttl * 79 / 100))
	require.Equal(t, 1, fresh.ActiveClients)
	require.Equal(t, "draw", fresh.ActiveToolByTriggerTagID["7"])
	require.Equal(t, []int{7}, fresh.ActiveDrawTriggerTagIDs)

	// Just past the TTL it is gone and the purge bumps the sequence.
	stale := a.Snapshot(t0.Add(ttl * 101 / 100))
	require.Equal(t, 0, stale.ActiveClients)
	require.Empty(t, stale.ActiveToolByTriggerTagID)
	require.Empty(t, stale.ActiveDrawTriggerTagIDs)
	require.Greater(t, stale.Seq, fresh.Seq)

	// Purge already happened; the next snapshot is stable.
	again := a.Snapshot(t0.Add(ttl * 2))
	require.Equal(t, stale.Seq, again.Seq)
}

func TestSnapshotLastWriteWins(t *testing.T) {
	a := NewAggregator(DefaultTTL)
	mustUpsert(t, a, Heartbeat{ClientID: "early", Active: true, Tool: "draw", TriggerTagID: intp(5)}, t0)
	mustUpsert(t, a, Heartbeat{ClientID: "late", Active: true, Tool: "eraser", TriggerTagID: intp(5)}, t0.Add(50*time.Millisecond))

	snap := a.Snapshot(t0.Add(60 * time.Millisecond))
	require.Equal(t, "eraser", snap.ActiveToolByTriggerTagID["5"])
	require.Empty(t, snap.ActiveDrawTriggerTagIDs)
	require.Equal(t, 2, snap.ActiveClients)
}

func TestSnapshotTieBreaksOnClientID(t *testing.T) {
	a := NewAggregator(DefaultTTL)
	mustUpsert(t, a, Heartbeat{ClientID: "zeta", Active: true, Tool: "dot", TriggerTagID: intp(5)}, t0)
	mustUpsert(t, a, Heartbeat{ClientID: "alpha", Active: true, Tool: "draw", TriggerTagID: intp(5)}, t0)

	for i := 0; i < 20; i++ {
		snap := a.Snapshot(t0)
		require.Equal(t, "dot", snap.ActiveToolByTriggerTagID["5"], "tie resolution must be stable")
	}
}

func TestSnapshotNoteIndependentOfActive(t *testing.T) {
	a := NewAggregator(DefaultTTL)

	// Inactive client still publishes its note state for the tag.
	mustUpsert(t, a, Heartbeat{
		ClientID:          "scribe",
		TriggerTagID:      intp(12),
		NoteText:          "meeting notes",
		NoteSessionActive: true,
	}, t0)

	snap := a.Snapshot(t0)
	require.Empty(t, snap.ActiveToolByTriggerTagID)
	note, ok := snap.RemoteNoteStateByTriggerTagID["12"]
	require.True(t, ok)
	require.Equal(t, NoteState{Text: "meeting notes", SessionActive: true}, note)

	// A finalize tick alone also carries note state.
	mustUpsert(t, a, Heartbeat{ClientID: "other", TriggerTagID: intp(13), NoteFinalizeTick: 4}, t0)
	snap = a.Snapshot(t0)
	require.Equal(t, NoteState{FinalizeTick: 4}, snap.RemoteNoteStateByTriggerTagID["13"])
}

func TestSnapshotDrawTagsSorted(t *testing.T) {
	a := NewAggregator(DefaultTTL)
	mustUpsert(t, a, Heartbeat{ClientID: "c9", Active: true, Tool: "draw", TriggerTagID: intp(9)}, t0)
	mustUpsert(t, a, Heartbeat{ClientID: "c2", Active: true, Tool: "draw", TriggerTagID: intp(2)}, t0)
	mustUpsert(t, a, Heartbeat{ClientID: "c5", Active: true, Tool: "draw", TriggerTagID: intp(5)}, t0)
	mustUpsert(t, a, Heartbeat{ClientID: "c7", Active: true, Tool: "note", TriggerTagID: intp(7)}, t0)

	snap := a.Snapshot(t0)
	require.Equal(t, []int{2, 5, 9}, snap.ActiveDrawTriggerTagIDs)
}

func TestSnapshotUpdatedAtTracksNewestClient(t *testing.T) {
	a := NewAggregator(DefaultTTL)
	require.Zero(t, a.Snapshot(t0).UpdatedAt)

	mustUpsert(t, a, Heartbeat{ClientID: "c1", TriggerTagID: intp(1)}, t0)
	newest := t0.Add(300 * time.Millisecond)
	mustUpsert(t, a, Heartbeat{ClientID: "c2", TriggerTagID: intp(2)}, newest)

	snap := a.Snapshot(newest)
	require.InDelta(t, float64(newest.UnixNano())/1e9, snap.UpdatedAt, 1e-6)
}

func TestSnapshotHeartbeatLifecycle(t *testing.T) {
	ttl := DefaultTTL
	a := NewAggregator(ttl)

	// Client claims tag 7 for drawing, then releases it, then vanishes.
	mustUpsert(t, a, Heartbeat{ClientID: "a", Active: true, Tool: "draw", TriggerTagID: intp(7)}, t0)
	snap := a.Snapshot(t0)
	require.Equal(t, "draw", snap.ActiveToolByTriggerTagID["7"])
	require.Equal(t, []int{7}, snap.ActiveDrawTriggerTagIDs)

	mustUpsert(t, a, Heartbeat{ClientID: "a", Active: false, Tool: "draw", TriggerTagID: intp(7)}, t0.Add(100*time.Millisecond))
	snap = a.Snapshot(t0.Add(100 * time.Millisecond))
	require.Empty(t, snap.ActiveToolByTriggerTagID)
	require.Equal(t, 1, snap.ActiveClients)

	snap = a.Snapshot(t0.Add(100*time.Millisecond + ttl + time.Millisecond))
	require.Equal(t, 0, snap.ActiveClients)
}
