// Package controller reconciles heartbeats from untrusted, independently
// clocked control clients into one logical active-tool-per-marker state.
// Clients that stop heartbeating expire after a TTL; conflicting claims on
// the same trigger tag resolve last-write-wins.
package controller

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// NoteTextMaxLen caps the remote note text carried per heartbeat.
	NoteTextMaxLen = 500

	// maxFinalizeTick clamps the client-supplied finalize tick.
	maxFinalizeTick = 1000000000

	triggerTagMin = 1
	triggerTagMax = 9999
)

// DefaultTTL is the maximum heartbeat age before a client is considered
// disconnected.
const DefaultTTL = 800 * time.Millisecond

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// supportedTools is the fixed set of tools a client may claim.
var supportedTools = map[string]bool{
	"draw":      true,
	"dot":       true,
	"note":      true,
	"eraser":    true,
	"selection": true,
}

// ValidationError rejects a malformed heartbeat with a machine-readable
// code and no state mutation.
type ValidationError struct {
	Code string
}

func (e *ValidationError) Error() string {
	return "controller: " + e.Code
}

// Heartbeat is the client-supplied heartbeat payload.
type Heartbeat struct {
	ClientID          string `json:"clientId"`
	Active            bool   `json:"active"`
	Tool              string `json:"tool"`
	TriggerTagID      *int   `json:"triggerTagId"`
	NoteText          string `json:"noteText"`
	NoteSessionActive bool   `json:"noteSessionActive"`
	NoteFinalizeTick  int64  `json:"noteFinalizeTick"`
}

// ClientState is the reconciled per-client record.
type ClientState struct {
	Active            bool
	Tool              string
	TriggerTagID      int // 0 when unset
	NoteText          string
	NoteSessionActive bool
	NoteFinalizeTick  int64
	UpdatedAt         time.Time
}

// NoteState is the resolved remote note state for one trigger tag, in
// wire shape.
type NoteState struct {
	Text          string `json:"text"`
	SessionActive bool   `json:"sessionActive"`
	FinalizeTick  int64  `json:"finalizeTick"`
}

// Snapshot is the reconciled multi-client state, in wire shape. Map keys
// are the decimal string form of the trigger tag id.
type Snapshot struct {
	Seq                           uint64               `json:"seq"`
	UpdatedAt                     float64              `json:"updatedAt"`
	ActiveClients                 int                  `json:"activeClients"`
	ActiveToolByTriggerTagID      map[string]string    `json:"activeToolByTriggerTagId"`
	RemoteNoteStateByTriggerTagID map[string]NoteState `json:"remoteNoteStateByTriggerTagId"`
	ActiveDrawTriggerTagIDs       []int                `json:"activeDrawTriggerTagIds"`
}

// Aggregator holds the per-client map behind its own lock so heartbeats
// never contend with capture or detection.
type Aggregator struct {
	mu      sync.Mutex
	clients map[string]ClientState
	seq     uint64
	ttl     time.Duration
}

// NewAggregator creates an Aggregator with the given heartbeat TTL.
func NewAggregator(ttl time.Duration) *Aggregator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Aggregator{
		clients: make(map[string]ClientState),
		ttl:     ttl,
	}
}

func sanitizeClientID(raw string) string {
	candidate := strings.TrimSpace(raw)
	if !clientIDPattern.MatchString(candidate) {
		return ""
	}
	return candidate
}

func sanitizeTriggerTagID(raw *int) int {
	if raw == nil {
		return 0
	}
	if *raw < triggerTagMin || *raw > triggerTagMax {
		return 0
	}
	return *raw
}

func sanitizeNoteText(raw string) string {
	if len(raw) > NoteTextMaxLen {
		return raw[:NoteTextMaxLen]
	}
	return raw
}

func sanitizeFinalizeTick(raw int64) int64 {
	if raw < 0 {
		return 0
	}
	if raw > maxFinalizeTick {
		return maxFinalizeTick
	}
	return raw
}

// Upsert validates the heartbeat and merges it into the client map at
// time now. It reports whether any reconciled field materially changed;
// only a material change advances the state sequence, so identical
// repeated heartbeats are free.
func (a *Aggregator) Upsert(hb Heartbeat, now time.Time) (bool, error) {
	clientID := sanitizeClientID(hb.ClientID)
	if clientID == "" {
		return false, &ValidationError{Code: "invalid_client_id"}
	}

	tool := strings.ToLower(strings.TrimSpace(hb.Tool))
	if tool == "" {
		tool = "draw"
	}
	if !supportedTools[tool] {
		return false, &ValidationError{Code: "invalid_tool"}
	}

	triggerTagID := sanitizeTriggerTagID(hb.TriggerTagID)
	if hb.Active && triggerTagID == 0 {
		return false, &ValidationError{Code: "invalid_trigger_tag_id"}
	}

	next := ClientState{
		Active:            hb.Active,
		Tool:              tool,
		TriggerTagID:      triggerTagID,
		NoteText:          sanitizeNoteText(hb.NoteText),
		NoteSessionActive: hb.NoteSessionActive,
		NoteFinalizeTick:  sanitizeFinalizeTick(hb.NoteFinalizeTick),
		UpdatedAt:         now,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.clients[clientID]
	changed := prev.Active != next.Active ||
		prev.Tool != next.Tool ||
		prev.TriggerTagID != next.TriggerTagID ||
		prev.NoteText != next.NoteText ||
		prev.NoteSessionActive != next.NoteSessionActive ||
		prev.NoteFinalizeTick != next.NoteFinalizeTick

	a.clients[clientID] = next
	if changed {
		a.seq++
	}
	return changed, nil
}

// wins reports whether candidate (at, id) replaces the held (heldAt,
// heldID). Strictly newer timestamps always win; exact ties break on the
// lexicographically greater clientId so resolution does not depend on map
// iteration order.
func wins(at, heldAt time.Time, id, heldID string) bool {
	if at.After(heldAt) {
		return true
	}
	return at.Equal(heldAt) && id > heldID
}

type toolCandidate struct {
	tool      string
	updatedAt time.Time
	clientID  string
}

type noteCandidate struct {
	note      NoteState
	updatedAt time.Time
	clientID  string
}

// Snapshot reconciles the client map at time now. Entries older than the
// TTL are excluded and purged; a purge counts as a state change and bumps
// the sequence even though no heartbeat caused it.
func (a *Aggregator) Snapshot(now time.Time) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var expired []string
	toolByTrigger := make(map[int]toolCandidate)
	noteByTrigger := make(map[int]noteCandidate)
	activeClients := 0
	var lastUpdatedAt time.Time

	for clientID, st := range a.clients {
		if now.Sub(st.UpdatedAt) > a.ttl {
			expired = append(expired, clientID)
			continue
		}

		activeClients++
		if st.UpdatedAt.After(lastUpdatedAt) {
			lastUpdatedAt = st.UpdatedAt
		}

		if st.TriggerTagID == 0 {
			continue
		}

		// Note contribution is independent of the active flag: any
		// client reporting note data claims the tag's note slot.
		if st.NoteSessionActive || st.NoteText != "" || st.NoteFinalizeTick > 0 {
			held, ok := noteByTrigger[st.TriggerTagID]
			if !ok || wins(st.UpdatedAt, held.updatedAt, clientID, held.clientID) {
				noteByTrigger[st.TriggerTagID] = noteCandidate{
					note: NoteState{
						Text:          st.NoteText,
						SessionActive: st.NoteSessionActive,
						FinalizeTick:  st.NoteFinalizeTick,
					},
					updatedAt: st.UpdatedAt,
					clientID:  clientID,
				}
			}
		}

		if !st.Active || !supportedTools[st.Tool] {
			continue
		}

		held, ok := toolByTrigger[st.TriggerTagID]
		if !ok || wins(st.UpdatedAt, held.updatedAt, clientID, held.clientID) {
			toolByTrigger[st.TriggerTagID] = toolCandidate{
				tool:      st.Tool,
				updatedAt: st.UpdatedAt,
				clientID:  clientID,
			}
		}
	}

	if len(expired) > 0 {
		for _, clientID := range expired {
			delete(a.clients, clientID)
		}
		a.seq++
	}

	activeToolByTag := make(map[string]string, len(toolByTrigger))
	var drawTags []int
	for tag, cand := range toolByTrigger {
		activeToolByTag[strconv.Itoa(tag)] = cand.tool
		if cand.tool == "draw" {
			drawTags = append(drawTags, tag)
		}
	}
	sort.Ints(drawTags)
	if drawTags == nil {
		drawTags = []int{}
	}

	noteStateByTag := make(map[string]NoteState, len(noteByTrigger))
	for tag, cand := range noteByTrigger {
		noteStateByTag[strconv.Itoa(tag)] = cand.note
	}

	return Snapshot{
		Seq:                           a.seq,
		UpdatedAt:                     epochSeconds(lastUpdatedAt),
		ActiveClients:                 activeClients,
		ActiveToolByTriggerTagID:      activeToolByTag,
		RemoteNoteStateByTriggerTagID: noteStateByTag,
		ActiveDrawTriggerTagIDs:       drawTags,
	}
}

// epochSeconds renders t as fractional Unix seconds, 0 for the zero time.
func epochSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
