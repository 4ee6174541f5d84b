// Package state defines the persisted snapshot: the inbound offset plus the
// per-chat cadence and activity state.
package state

import (
	"github.com/p-blackswan/cadence-agent/internal/cadence"
)

// ChatState holds everything the agent remembers about one chat.
// The reply and ambient channels never share counters.
type ChatState struct {
	ActivityTimestamps []int64 `json:"activity_timestamps"`

	Reply   cadence.ChannelState `json:"reply"`
	Ambient cadence.ChannelState `json:"ambient"`

	// Legacy single-channel fields. Older snapshots stored one cadence
	// channel at the top level; GetOrCreateChat migrates them on read and
	// they are never written back.
	LegacyLastPostTS int64  `json:"last_post_ts,omitempty"`
	LegacyDailyCount int    `json:"daily_count,omitempty"`
	LegacyDailyDate  string `json:"daily_date,omitempty"`
}

// GlobalState is the full persisted snapshot.
type GlobalState struct {
	// Offset is the next inbound update identifier expected. It never
	// decreases across saves.
	Offset int64 `json:"telegram_offset"`

	// Chats maps chat ID to its state. Entries are created lazily on first
	// observed activity and never evicted.
	Chats map[int64]*ChatState `json:"chats"`
}

// NewGlobalState returns an empty snapshot.
func NewGlobalState() *GlobalState {
	return &GlobalState{Chats: make(map[int64]*ChatState)}
}

// GetOrCreateChat returns the state for a chat, creating it if absent and
// backfilling any fields missing from older persisted shapes. Idempotent.
func (g *GlobalState) GetOrCreateChat(id int64) *ChatState {
	if g.Chats == nil {
		g.Chats = make(map[int64]*ChatState)
	}
	cs, ok := g.Chats[id]
	if !ok || cs == nil {
		cs = &ChatState{}
		g.Chats[id] = cs
	}
	if cs.ActivityTimestamps == nil {
		cs.ActivityTimestamps = []int64{}
	}
	cs.migrateLegacyChannel()
	return cs
}

// AdvanceOffset moves the stored offset past updateID. The offset is
// monotonic: stale IDs never move it backwards.
// Returns true when the offset changed.
func (g *GlobalState) AdvanceOffset(updateID int64) bool {
	if updateID+1 > g.Offset {
		g.Offset = updateID + 1
		return true
	}
	return false
}

// ChatIDs returns all known chat IDs in unspecified order.
func (g *GlobalState) ChatIDs() []int64 {
	ids := make([]int64, 0, len(g.Chats))
	for id := range g.Chats {
		ids = append(ids, id)
	}
	return ids
}

// migrateLegacyChannel seeds both channels from the pre-split top-level
// cadence fields. The legacy shape had one shared channel, so both new
// channels inherit it; the split only takes effect going forward.
func (cs *ChatState) migrateLegacyChannel() {
	if cs.LegacyLastPostTS == 0 && cs.LegacyDailyCount == 0 && cs.LegacyDailyDate == "" {
		return
	}
	legacy := cadence.ChannelState{
		LastPostTS: cs.LegacyLastPostTS,
		DailyCount: cs.LegacyDailyCount,
		DailyDate:  cs.LegacyDailyDate,
	}
	if (cs.Reply == cadence.ChannelState{}) {
		cs.Reply = legacy
	}
	if (cs.Ambient == cadence.ChannelState{}) {
		cs.Ambient = legacy
	}
	cs.LegacyLastPostTS = 0
	cs.LegacyDailyCount = 0
	cs.LegacyDailyDate = ""
}
