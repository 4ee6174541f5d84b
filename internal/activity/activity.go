// Package activity maintains the bounded sliding window of recent message
// timestamps per chat and derives the short-term activity rate from it.
package activity

import (
	"time"

	"github.com/p-blackswan/cadence-agent/internal/state"
)

// MaxEntriesPerChat bounds the timestamp sequence under sustained
// high-volume chats. Pruning keeps only the newest entries.
const MaxEntriesPerChat = 10000

// Record appends now to the chat's timestamp sequence and prunes it.
func Record(cs *state.ChatState, now int64, window time.Duration) {
	cs.ActivityTimestamps = append(cs.ActivityTimestamps, now)
	Prune(cs, now, window)
}

// Prune drops timestamps older than now-window, then enforces the hard cap
// by retaining only the newest MaxEntriesPerChat entries.
func Prune(cs *state.ChatState, now int64, window time.Duration) {
	cutoff := now - int64(window/time.Second)
	kept := cs.ActivityTimestamps[:0]
	for _, ts := range cs.ActivityTimestamps {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	if len(kept) > MaxEntriesPerChat {
		kept = kept[len(kept)-MaxEntriesPerChat:]
	}
	cs.ActivityTimestamps = kept
}

// Metrics returns the window count and the derived messages-per-minute rate.
// Callers prune first; Metrics itself is a pure read.
func Metrics(cs *state.ChatState, window time.Duration) (count int, perMin float64) {
	count = len(cs.ActivityTimestamps)
	perMin = float64(count) * 60.0 / window.Seconds()
	return count, perMin
}
