// Package cadence implements the dual-channel rate limiter that decides
// whether a post is currently allowed: a cooldown since the last post plus an
// optional per-UTC-day quota. The reply and ambient channels each own an
// independent ChannelState, so a burst on one channel can never exhaust the
// other's budget.
package cadence

import (
	"fmt"
	"time"
)

// ChannelState is the persisted cadence state of one posting channel.
type ChannelState struct {
	LastPostTS int64  `json:"last_post_ts"`
	DailyCount int    `json:"daily_count"`
	DailyDate  string `json:"daily_date"`
}

// Gate parameterizes the shared algorithm for one channel.
// DailyCap == 0 disables the quota check entirely.
type Gate struct {
	Cooldown time.Duration
	DailyCap int
}

// Today formats an epoch-second timestamp as a UTC calendar date.
func Today(now int64) string {
	return time.Unix(now, 0).UTC().Format("2006-01-02")
}

// RollDate resets the daily counter when the stored date is not today.
// It is the only operation besides RegisterPost that mutates state, and it is
// idempotent: rolling twice in one tick, or rolling and then registering,
// never double-counts.
func RollDate(st *ChannelState, today string) {
	if st.DailyDate != today {
		st.DailyDate = today
		st.DailyCount = 0
	}
}

// MayPost reports whether a post is allowed at now. It is a pure read: a
// stale DailyDate counts as a fresh day without being rewritten.
func (g Gate) MayPost(st ChannelState, now int64) bool {
	if now-st.LastPostTS < int64(g.Cooldown/time.Second) {
		return false
	}
	if g.DailyCap > 0 {
		if st.DailyDate == Today(now) && st.DailyCount >= g.DailyCap {
			return false
		}
	}
	return true
}

// BlockReason returns a diagnostic for why a post is blocked at now:
// "cooldown(Ns)", "daily_cap", or "" when posting is allowed.
// Like MayPost it is a pure read.
func (g Gate) BlockReason(st ChannelState, now int64) string {
	cooldown := int64(g.Cooldown / time.Second)
	since := now - st.LastPostTS
	if since < cooldown {
		return fmt.Sprintf("cooldown(%ds)", cooldown-since)
	}
	if g.DailyCap > 0 {
		if st.DailyDate == Today(now) && st.DailyCount >= g.DailyCap {
			return "daily_cap"
		}
	}
	return ""
}

// RegisterPost records a post (or a budget-consuming skip) at now:
// it stamps the cooldown timer, rolls the date, and increments the counter.
func (g Gate) RegisterPost(st *ChannelState, now int64) {
	st.LastPostTS = now
	RollDate(st, Today(now))
	st.DailyCount++
}
