// Package engine drives the agent's single control loop: drain a batch of
// inbound updates, handle mention replies, and run the ambient trigger across
// known chats once per tick. All chat state mutations happen on this loop;
// nothing in here terminates the process.
package engine

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/cadence-agent/internal/activity"
	"github.com/p-blackswan/cadence-agent/internal/agenterr"
	"github.com/p-blackswan/cadence-agent/internal/backoff"
	"github.com/p-blackswan/cadence-agent/internal/cadence"
	"github.com/p-blackswan/cadence-agent/internal/generate"
	"github.com/p-blackswan/cadence-agent/internal/mask"
	"github.com/p-blackswan/cadence-agent/internal/memory"
	"github.com/p-blackswan/cadence-agent/internal/metrics"
	"github.com/p-blackswan/cadence-agent/internal/state"
	"github.com/p-blackswan/cadence-agent/internal/style"
	"github.com/p-blackswan/cadence-agent/internal/telegram"
	"github.com/p-blackswan/cadence-agent/internal/trigger"
)

// Transport is the inbound/outbound message surface the loop talks to.
// *telegram.Client satisfies it.
type Transport interface {
	Fetch(offset int64, timeout time.Duration) ([]telegram.Event, error)
	Send(chatID int64, text string, replyTo int) error
}

// Config holds the loop tunables.
type Config struct {
	BotUsername    string // normalized: lowercase, "@"-prefixed
	AllowedChats   []int64
	PollTimeout    time.Duration
	TickInterval   time.Duration
	Window         time.Duration
	ReplyOnMention bool
	ReplyGate      cadence.Gate
	AmbientEnabled bool
}

// Engine is the control loop.
type Engine struct {
	cfg        Config
	transport  Transport
	gen        generate.Generator
	trig       *trigger.Trigger
	stateStore *state.Store
	memStore   *memory.Store
	styleReply *style.Cache
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	st        *state.GlobalState
	memoryDoc string
	retry     *backoff.Backoff

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)

	// mirrors for the ops /stats endpoint, updated on the loop goroutine
	// and read from the ops server goroutine
	startedAt        time.Time
	offsetMirror     atomic.Int64
	chatsMirror      atomic.Int64
	updatesProcessed atomic.Int64
	repliesSent      atomic.Int64
	ambientSent      atomic.Int64
	lastTickUnix     atomic.Int64
}

// Option overrides Engine internals for tests.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// New constructs the engine.
func New(
	cfg Config,
	transport Transport,
	gen generate.Generator,
	trig *trigger.Trigger,
	stateStore *state.Store,
	memStore *memory.Store,
	styleReply *style.Cache,
	m *metrics.Metrics,
	logger zerolog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:        cfg,
		transport:  transport,
		gen:        gen,
		trig:       trig,
		stateStore: stateStore,
		memStore:   memStore,
		styleReply: styleReply,
		metrics:    m,
		logger:     logger.With().Str("component", "engine").Logger(),
		retry:      backoff.New(2*time.Second, 60*time.Second),
		now:        time.Now,
		sleep:      sleepCtx,
		startedAt:  time.Now(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run loads persisted state and loops until the context is cancelled. The
// inbound fetch is capped by the time remaining until the next tick deadline
// so the ambient cadence never slips behind a long poll.
func (e *Engine) Run(ctx context.Context) {
	e.st = e.stateStore.Load()
	e.memoryDoc = e.memStore.Load()
	e.publishMirrors()

	e.logger.Info().
		Int64("offset", e.st.Offset).
		Int("chats", len(e.st.Chats)).
		Msg("engine starting")

	nextTick := e.now().Add(e.cfg.TickInterval)

	for ctx.Err() == nil {
		cycle := uuid.NewString()
		mutated := e.runCycle(ctx, cycle, &nextTick)
		if mutated {
			e.save()
		}
		e.publishMirrors()
	}

	// Final snapshot on shutdown.
	e.save()
	e.logger.Info().Msg("engine stopped")
}

func (e *Engine) runCycle(ctx context.Context, cycle string, nextTick *time.Time) bool {
	timeout := pollTimeout(e.cfg.PollTimeout, nextTick.Sub(e.now()))

	events, err := e.transport.Fetch(e.st.Offset, timeout)
	if err != nil {
		wait := e.retry.Next()
		e.metrics.RecordError("engine", "fetch")
		e.logger.Error().
			Str("cycle", cycle).
			Str("error", agenterr.Summarize(err)).
			Dur("backoff", wait).
			Msg("fetch failed")
		e.sleep(ctx, wait)
		return false
	}
	e.retry.Reset()

	mutated := false
	for _, ev := range events {
		if e.st.AdvanceOffset(ev.UpdateID) {
			mutated = true
		}
		e.metrics.UpdatesTotal.Inc()
		e.updatesProcessed.Add(1)
		if e.handleMessage(ctx, cycle, ev.Message) {
			mutated = true
		}
	}

	if !e.now().Before(*nextTick) {
		if e.runTick(ctx, cycle) {
			mutated = true
		}
		*nextTick = e.now().Add(e.cfg.TickInterval)
		e.lastTickUnix.Store(e.now().Unix())
	}

	return mutated
}

// pollTimeout clamps the long-poll duration to [1s, max] and never past the
// time remaining until the tick deadline.
func pollTimeout(max, untilTick time.Duration) time.Duration {
	t := untilTick
	if t > max {
		t = max
	}
	if t < time.Second {
		t = time.Second
	}
	return t
}

// handleMessage processes one inbound message and reports whether chat state
// changed. Every return past the group/allow-list filter is true: activity
// has been recorded by then.
func (e *Engine) handleMessage(ctx context.Context, cycle string, msg *telegram.Message) bool {
	if msg == nil || !msg.IsGroup {
		return false
	}
	if !e.chatAllowed(msg.ChatID) {
		return false
	}

	now := e.now().Unix()
	chat := mask.ChatID(msg.ChatID)
	cs := e.st.GetOrCreateChat(msg.ChatID)
	activity.Record(cs, now, e.cfg.Window)
	count, perMin := activity.Metrics(cs, e.cfg.Window)
	e.logger.Info().
		Str("cycle", cycle).
		Str("chat", chat).
		Int("count", count).
		Float64("per_min", perMin).
		Msg("activity recorded")

	if !e.cfg.ReplyOnMention {
		return true
	}

	mentioned := isMention(msg.Text, e.cfg.BotUsername)
	replied := isReplyToBot(msg, e.cfg.BotUsername)
	if !mentioned && !replied {
		return true
	}
	e.logger.Info().
		Str("cycle", cycle).
		Str("chat", chat).
		Int("msg", msg.MessageID).
		Bool("mention", mentioned).
		Bool("reply_to_bot", replied).
		Msg("reply candidate")

	if !e.cfg.ReplyGate.MayPost(cs.Reply, now) {
		e.logger.Info().
			Str("cycle", cycle).
			Str("chat", chat).
			Str("reason", e.cfg.ReplyGate.BlockReason(cs.Reply, now)).
			Msg("reply blocked")
		return true
	}

	res, err := e.gen.Reply(ctx, generate.ReplyInput{
		Style:       e.styleReply.Get(),
		MentionText: msg.Text,
		ReplyText:   msg.ReplyText,
	})
	if err != nil {
		e.metrics.RecordGeneration("reply", "error")
		e.metrics.RecordError("engine", "generate")
		e.logger.Error().
			Str("cycle", cycle).
			Str("chat", chat).
			Str("error", agenterr.Summarize(err)).
			Msg("reply generation failed")
		return true
	}
	if !res.OK() {
		e.metrics.RecordGeneration("reply", "empty")
		e.logger.Warn().
			Str("cycle", cycle).
			Str("chat", chat).
			Int("msg", msg.MessageID).
			Str("reason", res.Reason).
			Msg("reply generation returned empty output")
		return true
	}
	e.metrics.RecordGeneration("reply", "ok")

	if err := e.transport.Send(msg.ChatID, res.Text, msg.MessageID); err != nil {
		e.metrics.RecordError("engine", "send")
		e.logger.Error().
			Str("cycle", cycle).
			Str("chat", chat).
			Str("error", agenterr.Summarize(err)).
			Msg("reply send failed")
		return true
	}

	e.cfg.ReplyGate.RegisterPost(&cs.Reply, now)
	e.metrics.RecordPost("reply")
	e.repliesSent.Add(1)
	e.logger.Info().
		Str("cycle", cycle).
		Str("chat", chat).
		Msg("reply posted")

	e.noteReply(now, msg.ChatID)
	return true
}

// runTick evaluates the ambient trigger for every candidate chat, sorted for
// deterministic ordering. Returns whether any cadence state changed.
func (e *Engine) runTick(ctx context.Context, cycle string) bool {
	if !e.cfg.AmbientEnabled {
		return false
	}

	ids := e.cfg.AllowedChats
	if len(ids) == 0 {
		ids = e.st.ChatIDs()
	} else {
		ids = append([]int64(nil), ids...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	mutated := false
	posted := 0
	for _, id := range ids {
		cs := e.st.GetOrCreateChat(id)
		out := e.trig.Run(ctx, id, cs)
		if out.Mutated {
			mutated = true
		}
		if out.Posted {
			posted++
			e.ambientSent.Add(1)
			e.upsertAmbientMemory(out.Text)
		}
	}
	e.logger.Debug().
		Str("cycle", cycle).
		Int("chats", len(ids)).
		Int("posted", posted).
		Msg("ambient tick")
	return mutated
}

// noteReply appends a short journal line to the memory document's free-form
// prefix and merges it, preserving any ambient section.
func (e *Engine) noteReply(now int64, chatID int64) {
	date := cadence.Today(now)
	line := "Replied in chat " + mask.ChatID(chatID) + " on " + date
	prefix, _ := memory.Split(e.memoryDoc)
	candidate := line
	if prefix != "" {
		candidate = prefix + "\n" + line
	}

	merged := memory.Merge(e.memoryDoc, candidate)
	e.saveMemory(merged)
}

func (e *Engine) upsertAmbientMemory(text string) {
	e.saveMemory(memory.UpsertAmbient(e.memoryDoc, text))
}

// saveMemory persists the memory document when it actually changed.
func (e *Engine) saveMemory(doc string) {
	if doc == e.memoryDoc {
		return
	}
	e.memoryDoc = doc
	if err := e.memStore.Save(doc); err != nil {
		e.metrics.RecordError("engine", "memory_save")
		e.logger.Error().Err(err).Msg("memory save failed")
	}
}

func (e *Engine) save() {
	if err := e.stateStore.Save(e.st); err != nil {
		e.metrics.RecordSnapshotSave("error")
		e.metrics.RecordError("engine", "state_save")
		e.logger.Error().Err(err).Msg("state save failed")
		return
	}
	e.metrics.RecordSnapshotSave("ok")
}

func (e *Engine) chatAllowed(chatID int64) bool {
	if len(e.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range e.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func (e *Engine) publishMirrors() {
	e.offsetMirror.Store(e.st.Offset)
	e.chatsMirror.Store(int64(len(e.st.Chats)))
	e.metrics.TrackedChats.Set(float64(len(e.st.Chats)))
}

// Stats implements ops.StatsProvider.
func (e *Engine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds":    int64(time.Since(e.startedAt).Seconds()),
		"offset":            e.offsetMirror.Load(),
		"tracked_chats":     e.chatsMirror.Load(),
		"updates_processed": e.updatesProcessed.Load(),
		"replies_sent":      e.repliesSent.Load(),
		"ambient_sent":      e.ambientSent.Load(),
		"last_tick_unix":    e.lastTickUnix.Load(),
	}
}

// isMention reports whether text contains the bot's normalized @username.
func isMention(text, botUsername string) bool {
	if botUsername == "" || text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), botUsername)
}

// isReplyToBot reports whether the message replies to one of the bot's own
// posts, matched by the replied-to author.
func isReplyToBot(msg *telegram.Message, botUsername string) bool {
	if !msg.ReplyFromIsBot || botUsername == "" {
		return false
	}
	return "@"+strings.ToLower(msg.ReplyFromUsername) == botUsername
}
