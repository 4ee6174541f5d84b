// Package trigger implements the two-stage ambient posting decision that runs
// for each known chat on every tick.
//
// Stage A is pure eligibility: recent activity above the floor and an open
// ambient cadence gate. Stage B is a probability draw; an eligible tick that
// loses the draw can still consume cadence budget, which smooths the effective
// post rate without tightening the cooldown itself.
package trigger

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/cadence-agent/internal/activity"
	"github.com/p-blackswan/cadence-agent/internal/agenterr"
	"github.com/p-blackswan/cadence-agent/internal/cadence"
	"github.com/p-blackswan/cadence-agent/internal/generate"
	"github.com/p-blackswan/cadence-agent/internal/mask"
	"github.com/p-blackswan/cadence-agent/internal/metrics"
	"github.com/p-blackswan/cadence-agent/internal/state"
	"github.com/p-blackswan/cadence-agent/internal/style"
)

// Skip reasons reported to metrics.
const (
	SkipLowActivity = "low_activity"
	SkipProbability = "probability"
	SkipGeneration  = "generation"
	SkipSendFailed  = "send_failed"
)

// Config holds the trigger tunables.
type Config struct {
	Window  time.Duration
	MinMsgs int
	Gate    cadence.Gate

	// SendProbability is the static stage-B gate. Values <= 0 fall back to
	// the activity-scaled curve (see Probability).
	SendProbability float64

	// ConsumeBudgetOnSkip registers a post on the ambient channel even when
	// the stage-B draw fails, so eligible-but-silent ticks count against
	// cooldown and daily quota.
	ConsumeBudgetOnSkip bool

	// SampleLines > 0 rebuilds the style template from that many sampled
	// lines before each generation.
	SampleLines int
}

// Sender delivers an ambient post to its chat.
type Sender func(chatID int64, text string) error

// Outcome reports what a tick did to one chat.
type Outcome struct {
	Posted  bool
	Mutated bool   // cadence state changed; the caller should persist
	Text    string // the sent post, for the memory ambient section
}

// Trigger evaluates ambient posting for individual chats.
type Trigger struct {
	cfg     Config
	style   *style.Cache
	gen     generate.Generator
	send    Sender
	metrics *metrics.Metrics
	logger  zerolog.Logger
	rng     *rand.Rand
	now     func() int64
}

// Option overrides Trigger internals, used by tests to pin time and randomness.
type Option func(*Trigger)

func WithRand(rng *rand.Rand) Option {
	return func(t *Trigger) { t.rng = rng }
}

func WithClock(now func() int64) Option {
	return func(t *Trigger) { t.now = now }
}

// New constructs a Trigger.
func New(cfg Config, styleCache *style.Cache, gen generate.Generator, send Sender, m *metrics.Metrics, logger zerolog.Logger, opts ...Option) *Trigger {
	t := &Trigger{
		cfg:     cfg,
		style:   styleCache,
		gen:     gen,
		send:    send,
		metrics: m,
		logger:  logger.With().Str("component", "trigger").Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     func() int64 { return time.Now().Unix() },
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Probability returns the stage-B send probability for the given activity
// rate: the static value when configured, otherwise a curve that grows with
// chat velocity and saturates at 0.6.
func (t *Trigger) Probability(perMin float64) float64 {
	if t.cfg.SendProbability > 0 {
		return t.cfg.SendProbability
	}
	p := 0.03 + perMin/100
	if p > 0.6 {
		p = 0.6
	}
	return p
}

// Run evaluates one chat for one tick. Failures degrade to an Outcome with
// nothing posted; the next tick retries from unchanged state.
func (t *Trigger) Run(ctx context.Context, chatID int64, cs *state.ChatState) Outcome {
	now := t.now()
	activity.Prune(cs, now, t.cfg.Window)
	count, perMin := activity.Metrics(cs, t.cfg.Window)

	if count < t.cfg.MinMsgs {
		t.metrics.RecordTriggerSkip(SkipLowActivity)
		return Outcome{}
	}

	if !t.cfg.Gate.MayPost(cs.Ambient, now) {
		reason := t.cfg.Gate.BlockReason(cs.Ambient, now)
		t.metrics.RecordTriggerSkip(blockReasonLabel(reason))
		t.logger.Debug().
			Str("chat", mask.ChatID(chatID)).
			Str("reason", reason).
			Msg("ambient gate closed")
		return Outcome{}
	}

	prob := t.Probability(perMin)
	if t.rng.Float64() >= prob {
		t.metrics.RecordTriggerSkip(SkipProbability)
		out := Outcome{}
		if t.cfg.ConsumeBudgetOnSkip {
			t.cfg.Gate.RegisterPost(&cs.Ambient, now)
			out.Mutated = true
		}
		t.logger.Debug().
			Str("chat", mask.ChatID(chatID)).
			Float64("prob", prob).
			Bool("budget_consumed", t.cfg.ConsumeBudgetOnSkip).
			Msg("ambient draw failed")
		return out
	}

	styleText := t.style.Get()
	if t.cfg.SampleLines > 0 {
		styleText = style.SampleLines(styleText, t.cfg.SampleLines, t.rng)
	}

	res, err := t.gen.Ambient(ctx, generate.AmbientInput{
		Style:      styleText,
		Count:      count,
		MsgsPerMin: perMin,
	})
	if err != nil {
		t.metrics.RecordGeneration("ambient", "error")
		t.metrics.RecordError("trigger", "generate")
		t.logger.Error().
			Str("chat", mask.ChatID(chatID)).
			Str("error", agenterr.Summarize(err)).
			Msg("ambient generation failed")
		return Outcome{}
	}
	if !res.OK() {
		t.metrics.RecordGeneration("ambient", "empty")
		t.metrics.RecordTriggerSkip(SkipGeneration)
		t.logger.Warn().
			Str("chat", mask.ChatID(chatID)).
			Str("reason", res.Reason).
			Msg("ambient generation returned empty output")
		return Outcome{}
	}
	t.metrics.RecordGeneration("ambient", "ok")

	if err := t.send(chatID, res.Text); err != nil {
		t.metrics.RecordTriggerSkip(SkipSendFailed)
		t.metrics.RecordError("trigger", "send")
		t.logger.Error().
			Str("chat", mask.ChatID(chatID)).
			Str("error", agenterr.Summarize(err)).
			Msg("ambient send failed")
		return Outcome{}
	}

	t.cfg.Gate.RegisterPost(&cs.Ambient, now)
	t.metrics.RecordPost("ambient")
	t.logger.Info().
		Str("chat", mask.ChatID(chatID)).
		Int("count", count).
		Float64("per_min", perMin).
		Float64("prob", prob).
		Msg("ambient post sent")
	return Outcome{Posted: true, Mutated: true, Text: res.Text}
}

// blockReasonLabel keeps metric label cardinality bounded by stripping the
// cooldown remainder from gate block reasons.
func blockReasonLabel(reason string) string {
	if i := strings.IndexByte(reason, '('); i > 0 {
		return reason[:i]
	}
	return reason
}
