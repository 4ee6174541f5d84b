package engine

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/cadence-agent/internal/agenterr"
	"github.com/p-blackswan/cadence-agent/internal/cadence"
	"github.com/p-blackswan/cadence-agent/internal/generate"
	"github.com/p-blackswan/cadence-agent/internal/memory"
	"github.com/p-blackswan/cadence-agent/internal/metrics"
	"github.com/p-blackswan/cadence-agent/internal/state"
	"github.com/p-blackswan/cadence-agent/internal/style"
	"github.com/p-blackswan/cadence-agent/internal/telegram"
	"github.com/p-blackswan/cadence-agent/internal/trigger"
)

var testTime = time.Unix(1_700_000_000, 0).UTC()

type sentMsg struct {
	chatID  int64
	text    string
	replyTo int
}

type fakeTransport struct {
	batches  [][]telegram.Event
	fetchErr error
	sent     []sentMsg
	fetches  int
}

func (f *fakeTransport) Fetch(offset int64, timeout time.Duration) ([]telegram.Event, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeTransport) Send(chatID int64, text string, replyTo int) error {
	f.sent = append(f.sent, sentMsg{chatID: chatID, text: text, replyTo: replyTo})
	return nil
}

type fakeGen struct {
	reply   generate.Result
	ambient generate.Result
	err     error
}

func (f *fakeGen) Reply(context.Context, generate.ReplyInput) (generate.Result, error) {
	return f.reply, f.err
}

func (f *fakeGen) Ambient(context.Context, generate.AmbientInput) (generate.Result, error) {
	return f.ambient, f.err
}

type testEnv struct {
	engine    *Engine
	transport *fakeTransport
	memPath   string
	slept     []time.Duration
}

func newTestEnv(t *testing.T, cfg Config, tr *fakeTransport, gen *fakeGen) *testEnv {
	t.Helper()
	dir := t.TempDir()

	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 25 * time.Second
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Second
	}
	if cfg.Window == 0 {
		cfg.Window = 300 * time.Second
	}

	env := &testEnv{transport: tr, memPath: filepath.Join(dir, "memory.md")}

	m := metrics.New()
	stateStore := state.NewStore(filepath.Join(dir, "state.json"), zerolog.Nop())
	memStore := memory.NewStore(env.memPath, zerolog.Nop())
	styleCache := style.NewCache(dir, "style.md", time.Minute, zerolog.Nop())

	trig := trigger.New(trigger.Config{
		Window:          cfg.Window,
		MinMsgs:         3,
		SendProbability: 1, // every draw wins
	}, styleCache, gen, func(chatID int64, text string) error {
		return tr.Send(chatID, text, 0)
	}, m, zerolog.Nop(),
		trigger.WithRand(rand.New(rand.NewSource(1))),
		trigger.WithClock(func() int64 { return testTime.Unix() }),
	)

	env.engine = New(cfg, tr, gen, trig, stateStore, memStore, styleCache, m, zerolog.Nop(),
		WithClock(func() time.Time { return testTime }),
		WithSleep(func(_ context.Context, d time.Duration) { env.slept = append(env.slept, d) }),
	)
	env.engine.st = stateStore.Load()
	env.engine.memoryDoc = memStore.Load()
	return env
}

func groupMsg(chatID int64, msgID int, text string) *telegram.Message {
	return &telegram.Message{
		ChatID:    chatID,
		MessageID: msgID,
		Text:      text,
		IsGroup:   true,
	}
}

func TestHandleMessage_MentionGetsReply(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeGen{reply: generate.Result{Text: "hi alice"}}
	env := newTestEnv(t, Config{BotUsername: "@cadencebot", ReplyOnMention: true}, tr, gen)

	mutated := env.engine.handleMessage(context.Background(), "c1", groupMsg(-100, 42, "hey @CadenceBot what's up"))

	assert.True(t, mutated)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMsg{chatID: -100, text: "hi alice", replyTo: 42}, tr.sent[0])

	cs := env.engine.st.GetOrCreateChat(-100)
	assert.Len(t, cs.ActivityTimestamps, 1)
	assert.Equal(t, testTime.Unix(), cs.Reply.LastPostTS)
	assert.Equal(t, 1, cs.Reply.DailyCount)
	assert.Zero(t, cs.Ambient.LastPostTS, "reply never touches the ambient channel")
}

func TestHandleMessage_ReplyToBotGetsReply(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeGen{reply: generate.Result{Text: "again"}}
	env := newTestEnv(t, Config{BotUsername: "@cadencebot", ReplyOnMention: true}, tr, gen)

	msg := groupMsg(-100, 7, "no mention here")
	msg.ReplyText = "my earlier post"
	msg.ReplyFromIsBot = true
	msg.ReplyFromUsername = "CadenceBot"

	env.engine.handleMessage(context.Background(), "c1", msg)
	require.Len(t, tr.sent, 1)
}

func TestHandleMessage_NoMentionRecordsActivityOnly(t *testing.T) {
	tr := &fakeTransport{}
	env := newTestEnv(t, Config{BotUsername: "@cadencebot", ReplyOnMention: true}, tr, &fakeGen{})

	mutated := env.engine.handleMessage(context.Background(), "c1", groupMsg(-100, 1, "just chatting"))

	assert.True(t, mutated, "activity was recorded")
	assert.Empty(t, tr.sent)
	assert.Len(t, env.engine.st.GetOrCreateChat(-100).ActivityTimestamps, 1)
}

func TestHandleMessage_FiltersNonGroupAndDisallowed(t *testing.T) {
	tr := &fakeTransport{}
	env := newTestEnv(t, Config{BotUsername: "@cadencebot", ReplyOnMention: true, AllowedChats: []int64{-100}}, tr, &fakeGen{})

	private := groupMsg(5, 1, "@cadencebot hi")
	private.IsGroup = false
	assert.False(t, env.engine.handleMessage(context.Background(), "c1", private))

	assert.False(t, env.engine.handleMessage(context.Background(), "c1", groupMsg(-999, 2, "@cadencebot hi")))
	assert.Empty(t, tr.sent)
	assert.Empty(t, env.engine.st.Chats, "filtered chats never enter state")
}

func TestHandleMessage_ReplyCooldownBlocks(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeGen{reply: generate.Result{Text: "blocked anyway"}}
	env := newTestEnv(t, Config{
		BotUsername:    "@cadencebot",
		ReplyOnMention: true,
		ReplyGate:      cadence.Gate{Cooldown: 120 * time.Second},
	}, tr, gen)

	cs := env.engine.st.GetOrCreateChat(-100)
	cs.Reply.LastPostTS = testTime.Unix() - 30

	env.engine.handleMessage(context.Background(), "c1", groupMsg(-100, 1, "@cadencebot hi"))
	assert.Empty(t, tr.sent)
}

func TestHandleMessage_EmptyGenerationConsumesNoBudget(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeGen{reply: generate.Result{Reason: "status=incomplete output_items=0"}}
	env := newTestEnv(t, Config{BotUsername: "@cadencebot", ReplyOnMention: true}, tr, gen)

	env.engine.handleMessage(context.Background(), "c1", groupMsg(-100, 1, "@cadencebot hi"))

	assert.Empty(t, tr.sent)
	assert.Zero(t, env.engine.st.GetOrCreateChat(-100).Reply.LastPostTS)
}

func TestRunCycle_AdvancesOffsetPastEveryUpdate(t *testing.T) {
	tr := &fakeTransport{batches: [][]telegram.Event{{
		{UpdateID: 5, Message: groupMsg(-100, 1, "a")},
		{UpdateID: 7},
		{UpdateID: 7, Message: groupMsg(-100, 2, "b")},
		{UpdateID: 10},
	}}}
	env := newTestEnv(t, Config{BotUsername: "@cadencebot"}, tr, &fakeGen{})

	nextTick := testTime.Add(10 * time.Second)
	mutated := env.engine.runCycle(context.Background(), "c1", &nextTick)

	assert.True(t, mutated)
	assert.Equal(t, int64(11), env.engine.st.Offset, "offset advances past ignored updates too")
}

func TestRunCycle_FetchErrorBacksOff(t *testing.T) {
	tr := &fakeTransport{fetchErr: agenterr.NewAPIError("telegram", 502, "bad gateway")}
	env := newTestEnv(t, Config{}, tr, &fakeGen{})

	nextTick := testTime.Add(10 * time.Second)
	assert.False(t, env.engine.runCycle(context.Background(), "c1", &nextTick))
	assert.False(t, env.engine.runCycle(context.Background(), "c2", &nextTick))

	require.Len(t, env.slept, 2)
	assert.Equal(t, 2*time.Second, env.slept[0])
	assert.Equal(t, 4*time.Second, env.slept[1], "backoff doubles while the transport stays down")
}

func TestRunCycle_TickPostsAmbientAndUpdatesMemory(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeGen{ambient: generate.Result{Text: "a calm observation"}}
	env := newTestEnv(t, Config{AmbientEnabled: true}, tr, gen)

	// Three recent messages make the chat eligible.
	cs := env.engine.st.GetOrCreateChat(-100)
	now := testTime.Unix()
	cs.ActivityTimestamps = []int64{now - 100, now - 50, now - 10}

	nextTick := testTime.Add(-time.Second) // deadline already passed
	mutated := env.engine.runCycle(context.Background(), "c1", &nextTick)

	assert.True(t, mutated)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMsg{chatID: -100, text: "a calm observation"}, tr.sent[0])
	assert.Equal(t, testTime.Add(10*time.Second), nextTick, "deadline reset after the tick")

	doc, err := os.ReadFile(env.memPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "a calm observation")
	assert.Contains(t, string(doc), memory.AmbientHeader)
}

func TestRunCycle_TickSkippedBeforeDeadline(t *testing.T) {
	tr := &fakeTransport{}
	gen := &fakeGen{ambient: generate.Result{Text: "should not appear"}}
	env := newTestEnv(t, Config{AmbientEnabled: true}, tr, gen)

	cs := env.engine.st.GetOrCreateChat(-100)
	now := testTime.Unix()
	cs.ActivityTimestamps = []int64{now - 100, now - 50, now - 10}

	nextTick := testTime.Add(5 * time.Second)
	env.engine.runCycle(context.Background(), "c1", &nextTick)
	assert.Empty(t, tr.sent)
}

func TestPollTimeout(t *testing.T) {
	max := 25 * time.Second
	assert.Equal(t, 10*time.Second, pollTimeout(max, 10*time.Second))
	assert.Equal(t, max, pollTimeout(max, time.Hour), "capped at the long-poll maximum")
	assert.Equal(t, time.Second, pollTimeout(max, 100*time.Millisecond), "never below one second")
	assert.Equal(t, time.Second, pollTimeout(max, -5*time.Second))
}

func TestStats(t *testing.T) {
	tr := &fakeTransport{batches: [][]telegram.Event{{
		{UpdateID: 3, Message: groupMsg(-100, 1, "hi")},
	}}}
	env := newTestEnv(t, Config{BotUsername: "@cadencebot"}, tr, &fakeGen{})

	nextTick := testTime.Add(10 * time.Second)
	env.engine.runCycle(context.Background(), "c1", &nextTick)
	env.engine.publishMirrors()

	stats := env.engine.Stats()
	assert.Equal(t, int64(4), stats["offset"])
	assert.Equal(t, int64(1), stats["tracked_chats"])
	assert.Equal(t, int64(1), stats["updates_processed"])
}

func TestIsMention(t *testing.T) {
	assert.True(t, isMention("hello @CadenceBot!", "@cadencebot"))
	assert.True(t, isMention("@cadencebot", "@cadencebot"))
	assert.False(t, isMention("cadencebot without at", "@cadencebot"))
	assert.False(t, isMention("hello", "@cadencebot"))
	assert.False(t, isMention("hello @cadencebot", ""))
}

func TestIsReplyToBot(t *testing.T) {
	msg := &telegram.Message{ReplyFromIsBot: true, ReplyFromUsername: "CadenceBot"}
	assert.True(t, isReplyToBot(msg, "@cadencebot"))
	assert.False(t, isReplyToBot(msg, "@otherbot"))

	human := &telegram.Message{ReplyFromIsBot: false, ReplyFromUsername: "cadencebot"}
	assert.False(t, isReplyToBot(human, "@cadencebot"))
}
