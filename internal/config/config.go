// Package config loads agent configuration from environment variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Ops HTTP surface (health + stats via fiber, metrics via promhttp).
	// Empty addr disables the corresponding server.
	OpsListenAddr     string `envconfig:"OPS_LISTEN_ADDR" default:":8090"`
	MetricsListenAddr string `envconfig:"METRICS_LISTEN_ADDR" default:":8080"`

	// Telegram
	TelegramBotToken string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	BotUsername      string        `envconfig:"BOT_USERNAME"`      // resolved via getMe when empty
	AllowedChatIDs   string        `envconfig:"ALLOWED_CHAT_IDS"`  // comma-separated; empty = track all chats
	PollTimeout      time.Duration `envconfig:"POLL_TIMEOUT" default:"25s"`

	// OpenAI content generation
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-5-mini"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`

	// Persistence
	StatePath  string `envconfig:"STATE_PATH" default:"data/state.json"`
	MemoryPath string `envconfig:"MEMORY_PATH" default:"data/memory.md"`

	// Style templates
	StyleDir           string        `envconfig:"STYLE_DIR" default:"config"`
	StylePostFilename  string        `envconfig:"STYLE_POST_FILENAME" default:"style_post.md"`
	StyleReplyFilename string        `envconfig:"STYLE_REPLY_FILENAME" default:"style_reply.md"`
	StyleReload        time.Duration `envconfig:"STYLE_RELOAD" default:"60s"`
	StyleSampleLines   int           `envconfig:"STYLE_SAMPLE_LINES" default:"0"` // 0 = use the template as-is

	// Activity window
	ActivityWindow  time.Duration `envconfig:"ACTIVITY_WINDOW" default:"300s"`
	ActivityMinMsgs int           `envconfig:"ACTIVITY_MIN_MSGS_PER_WINDOW" default:"3"`

	// Reply channel cadence
	ReplyOnMention bool          `envconfig:"REPLY_ON_MENTION" default:"true"`
	ReplyCooldown  time.Duration `envconfig:"REPLY_COOLDOWN" default:"0s"`
	ReplyDailyCap  int           `envconfig:"REPLY_MAX_POSTS_PER_DAY" default:"0"` // 0 = unlimited

	// Ambient channel cadence
	AmbientEnabled  bool          `envconfig:"AMBIENT_ENABLED" default:"true"`
	AmbientCooldown time.Duration `envconfig:"AMBIENT_MIN_SECONDS_BETWEEN_POSTS" default:"600s"`
	AmbientDailyCap int           `envconfig:"AMBIENT_MAX_POSTS_PER_DAY" default:"0"` // 0 = unlimited
	TickInterval    time.Duration `envconfig:"AMBIENT_TICK_INTERVAL" default:"10s"`

	// SendProbability gates stage B of the ambient trigger. Values <= 0
	// select the legacy activity-scaled curve min(0.6, 0.03 + perMin/100).
	SendProbability float64 `envconfig:"AMBIENT_SEND_PROBABILITY" default:"0.30"`

	// ConsumeBudgetOnSkip controls whether an eligible tick that loses the
	// probability draw still consumes ambient cadence budget.
	ConsumeBudgetOnSkip bool `envconfig:"AMBIENT_CONSUME_BUDGET_ON_SKIP" default:"true"`
}

// Load reads configuration from environment variables and validates the
// required keys. Missing required configuration is the only fatal condition
// in the agent; everything past startup degrades instead of exiting.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("missing required option: TELEGRAM_BOT_TOKEN")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("missing required option: OPENAI_API_KEY")
	}
	cfg.clampRanges()
	return &cfg, nil
}

// clampRanges keeps tunables inside safe operational bounds.
func (c *Config) clampRanges() {
	if c.ActivityWindow < 10*time.Second {
		c.ActivityWindow = 10 * time.Second
	}
	if c.ActivityMinMsgs < 1 {
		c.ActivityMinMsgs = 1
	}
	if c.StyleReload < 5*time.Second {
		c.StyleReload = 5 * time.Second
	}
	if c.TickInterval < time.Second {
		c.TickInterval = time.Second
	}
	if c.AmbientCooldown < 0 {
		c.AmbientCooldown = 0
	}
	if c.ReplyCooldown < 0 {
		c.ReplyCooldown = 0
	}
	if c.AmbientDailyCap < 0 {
		c.AmbientDailyCap = 0
	}
	if c.ReplyDailyCap < 0 {
		c.ReplyDailyCap = 0
	}
	if c.SendProbability > 1 {
		c.SendProbability = 1
	}
}

// AllowedChatList returns the parsed allow-list of chat IDs.
// Returns nil if not configured (all group chats are tracked).
func (c *Config) AllowedChatList() []int64 {
	if c.AllowedChatIDs == "" {
		return nil
	}
	parts := strings.Split(c.AllowedChatIDs, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue // non-integer tokens are skipped, not fatal
		}
		ids = append(ids, id)
	}
	return ids
}

// NormalizedBotUsername returns the configured bot username lowercased with a
// leading "@", or "" when unset.
func (c *Config) NormalizedBotUsername() string {
	return NormalizeBotUsername(c.BotUsername)
}

// NormalizeBotUsername canonicalizes a Telegram bot username for mention
// matching: trimmed, lowercased, "@"-prefixed. Empty input stays empty.
func NormalizeBotUsername(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "@") {
		v = "@" + v
	}
	return strings.ToLower(v)
}
