// Package telegram is the transport boundary. It wraps the Bot API behind a
// small interface, normalizes raw updates into one canonical record so the
// core never branches on external payload shapes, and enforces the outbound
// chunking rules.
package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/cadence-agent/internal/agenterr"
	"github.com/p-blackswan/cadence-agent/internal/config"
)

const (
	// MaxMessageChars is Telegram's per-message limit.
	MaxMessageChars = 4096

	// ChunkChars is the per-chunk ceiling when splitting long messages.
	ChunkChars = 3900
)

// BotAPI is the subset of the Bot API client the transport needs.
// tgbotapi.BotAPI satisfies it; tests substitute a fake.
type BotAPI interface {
	GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

// Event is one inbound update after normalization. Message is nil for
// updates that carry no message; their UpdateID still advances the offset.
type Event struct {
	UpdateID int64
	Message  *Message
}

// Message is the canonical inbound record. Everything the core reads about
// an update is resolved here, at the boundary.
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
	IsGroup   bool

	FromUsername string

	ReplyText         string
	ReplyFromIsBot    bool
	ReplyFromUsername string
}

// Client drives the Bot API synchronously: the engine calls Fetch with a
// timeout capped by the time remaining until the next ambient tick.
type Client struct {
	bot    BotAPI
	logger zerolog.Logger
}

// New authorizes against the Bot API with the given token.
func New(token string, logger zerolog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, agenterr.NewAPIError("telegram", 0, "authorize bot")
	}
	return NewWithBot(bot, logger), nil
}

// NewWithBot wraps an existing BotAPI (for tests).
func NewWithBot(bot BotAPI, logger zerolog.Logger) *Client {
	return &Client{
		bot:    bot,
		logger: logger.With().Str("component", "telegram").Logger(),
	}
}

// Fetch long-polls for updates at or above offset, waiting at most timeout.
func (c *Client) Fetch(offset int64, timeout time.Duration) ([]Event, error) {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	updates, err := c.bot.GetUpdates(tgbotapi.UpdateConfig{
		Offset:         int(offset),
		Timeout:        secs,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, &agenterr.APIError{Service: "telegram", Message: "getUpdates", Err: err}
	}

	events := make([]Event, 0, len(updates))
	for _, upd := range updates {
		events = append(events, Normalize(upd))
	}
	return events, nil
}

// Normalize converts a raw update into the canonical Event record.
func Normalize(upd tgbotapi.Update) Event {
	ev := Event{UpdateID: int64(upd.UpdateID)}
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return ev
	}

	m := &Message{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      messageText(msg),
		IsGroup:   msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
	}
	if msg.From != nil {
		m.FromUsername = msg.From.UserName
	}
	if reply := msg.ReplyToMessage; reply != nil {
		m.ReplyText = messageText(reply)
		if reply.From != nil {
			m.ReplyFromIsBot = reply.From.IsBot
			m.ReplyFromUsername = reply.From.UserName
		}
	}
	ev.Message = m
	return ev
}

// messageText prefers the text field and falls back to a media caption.
func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// BotUsername resolves the bot's own username via getMe, normalized for
// mention matching.
func (c *Client) BotUsername() (string, error) {
	me, err := c.bot.GetMe()
	if err != nil {
		return "", &agenterr.APIError{Service: "telegram", Message: "getMe", Err: err}
	}
	return config.NormalizeBotUsername(me.UserName), nil
}

// Send posts text to a chat, splitting long messages into ordered chunks.
// Only the first chunk carries the reply target. Blank text is silently
// dropped; the sink never emits empty messages.
func (c *Client) Send(chatID int64, text string, replyTo int) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	for i, chunk := range SplitChunks(text) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.DisableWebPagePreview = true
		if i == 0 && replyTo != 0 {
			msg.ReplyToMessageID = replyTo
			msg.AllowSendingWithoutReply = true
		}
		if _, err := c.bot.Send(msg); err != nil {
			return &agenterr.APIError{Service: "telegram", Message: "sendMessage", Err: err}
		}
	}
	return nil
}

// SplitChunks splits text into ordered chunks of at most ChunkChars runes.
// Text within the Telegram limit is passed through whole; longer text is
// split preferring the last newline inside each chunk.
func SplitChunks(text string) []string {
	runes := []rune(text)
	if len(runes) <= MaxMessageChars {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= ChunkChars {
			chunks = append(chunks, string(runes))
			break
		}
		cut := ChunkChars
		if idx := lastNewline(runes[:ChunkChars]); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		// Drop the newline we split on so chunks don't start blank.
		if len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return chunks
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
