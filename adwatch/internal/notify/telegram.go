package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramConfig configures the Telegram Bot API notifier.
type TelegramConfig struct {
	// Token is the bot API token from @BotFather. Prefer TELEGRAM_TOKEN in the
	// environment over the config file.
	Token string `yaml:"token"`
	// APIBase is the Bot API root. Default: https://api.telegram.org.
	APIBase string `yaml:"api_base"`
	// Timeout per request. Default: 15s.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *TelegramConfig) defaults() {
	if c.APIBase == "" {
		c.APIBase = "https://api.telegram.org"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

// Telegram sends messages through the Bot API: sendPhoto when the message
// carries a photo, sendMessage otherwise.
type Telegram struct {
	bot   *bot.Bot
	token string
}

// NewTelegram creates a Telegram notifier. No request is made until the
// first Send; a bad token surfaces there.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	cfg.defaults()
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	b, err := bot.New(cfg.Token,
		bot.WithSkipGetMe(),
		bot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
		bot.WithHTTPClient(cfg.Timeout, &http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, token: cfg.Token}, nil
}

// Send delivers msg to the chat named by msg.Recipient, a numeric chat id or
// an @channel name. Failures are returned as *SendError; a blocked or
// deleted chat wraps ErrRecipientUnreachable and a rejected message wraps
// ErrBadRequest.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	method := "sendMessage"
	var err error
	if msg.PhotoURL != "" {
		method = "sendPhoto"
		_, err = t.bot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:  msg.Recipient,
			Photo:   &models.InputFileString{Data: absolutePhoto(msg.PhotoURL)},
			Caption: msg.Text,
		})
	} else {
		_, err = t.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: msg.Recipient,
			Text:   msg.Text,
		})
	}
	if err != nil {
		return &SendError{Platform: "telegram", Recipient: msg.Recipient, Cause: t.classify(method, err)}
	}
	return nil
}

func (t *Telegram) classify(method string, err error) error {
	var uerr *url.Error
	switch {
	case errors.Is(err, bot.ErrorForbidden):
		return fmt.Errorf("%s: %w: %w", method, ErrRecipientUnreachable, err)
	case errors.Is(err, bot.ErrorBadRequest):
		return fmt.Errorf("%s: %w: %w", method, ErrBadRequest, err)
	case errors.As(err, &uerr):
		// The request URL embeds the token.
		return fmt.Errorf("%s: %w", method, uerr.Err)
	case strings.Contains(err.Error(), t.token):
		return fmt.Errorf("%s: %s", method, strings.ReplaceAll(err.Error(), t.token, "<token>"))
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}

// absolutePhoto adds a scheme to protocol-relative photo URLs stripped of
// their leading "//".
func absolutePhoto(u string) string {
	if strings.Contains(u, "://") {
		return u
	}
	return "https://" + strings.TrimPrefix(u, "//")
}
