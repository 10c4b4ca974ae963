package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// DefaultPollTimeout is the Telegram long-polling timeout.
const DefaultPollTimeout = 60 * time.Second

// TelegramConfig holds Telegram transport settings
type TelegramConfig struct {
	Token       string
	Endpoint    string // Bot API endpoint format, defaults to tgbotapi.APIEndpoint
	PollTimeout time.Duration
}

// TelegramTransport receives messages by long polling the Telegram Bot API.
type TelegramTransport struct {
	api         *tgbotapi.BotAPI
	pollTimeout time.Duration
	logger      zerolog.Logger
	stopOnce    sync.Once
}

// NewTelegramTransport connects to the Bot API and verifies the token.
func NewTelegramTransport(cfg TelegramConfig, logger zerolog.Logger) (*TelegramTransport, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	logger = logger.With().Str("component", "telegram").Logger()
	_ = tgbotapi.SetLogger(botLogger{logger: logger})

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}

	logger.Info().Str("bot", api.Self.UserName).Msg("Connected to Telegram")

	return &TelegramTransport{
		api:         api,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}, nil
}

// Receive starts long polling for updates.
func (t *TelegramTransport) Receive(ctx context.Context) (<-chan Message, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(t.pollTimeout / time.Second)
	updates := t.api.GetUpdatesChan(u)

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				t.stop()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || update.Message.Chat == nil {
					continue
				}

				msg := Message{
					ChatID: update.Message.Chat.ID,
					Text:   update.Message.Text,
				}
				if update.Message.From != nil {
					msg.SenderID = update.Message.From.ID
				}

				select {
				case out <- msg:
				case <-ctx.Done():
					t.stop()
					return
				}
			}
		}
	}()

	return out, nil
}

// Send sends a plain-text message.
func (t *TelegramTransport) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Close stops polling.
func (t *TelegramTransport) Close() error {
	t.stop()
	return nil
}

func (t *TelegramTransport) stop() {
	t.stopOnce.Do(t.api.StopReceivingUpdates)
}

// botLogger routes library log output through zerolog.
type botLogger struct {
	logger zerolog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprint(v...))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}
