package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/ktime/internal/metrics"
	"github.com/goodtune/ktime/internal/quota"
	"github.com/goodtune/ktime/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultNotifyBuffer is the number of queued notifications.
	DefaultNotifyBuffer = 32

	// historyDays is the number of days listed by /history.
	historyDays = 7

	sendTimeout = 10 * time.Second
)

// Controller is the part of the engine the bot drives.
type Controller interface {
	TodayStats(ctx context.Context) quota.DayStats
	RemainingSeconds(ctx context.Context) int64
	PauseAvailability(ctx context.Context) quota.Availability
	RequestPause(ctx context.Context) (quota.Result, error)
	RequestResume(ctx context.Context) (quota.Result, error)
	GrantExtension(ctx context.Context, minutes int, source string) (quota.Result, error)
	History(ctx context.Context, date string) (quota.DayStats, error)
	HistoryDates(ctx context.Context) ([]string, error)
}

// Config holds bot configuration
type Config struct {
	// AdminUserID is the only sender whose commands run. Notifications
	// go to the private chat with that user, which shares its id.
	AdminUserID      int64
	NotifyBuffer     int
	MaxExtendMinutes int
}

// Bot answers commands from the admin chat and forwards engine events to it.
// Messages from anyone else are dropped without a reply.
type Bot struct {
	transport Transport
	engine    Controller
	adminID   int64
	maxExtend int
	notify    chan string
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// NewBot creates a bot.
func NewBot(transport Transport, engine Controller, cfg Config, logger zerolog.Logger) *Bot {
	if cfg.NotifyBuffer <= 0 {
		cfg.NotifyBuffer = DefaultNotifyBuffer
	}
	if cfg.MaxExtendMinutes <= 0 {
		cfg.MaxExtendMinutes = quota.DefaultMaxExtendMinutes
	}

	return &Bot{
		transport: transport,
		engine:    engine,
		adminID:   cfg.AdminUserID,
		maxExtend: cfg.MaxExtendMinutes,
		notify:    make(chan string, cfg.NotifyBuffer),
		logger:    logger.With().Str("component", "remote").Logger(),
	}
}

// Run handles inbound messages and delivers queued notifications until ctx
// is done.
func (b *Bot) Run(ctx context.Context) error {
	messages, err := b.transport.Receive(ctx)
	if err != nil {
		return fmt.Errorf("failed to start receiving: %w", err)
	}

	b.wg.Add(1)
	go b.deliver(ctx)
	defer b.wg.Wait()

	b.logger.Info().Int64("admin_user_id", b.adminID).Msg("Remote channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(ctx, msg)
		}
	}
}

// Notify queues an engine event for the admin chat. It never blocks; when
// the queue is full the event is dropped.
func (b *Bot) Notify(ev quota.Event) {
	switch ev.Kind {
	case quota.EventWarning, quota.EventBlocked, quota.EventRollover:
		b.enqueue(formatEvent(ev))
	}
}

// Announce queues a free-form message for the admin chat.
func (b *Bot) Announce(text string) {
	b.enqueue(text)
}

// SendNow delivers text to the admin chat immediately, bypassing the queue.
func (b *Bot) SendNow(ctx context.Context, text string) error {
	return b.transport.Send(ctx, b.adminID, text)
}

func (b *Bot) enqueue(text string) {
	select {
	case b.notify <- text:
	default:
		metrics.NotificationsDropped.Inc()
		b.logger.Warn().Str("text", text).Msg("Notification queue full, dropping message")
	}
}

func (b *Bot) deliver(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-b.notify:
			b.send(ctx, b.adminID, text)
		}
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := b.transport.Send(sendCtx, chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) handle(ctx context.Context, msg Message) {
	command, args := parseCommand(msg.Text)
	authorized := msg.SenderID == b.adminID

	metrics.RemoteMessagesTotal.WithLabelValues(commandLabel(command), strconv.FormatBool(authorized)).Inc()

	if !authorized {
		b.logger.Info().
			Int64("sender_id", msg.SenderID).
			Int64("chat_id", msg.ChatID).
			Msg("Ignoring message from unauthorized sender")
		return
	}

	b.logger.Debug().Str("command", command).Strs("args", args).Msg("Remote command")
	b.send(ctx, msg.ChatID, b.dispatch(ctx, command, args))
}

func (b *Bot) dispatch(ctx context.Context, command string, args []string) string {
	switch command {
	case "/start", "/help":
		return helpText
	case "/status":
		return formatStatus(b.engine.TodayStats(ctx), b.engine.PauseAvailability(ctx))
	case "/time":
		return fmt.Sprintf("Remaining today: %s", quota.FormatSeconds(b.engine.RemainingSeconds(ctx)))
	case "/extend":
		return b.extend(ctx, args)
	case "/pause":
		return b.pause(ctx)
	case "/resume":
		return b.resume(ctx)
	case "/history":
		return b.history(ctx, args)
	}
	return "Unknown command. Send /help for the list of commands."
}

func (b *Bot) extend(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /extend <minutes>"
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: /extend <minutes>"
	}

	res, err := b.engine.GrantExtension(ctx, minutes, quota.SourceRemote)
	if err != nil {
		return failureText(err)
	}
	switch res.Outcome {
	case quota.OutcomeApplied:
		return fmt.Sprintf("Extended by %d minutes. Remaining: %s", minutes, quota.FormatSeconds(res.State.RemainingSeconds))
	case quota.OutcomeInvalidAmount:
		return fmt.Sprintf("Minutes must be between 1 and %d.", b.maxExtend)
	}
	return fmt.Sprintf("Not extended: %s", res.Outcome)
}

func (b *Bot) pause(ctx context.Context) string {
	res, err := b.engine.RequestPause(ctx)
	if err != nil {
		return failureText(err)
	}
	if res.Applied() {
		return fmt.Sprintf("Paused. %s of pause budget left today.", quota.FormatSeconds(res.Availability.Seconds))
	}
	return fmt.Sprintf("Cannot pause: %s", DescribeAvailability(res.Availability))
}

func (b *Bot) resume(ctx context.Context) string {
	res, err := b.engine.RequestResume(ctx)
	if err != nil {
		return failureText(err)
	}
	if res.Outcome == quota.OutcomeNotPaused {
		return "Not paused."
	}
	return fmt.Sprintf("Resumed. Remaining: %s", quota.FormatSeconds(res.State.RemainingSeconds))
}

func (b *Bot) history(ctx context.Context, args []string) string {
	if len(args) > 0 {
		stats, err := b.engine.History(ctx, args[0])
		switch {
		case errors.Is(err, quota.ErrInvalidDate):
			return "Usage: /history [YYYY-MM-DD]"
		case errors.Is(err, storage.ErrNotFound):
			return fmt.Sprintf("No history for %s.", args[0])
		case err != nil:
			return failureText(err)
		}
		return formatDay(stats)
	}

	dates, err := b.engine.HistoryDates(ctx)
	if err != nil {
		return failureText(err)
	}
	if len(dates) == 0 {
		return "No history yet."
	}
	if len(dates) > historyDays {
		dates = dates[len(dates)-historyDays:]
	}

	lines := make([]string, 0, len(dates))
	for i := len(dates) - 1; i >= 0; i-- {
		stats, err := b.engine.History(ctx, dates[i])
		if err != nil {
			b.logger.Warn().Err(err).Str("date", dates[i]).Msg("Failed to read history")
			continue
		}
		lines = append(lines, formatDaySummary(stats))
	}
	return strings.Join(lines, "\n")
}

func failureText(err error) string {
	if errors.Is(err, quota.ErrPersist) {
		return "Could not save the change, please try again."
	}
	return "Something went wrong, please try again."
}

// parseCommand splits "/extend@ktime_bot 30" into "/extend" and ["30"].
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	command := strings.ToLower(fields[0])
	if i := strings.Index(command, "@"); i >= 0 {
		command = command[:i]
	}
	return command, fields[1:]
}

func commandLabel(command string) string {
	switch command {
	case "/start", "/help", "/status", "/time", "/extend", "/pause", "/resume", "/history":
		return strings.TrimPrefix(command, "/")
	}
	return "unknown"
}
