// Package notify delivers fire-and-forget operator alerts.
// Delivery failures are logged and never reach the trading loop.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mky2266/mats/config"
	"github.com/mky2266/mats/logger"
)

// Notifier sends a text alert
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// ==================== Telegram ====================

// Telegram sends alerts to one chat through the Bot API
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authenticates the bot token (getMe) against the public Bot API
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: 10 * time.Second})
}

// NewTelegramWithEndpoint is NewTelegram against a custom endpoint, e.g.
// "http://host/bot%s/%s"
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string, client *http.Client) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string {
	return "telegram"
}

// Send posts text to the configured chat
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// ==================== Log ====================

// Log writes alerts to the log. Used when Telegram is not configured.
type Log struct{}

func (Log) Name() string {
	return "log"
}

func (Log) Send(ctx context.Context, text string) error {
	logger.Infof("📣 %s", text)
	return nil
}

// ==================== Dispatcher ====================

// Dispatcher queues alerts and delivers them from a single worker so a slow
// or failing notifier never blocks the caller
type Dispatcher struct {
	target  Notifier
	queue   chan string
	timeout time.Duration

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	dropped  int
	failures int
}

// NewDispatcher starts the delivery worker. A nil target logs alerts instead.
func NewDispatcher(target Notifier, queueSize int) *Dispatcher {
	if target == nil {
		target = Log{}
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	d := &Dispatcher{
		target:  target,
		queue:   make(chan string, queueSize),
		timeout: 15 * time.Second,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// FromConfig uses Telegram when a token and chat id are configured and the
// log otherwise
func FromConfig(cfg config.NotifyConfig) *Dispatcher {
	var target Notifier = Log{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warnf("⚠️ [Notify] telegram unavailable, alerts go to the log: %v", err)
		} else {
			target = tg
			logger.Infof("✅ [Notify] telegram alerts enabled")
		}
	}
	return NewDispatcher(target, cfg.QueueSize)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for text := range d.queue {
		d.deliver(text)
	}
}

func (d *Dispatcher) deliver(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.target.Send(ctx, text); err != nil {
		d.mu.Lock()
		d.failures++
		d.mu.Unlock()
		logger.Warnf("⚠️ [Notify] %s delivery failed: %v; message: %s", d.target.Name(), err, text)
	}
}

// Notify enqueues text without blocking. A full queue drops the alert.
func (d *Dispatcher) Notify(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		logger.Infof("📣 %s", text)
		return
	}
	select {
	case d.queue <- text:
	default:
		d.dropped++
		logger.Warnf("⚠️ [Notify] queue full, dropped: %s", text)
	}
}

// NotifySync delivers text before returning. Used for fatal stops, which
// must be announced before the process exits.
func (d *Dispatcher) NotifySync(ctx context.Context, text string) error {
	if err := d.target.Send(ctx, text); err != nil {
		logger.Warnf("⚠️ [Notify] %s delivery failed: %v; message: %s", d.target.Name(), err, text)
		return err
	}
	return nil
}

// Stats returns dropped and failed deliveries
func (d *Dispatcher) Stats() (dropped, failures int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped, d.failures
}

// Close stops accepting alerts and waits for queued ones up to ctx
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
