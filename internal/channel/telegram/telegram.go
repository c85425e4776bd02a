package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/channel"
	"github.com/MEKXH/gatekeep/internal/config"
)

const (
	channelName = "telegram"

	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	routeCommand = "/route"
)

var (
	boldStarRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__(.+?)__`)
	codeInlineRe = regexp.MustCompile("`([^`]+)`")
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Connector implements channel.Receiver for a Telegram bot.
type Connector struct {
	cfg   config.TelegramConfig
	allow channel.AllowList

	mu  sync.Mutex
	bot botAPI
}

// New creates a Telegram connector. The bot connects lazily.
func New(cfg config.TelegramConfig) *Connector {
	if strings.TrimSpace(cfg.DefaultWorkspace) == "" {
		cfg.DefaultWorkspace = "default"
	}
	if strings.TrimSpace(cfg.DefaultAgent) == "" {
		cfg.DefaultAgent = "primary"
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = []string{"operator"}
	}
	return &Connector{
		cfg:   cfg,
		allow: channel.NewAllowList(cfg.AllowFrom),
	}
}

func (c *Connector) Name() string { return channelName }

// ToEvent decodes a webhook update.
func (c *Connector) ToEvent(raw []byte) (bus.Event, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return bus.Event{}, fmt.Errorf("decode telegram update: %w", err)
	}
	return c.eventFromMessage(update.Message)
}

func (c *Connector) eventFromMessage(msg *tgbotapi.Message) (bus.Event, error) {
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return bus.Event{}, channel.ErrIgnored
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !c.allow.Allows(senderID + "|" + msg.From.UserName) {
		slog.Debug("unauthorized sender", "channel", channelName, "id", senderID)
		return bus.Event{}, channel.ErrSenderNotAllowed
	}

	content := strings.TrimSpace(msg.Text)
	if content == "" {
		content = strings.TrimSpace(msg.Caption)
	}
	if content == "" {
		return bus.Event{}, channel.ErrIgnored
	}

	workspace, agent, text := parseRoute(content, c.cfg.DefaultWorkspace, c.cfg.DefaultAgent)
	display := msg.From.UserName
	if display == "" {
		display = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}

	return bus.NewEvent(bus.EventInput{
		Channel:   channelName,
		Sender:    bus.Sender{ID: senderID, Display: display, Roles: append([]string(nil), c.cfg.Roles...)},
		ThreadID:  strconv.FormatInt(msg.Chat.ID, 10),
		Workspace: workspace,
		Agent:     agent,
		Text:      text,
	}), nil
}

// parseRoute reads "/route workspace=X agent=Y text". Missing selectors
// fall back to the defaults.
func parseRoute(content, defaultWorkspace, defaultAgent string) (workspace, agent, text string) {
	workspace, agent, text = defaultWorkspace, defaultAgent, content
	fields := strings.Fields(content)
	if len(fields) == 0 || fields[0] != routeCommand {
		return workspace, agent, text
	}

	rest := fields[1:]
	for len(rest) > 0 {
		key, value, ok := strings.Cut(rest[0], "=")
		if !ok {
			break
		}
		switch key {
		case "workspace":
			workspace = value
		case "agent":
			agent = value
		default:
			return workspace, agent, strings.Join(rest, " ")
		}
		rest = rest[1:]
	}
	return workspace, agent, strings.Join(rest, " ")
}

// VerifyWebhook checks the secret token Telegram echoes on every push. An
// empty configured secret accepts all requests.
func (c *Connector) VerifyWebhook(r *http.Request) bool {
	secret := strings.TrimSpace(c.cfg.WebhookSecret)
	if secret == "" {
		return true
	}
	got := r.Header.Get(secretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

func (c *Connector) connect() (botAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot != nil {
		return c.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(c.cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	slog.Info("telegram bot connected", "username", bot.Self.UserName)
	c.bot = bot
	return bot, nil
}

// Receive long-polls for updates until ctx ends. In webhook mode it only
// connects and waits, since updates arrive over HTTP.
func (c *Connector) Receive(ctx context.Context, deliver func(context.Context, bus.Event)) error {
	bot, err := c.connect()
	if err != nil {
		return err
	}
	if c.cfg.Webhook {
		<-ctx.Done()
		return nil
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			ev, err := c.eventFromMessage(update.Message)
			if err != nil {
				continue
			}
			deliver(ctx, ev)
		}
	}
}

// SendReply posts text to a chat, retrying as plain text when Telegram
// rejects the HTML.
func (c *Connector) SendReply(ctx context.Context, threadID, text string) error {
	bot, err := c.connect()
	if err != nil {
		return err
	}
	chatID, err := parseInt64(threadID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", threadID, err)
	}

	msg := tgbotapi.NewMessage(chatID, markdownToHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err = bot.Send(msg); err != nil {
		msg.ParseMode = ""
		msg.Text = text
		_, err = bot.Send(msg)
	}
	return err
}

func (c *Connector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot != nil && !c.cfg.Webhook {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func markdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	text = codeInlineRe.ReplaceAllString(text, "<code>$1</code>")
	return text
}
