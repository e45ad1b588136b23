package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tazhate/nikassistant/config"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

var errNoTopic = errors.New("mobile topic not set")

// BotSender is the part of tgbotapi.BotAPI used for push delivery.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Mobile pushes notifications to a Telegram chat or channel. The topic is
// a numeric chat id or an @channel name.
type Mobile struct {
	bot    BotSender
	topic  string
	logger *zap.Logger
}

// NewMobile authorizes the bot once. A disabled channel, a missing token or
// a failed authorization leave the channel unavailable for the process.
func NewMobile(cfg config.MobileConfig, logger *zap.Logger) *Mobile {
	m := &Mobile{topic: cfg.Topic, logger: logger.Named("mobile")}
	if !cfg.Enabled || cfg.TelegramToken == "" {
		return m
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		m.logger.Warn("Mobile push unavailable, bot authorization failed", zap.Error(err))
		return m
	}
	m.logger.Info("Mobile push authorized", zap.String("bot", api.Self.UserName))
	m.bot = api
	return m
}

// NewMobileWithBot creates a mobile channel around an existing bot.
func NewMobileWithBot(bot BotSender, topic string, logger *zap.Logger) *Mobile {
	return &Mobile{bot: bot, topic: topic, logger: logger.Named("mobile")}
}

func (m *Mobile) Channel() domain.Channel { return domain.ChannelMobile }

func (m *Mobile) Available() bool { return m.bot != nil }

// Send posts the notification to the configured chat.
func (m *Mobile) Send(ctx context.Context, n domain.Notification) error {
	if m.bot == nil {
		return ErrUnavailable
	}

	topic := n.Options.Topic
	if topic == "" {
		topic = m.topic
	}
	msg, err := newTopicMessage(topic, mobileText(n))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := m.bot.Send(msg)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		m.logger.Debug("Mobile push sent", zap.String("topic", topic), zap.String("title", n.Title))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

func newTopicMessage(topic, text string) (tgbotapi.MessageConfig, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return tgbotapi.MessageConfig{}, errNoTopic
	}
	if strings.HasPrefix(topic, "@") {
		return tgbotapi.NewMessageToChannel(topic, text), nil
	}
	chatID, err := strconv.ParseInt(topic, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid mobile topic %q: %w", topic, err)
	}
	return tgbotapi.NewMessage(chatID, text), nil
}

func mobileText(n domain.Notification) string {
	if n.Message == "" {
		return n.Title
	}
	return n.Title + "\n\n" + n.Message
}
