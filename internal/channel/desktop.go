package channel

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/tazhate/nikassistant/config"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

// NotifyFunc shows one notification on the local desktop.
type NotifyFunc func(title, message, icon string) error

func beeepNotify(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

type Desktop struct {
	enabled bool
	icon    string
	notify  NotifyFunc
	logger  *zap.Logger
}

// NewDesktop creates the desktop channel. A non-empty app name is what the
// notification surface shows as the sender.
func NewDesktop(cfg config.DesktopConfig, logger *zap.Logger) *Desktop {
	if cfg.AppName != "" {
		beeep.AppName = cfg.AppName
	}
	return &Desktop{
		enabled: cfg.Enabled,
		icon:    cfg.IconPath,
		notify:  beeepNotify,
		logger:  logger.Named("desktop"),
	}
}

// WithNotifyFunc replaces the desktop surface, mostly for tests.
func (d *Desktop) WithNotifyFunc(fn NotifyFunc) *Desktop {
	d.notify = fn
	return d
}

func (d *Desktop) Channel() domain.Channel { return domain.ChannelDesktop }

func (d *Desktop) Available() bool { return d.enabled }

// Send shows the notification. The display timeout is left to the desktop
// environment; beeep has no portable way to set it.
func (d *Desktop) Send(ctx context.Context, n domain.Notification) error {
	if !d.enabled {
		return ErrUnavailable
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.notify(n.Title, n.Message, d.icon)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("desktop notify: %w", err)
		}
		d.logger.Debug("Desktop notification shown", zap.String("title", n.Title))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("desktop notify: %w", ctx.Err())
	}
}
