package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

// Sender delivers one notification through one transport.
type Sender interface {
	Channel() domain.Channel
	// Available is fixed at construction; an unavailable sender is never called.
	Available() bool
	Send(ctx context.Context, n domain.Notification) error
}

// Outbox keeps durable notifications across restarts.
type Outbox interface {
	SaveOutbox(n domain.Notification) error
	DeleteOutbox(id uuid.UUID) error
	PendingOutbox() ([]domain.Notification, error)
}

// Journal records the outcome of every channel attempt.
type Journal interface {
	RecordDeliveries(deliveries []domain.Delivery) error
}

// Result is the outcome of one channel attempt.
type Result struct {
	Channel  domain.Channel
	Err      error
	Duration time.Duration
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// ErrChannelUnavailable is returned for a channel that is disabled or not configured.
type ErrChannelUnavailable struct {
	Channel domain.Channel
}

func (e *ErrChannelUnavailable) Error() string {
	return fmt.Sprintf("channel %s unavailable", e.Channel)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithOutbox persists queued notifications so they survive a restart.
func WithOutbox(o Outbox) Option {
	return func(d *Dispatcher) { d.outbox = o }
}

// WithJournal records every delivery attempt.
func WithJournal(j Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// WithSendTimeout bounds each channel attempt.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.sendTimeout = timeout }
}

// Dispatcher queues notifications and delivers them from a single worker
// goroutine, so producers never wait on network I/O.
type Dispatcher struct {
	senders     map[domain.Channel]Sender
	outbox      Outbox
	journal     Journal
	sendTimeout time.Duration
	logger      *zap.Logger

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	mu      sync.Mutex
	queue   []domain.Notification
	wake    chan struct{}
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDispatcher creates a dispatcher over the senders. Call Start to begin delivering.
func NewDispatcher(senders []Sender, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		senders:     make(map[domain.Channel]Sender, len(senders)),
		sendTimeout: 30 * time.Second,
		logger:      logger.Named("notifier"),
		wake:        make(chan struct{}, 1),
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Available reports whether the channel has a configured, usable sender.
func (d *Dispatcher) Available(c domain.Channel) bool {
	s, ok := d.senders[c]
	return ok && s.Available()
}

// Enqueue appends a notification and returns immediately.
func (d *Dispatcher) Enqueue(title, message string, channels []domain.Channel, opts domain.Options) domain.Notification {
	n := domain.NewNotification(title, message, channels, opts)
	d.push(n)
	return n
}

func (d *Dispatcher) push(n domain.Notification) {
	if n.Options.Durable && d.outbox != nil {
		if err := d.outbox.SaveOutbox(n); err != nil {
			d.logger.Warn("Failed to persist durable notification",
				zap.String("notification_id", n.ID.String()),
				zap.String("title", n.Title),
				zap.Error(err),
			)
		}
	}

	d.mu.Lock()
	d.queue = append(d.queue, n)
	d.mu.Unlock()

	d.signal()
	d.logger.Debug("Notification queued", zap.String("title", n.Title), zap.Any("channels", n.Channels))
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, not yet started notifications.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Start spawns the worker. Durable notifications left from an earlier run
// are queued ahead of anything enqueued so far. Calling Start on a running
// dispatcher does nothing.
func (d *Dispatcher) Start() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	d.replayOutbox()

	go d.run(ctx, d.done)
	d.logger.Info("Notifier started")
}

func (d *Dispatcher) replayOutbox() {
	if d.outbox == nil {
		return
	}
	pending, err := d.outbox.PendingOutbox()
	if err != nil {
		d.logger.Error("Failed to read notification outbox", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	d.mu.Lock()
	queued := make(map[uuid.UUID]bool, len(d.queue))
	for _, n := range d.queue {
		queued[n.ID] = true
	}
	replay := make([]domain.Notification, 0, len(pending))
	for _, n := range pending {
		if !queued[n.ID] {
			replay = append(replay, n)
		}
	}
	d.queue = append(replay, d.queue...)
	d.mu.Unlock()

	d.signal()
	d.logger.Info("Replaying durable notifications", zap.Int("count", len(replay)))
}

// Stop signals the worker and waits for the notification being delivered
// to finish. Queued notifications that have not started are dropped; durable
// ones stay in the outbox for the next Start.
func (d *Dispatcher) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done

	d.mu.Lock()
	dropped := len(d.queue)
	d.queue = nil
	d.mu.Unlock()

	d.logger.Info("Notifier stopped", zap.Int("dropped", dropped))
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		n, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}

		// ctx is not passed on: an in-flight delivery finishes even when Stop
		// is called, bounded by the per-channel timeout.
		d.Deliver(context.Background(), n)
	}
}

func (d *Dispatcher) pop() (domain.Notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return domain.Notification{}, false
	}
	n := d.queue[0]
	d.queue[0] = domain.Notification{}
	d.queue = d.queue[1:]
	return n, true
}

// Deliver attempts every requested channel independently and returns one
// result per channel. It never panics and never retries.
func (d *Dispatcher) Deliver(ctx context.Context, n domain.Notification) []Result {
	results := make([]Result, 0, len(n.Channels))
	for _, c := range n.Channels {
		results = append(results, d.deliverOne(ctx, c, n))
	}

	d.finish(n, results)
	return results
}

func (d *Dispatcher) deliverOne(ctx context.Context, c domain.Channel, n domain.Notification) (res Result) {
	res.Channel = c
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("channel %s panicked: %v", c, r)
		}
		res.Duration = time.Since(start)
	}()

	s, ok := d.senders[c]
	if !ok || !s.Available() {
		res.Err = &ErrChannelUnavailable{Channel: c}
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	res.Err = s.Send(sendCtx, n)
	return res
}

func (d *Dispatcher) finish(n domain.Notification, results []Result) {
	now := time.Now()
	deliveries := make([]domain.Delivery, 0, len(results))
	delivered := 0
	for _, r := range results {
		rec := domain.Delivery{
			NotificationID: n.ID,
			Title:          n.Title,
			Channel:        r.Channel,
			Duration:       r.Duration,
			DeliveredAt:    now,
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
			d.logger.Warn("Notification delivery failed",
				zap.String("channel", string(r.Channel)),
				zap.String("title", n.Title),
				zap.Error(r.Err),
			)
		} else {
			delivered++
		}
		deliveries = append(deliveries, rec)
	}

	d.logger.Info("Notification processed",
		zap.String("notification_id", n.ID.String()),
		zap.String("title", n.Title),
		zap.Int("channels", len(results)),
		zap.Int("delivered", delivered),
	)

	if d.journal != nil && len(deliveries) > 0 {
		if err := d.journal.RecordDeliveries(deliveries); err != nil {
			d.logger.Warn("Failed to record deliveries", zap.Error(err))
		}
	}
	if n.Options.Durable && d.outbox != nil {
		if err := d.outbox.DeleteOutbox(n.ID); err != nil {
			d.logger.Warn("Failed to clear durable notification", zap.String("notification_id", n.ID.String()), zap.Error(err))
		}
	}
}

// SelfTest queues one notification per channel so each transport can be checked.
func (d *Dispatcher) SelfTest() []domain.Notification {
	set := SelfTestNotifications()
	for _, n := range set {
		d.push(n)
	}
	return set
}

// SelfTestNotifications builds the self-test set without queueing it.
func SelfTestNotifications() []domain.Notification {
	return []domain.Notification{
		domain.NewNotification("🧠 NikAssistant Test",
			"Desktop notification test - if you see this, notifications are working!",
			[]domain.Channel{domain.ChannelDesktop}, domain.Options{}),
		domain.NewNotification("📧 Email Test",
			"Email notification test - check your inbox!",
			[]domain.Channel{domain.ChannelEmail}, domain.Options{}),
		domain.NewNotification("📱 Mobile Test",
			"Mobile notification test - check your phone!",
			[]domain.Channel{domain.ChannelMobile}, domain.Options{}),
	}
}
