package notify

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/shopkit/checkout-go/giftwrap"
	"github.com/shopkit/checkout-go/metrics"
	"github.com/shopkit/checkout-go/relay"
	"github.com/shopkit/checkout-go/retry"
)

type Config struct {
	MaxAttempts int           // per message
	Backoff     time.Duration // first retry delay, doubled each time
	Pacing      time.Duration // minimum gap between two messages
}

func DefaultConfig() *Config {
	return &Config{MaxAttempts: 3, Backoff: time.Second, Pacing: 500 * time.Millisecond}
}

// Delivery is the outcome of one message.
type Delivery struct {
	Subject   Subject
	Recipient string
	EventId   string
	Attempts  int
	Err       error
}

func (d *Delivery) Delivered() bool {
	return d.Err == nil
}

type Report struct {
	OrderId    string
	Deliveries []Delivery
}

func (r *Report) Failed() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if !d.Delivered() {
			out = append(out, d)
		}
	}
	return out
}

// Recorder persists delivery outcomes. Optional.
type Recorder interface {
	RecordDelivery(orderId string, d *Delivery) error
}

type Sequencer struct {
	cfg       *Config
	signer    giftwrap.Signer
	publisher relay.Publisher
	recorder  Recorder
}

func NewSequencer(cfg *Config, signer giftwrap.Signer, publisher relay.Publisher, recorder Recorder) *Sequencer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Sequencer{cfg: cfg, signer: signer, publisher: publisher, recorder: recorder}
}

// Send delivers msgs one after another. A message that cannot be delivered
// is logged and skipped; the remaining messages are still sent.
func (s *Sequencer) Send(ctx context.Context, orderId string, msgs []Message) *Report {
	keys := giftwrap.NewKeyRing()
	defer keys.Discard()

	limit := rate.Inf
	if s.cfg.Pacing > 0 {
		limit = rate.Every(s.cfg.Pacing)
	}
	pacer := rate.NewLimiter(limit, 1)

	newLogger := logger.WithField("order", orderId)
	report := &Report{OrderId: orderId, Deliveries: make([]Delivery, 0, len(msgs))}
	for _, msg := range msgs {
		d := Delivery{Subject: msg.Subject(), Recipient: msg.Recipient()}
		if err := pacer.Wait(ctx); err != nil {
			d.Err = err
		} else {
			d.EventId, d.Attempts, d.Err = s.deliver(ctx, keys, msg)
		}

		result := "delivered"
		if d.Err != nil {
			result = "failed"
			newLogger.WithFields(logger.Fields{
				"subject":  d.Subject,
				"attempts": d.Attempts,
			}).Errorf("failed to deliver message: err=%v", d.Err)
		} else {
			newLogger.WithFields(logger.Fields{
				"subject":  d.Subject,
				"attempts": d.Attempts,
				"event":    d.EventId,
			}).Info("message delivered")
		}
		metrics.Notifications.WithLabelValues(string(d.Subject), result).Inc()
		metrics.NotificationAttempts.Observe(float64(d.Attempts))

		if s.recorder != nil {
			if err := s.recorder.RecordDelivery(orderId, &d); err != nil {
				newLogger.Errorf("failed to record delivery: err=%v", err)
			}
		}
		report.Deliveries = append(report.Deliveries, d)
	}
	return report
}

func (s *Sequencer) deliver(ctx context.Context, keys *giftwrap.KeyRing, msg Message) (string, int, error) {
	wrap, err := s.wrap(ctx, keys, msg)
	if err != nil {
		return "", 0, err
	}

	policy := retry.Policy{MaxAttempts: s.cfg.MaxAttempts, Backoff: retry.Exponential(s.cfg.Backoff)}
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		return s.publisher.Publish(ctx, wrap)
	})
	return wrap.ID, attempts, err
}

func (s *Sequencer) wrap(ctx context.Context, keys *giftwrap.KeyRing, msg Message) (*giftwrap.Event, error) {
	eph, err := keys.Key(msg.Role())
	if err != nil {
		return nil, err
	}
	rumor, err := giftwrap.NewRumor(s.signer.Pubkey(), giftwrap.KindChatMessage, msg.Text(), msg.Tags())
	if err != nil {
		return nil, fmt.Errorf("build rumor: %w", err)
	}
	return giftwrap.SealAndWrap(ctx, s.signer, rumor, eph, msg.Recipient())
}
