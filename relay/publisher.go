// Package relay publishes wrapped events to relays.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"github.com/shopkit/checkout-go/giftwrap"
)

var (
	ErrNoRelays = errors.New("no relays configured")
	ErrRejected = errors.New("event rejected by relay")
)

type Publisher interface {
	Publish(ctx context.Context, ev *giftwrap.Event) error
}

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultAckTimeout  = 5 * time.Second
)

// Zero timeouts fall back to the defaults above.
type Config struct {
	Relays      []string
	DialTimeout time.Duration
	AckTimeout  time.Duration
}

// WebsocketPublisher sends ["EVENT", ev] to every relay and succeeds once
// at least one relay acknowledged the event.
type WebsocketPublisher struct {
	cfg    *Config
	dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewWebsocketPublisher(cfg *Config) *WebsocketPublisher {
	c := *cfg
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	cfg = &c
	return &WebsocketPublisher{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		conns:  make(map[string]*websocket.Conn),
	}
}

func (p *WebsocketPublisher) Publish(ctx context.Context, ev *giftwrap.Event) error {
	if len(p.cfg.Relays) == 0 {
		return ErrNoRelays
	}

	var errs []error
	accepted := 0
	for _, url := range p.cfg.Relays {
		if err := p.publishTo(ctx, url, ev); err != nil {
			logger.WithFields(logger.Fields{"relay": url, "event": ev.ID}).Warnf("publish failed: err=%v", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (p *WebsocketPublisher) publishTo(ctx context.Context, url string, ev *giftwrap.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.conn(ctx, url)
	if err != nil {
		return err
	}

	if err := p.send(conn, ev); err != nil {
		// stale connection, reconnect once
		conn.Close()
		delete(p.conns, url)
		if conn, err = p.conn(ctx, url); err != nil {
			return err
		}
		if err := p.send(conn, ev); err != nil {
			conn.Close()
			delete(p.conns, url)
			return err
		}
	}

	deadline := time.Now().Add(p.cfg.AckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			delete(p.conns, url)
			return fmt.Errorf("waiting for ok: %w", err)
		}
		if len(msg) < 3 {
			continue
		}
		var label, id string
		if json.Unmarshal(msg[0], &label) != nil || label != "OK" {
			continue
		}
		if json.Unmarshal(msg[1], &id) != nil || id != ev.ID {
			continue
		}
		var ok bool
		json.Unmarshal(msg[2], &ok)
		if !ok {
			var reason string
			if len(msg) > 3 {
				json.Unmarshal(msg[3], &reason)
			}
			return fmt.Errorf("%w: %s", ErrRejected, reason)
		}
		return nil
	}
}

func (p *WebsocketPublisher) send(conn *websocket.Conn, ev *giftwrap.Event) error {
	conn.SetWriteDeadline(time.Now().Add(p.cfg.AckTimeout))
	return conn.WriteJSON([]interface{}{"EVENT", ev})
}

func (p *WebsocketPublisher) conn(ctx context.Context, url string) (*websocket.Conn, error) {
	if c, ok := p.conns[url]; ok {
		return c, nil
	}
	c, _, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	p.conns[url] = c
	return c, nil
}

func (p *WebsocketPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.conns {
		c.Close()
		delete(p.conns, url)
	}
}
