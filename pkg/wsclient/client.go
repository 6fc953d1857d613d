// Package wsclient provides a reusable, resilient WebSocket client with
// automatic reconnection on exponential backoff. Adapted from the
// teacher's pkg/websocket/client.go; the teacher used one fixed
// reconnectWait, generalized here to backoff with a configurable
// ceiling so a prolonged kline-stream outage doesn't hammer the
// exchange on a constant interval.
package wsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dcabot/internal/core"
	"dcabot/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles an incoming WebSocket message.
type MessageHandler func(message []byte)

// Backoff describes the reconnect delay schedule: delay doubles from
// Min after each consecutive failed connect, capped at Max. After an
// established connection drops, the client waits Min before redialing.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

func (b Backoff) next(attempt int) time.Duration {
	if b.Min <= 0 {
		b.Min = time.Second
	}
	if b.Max <= 0 || b.Max < b.Min {
		b.Max = b.Min
	}
	d := b.Min
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Client is a resilient WebSocket client.
type Client struct {
	url     string
	handler MessageHandler
	backoff Backoff

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected func()

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.Logger

	tracer           trace.Tracer
	msgCounter       metric.Int64Counter
	connCounter      metric.Int64Counter
	reconnectCounter metric.Int64Counter
	latencyHist      metric.Float64Histogram
}

// NewClient creates a new WebSocket client against url, reconnecting
// on the given backoff schedule.
func NewClient(url string, handler MessageHandler, logger core.Logger, backoff Backoff) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	tracer := telemetry.GetTracer("wsclient")
	meter := telemetry.GetMeter("wsclient")

	msgCounter, _ := meter.Int64Counter("dcabot_ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("dcabot_ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	reconnectCounter, _ := meter.Int64Counter("dcabot_ws_reconnects_total",
		metric.WithDescription("Total number of WebSocket reconnect attempts"))
	latencyHist, _ := meter.Float64Histogram("dcabot_ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing a WebSocket message in seconds"))

	return &Client{
		url:              url,
		handler:          handler,
		backoff:          backoff,
		pingInterval:     30 * time.Second,
		pingWait:         10 * time.Second,
		pongWait:         60 * time.Second,
		ctx:              ctx,
		cancel:           cancel,
		tracer:           tracer,
		msgCounter:       msgCounter,
		connCounter:      connCounter,
		reconnectCounter: reconnectCounter,
		latencyHist:      latencyHist,
		logger:           logger,
	}
}

// SetPingConfig sets the ping/pong heartbeat configuration.
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetOnConnected sets the callback invoked after each successful
// connect (e.g. to resend a kline subscription).
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes a JSON message over the connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("wsclient: not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages in the background.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the reconnect loop, waiting up
// to 5s for background goroutines to exit.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("wsclient Stop: goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.connect(); err != nil {
				if c.logger != nil {
					c.logger.Error("wsclient connect failed", "url", c.url, "error", err, "attempt", attempt)
				}
				delay := c.backoff.next(attempt)
				attempt++
				c.reconnectCounter.Add(c.ctx, 1)
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			attempt = 0

			c.mu.Lock()
			onConnected := c.onConnected
			pingInterval := c.pingInterval
			c.mu.Unlock()

			if onConnected != nil {
				onConnected()
			}

			heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
			if pingInterval > 0 {
				c.wg.Add(1)
				go c.heartbeat(heartbeatCtx)
			}

			c.readLoop()
			heartbeatCancel()

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.backoff.next(0)):
			}
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "ws connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			start := time.Now()
			c.msgCounter.Add(c.ctx, 1)

			if c.handler != nil {
				c.handler(message)
			}

			c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
		}
	}
}
