package binance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// FuturesStreamURL is the production futures websocket host
	FuturesStreamURL = "wss://fstream.binance.com"
	// FuturesTestnetStreamURL is the testnet futures websocket host
	FuturesTestnetStreamURL = "wss://stream.binancefuture.com"
)

// wsConn keeps one websocket connected until closed, redialing with backoff.
// The URL is resolved on every dial so a refreshed listen key takes effect.
type wsConn struct {
	name        string
	url         func() string
	onMessage   func([]byte)
	readTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func startWSConn(ctx context.Context, name string, url func() string, readTimeout time.Duration, onMessage func([]byte), logger zerolog.Logger) *wsConn {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		name:        name,
		url:         url,
		onMessage:   onMessage,
		readTimeout: readTimeout,
		logger:      logger.With().Str("stream", name).Logger(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *wsConn) run(ctx context.Context) {
	defer close(c.done)

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(time.Minute),
		backoff.WithMaxElapsedTime(0),
	)
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url(), nil)
		if err != nil {
			delay := b.NextBackOff()
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Stream connection failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		b.Reset()

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		if ctx.Err() != nil {
			conn.Close()
			return
		}
		c.logger.Info().Msg("Stream connected")

		err = c.readLoop(conn)
		conn.Close()

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("Stream disconnected, reconnecting")
		if !sleepCtx(ctx, b.NextBackOff()) {
			return
		}
	}
}

func (c *wsConn) readLoop(conn *websocket.Conn) error {
	if c.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		conn.SetPingHandler(func(appData string) error {
			_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
			err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})
	}
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if c.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		c.onMessage(message)
	}
}

// reconnect drops the current connection; run dials again
func (c *wsConn) reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// Close stops reconnecting and waits for the read loop to exit
func (c *wsConn) Close() error {
	c.cancel()
	c.reconnect()
	<-c.done
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
