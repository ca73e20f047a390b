package massive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appconfig "phantomflow/config"
	"phantomflow/logger"
	"phantomflow/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// TradeReader subscribes to the Massive websocket trade stream for a single
// symbol and forwards raw frames into the pipeline. If the connection drops it
// re-authenticates and resubscribes automatically until the context is
// cancelled.
type TradeReader struct {
	config  *appconfig.Config
	rawChan chan<- models.RawFeedMessage
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	onDisconnect func(reason string)
}

type controlMessage struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// NewTradeReader creates a new trade reader.
func NewTradeReader(cfg *appconfig.Config, rawChan chan<- models.RawFeedMessage) *TradeReader {
	return &TradeReader{
		config:  cfg,
		rawChan: rawChan,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// OnDisconnect registers a hook invoked on every connection loss, before the
// reconnect attempt starts. Must be set before Start.
func (r *TradeReader) OnDisconnect(fn func(reason string)) {
	r.onDisconnect = fn
}

// Start establishes the websocket connection and subscribes to the trade
// stream for the configured symbol.
func (r *TradeReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("trade reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("massive_trade_reader").WithFields(logger.Fields{"operation": "start"})

	if r.config.Feed.APIKey == "" {
		log.Warn("feed api key is missing")
		return fmt.Errorf("feed api key is required")
	}

	log.WithFields(logger.Fields{
		"url":    r.config.Feed.URL,
		"symbol": r.config.Feed.Symbol,
	}).Info("starting trade reader")

	r.wg.Add(1)
	go r.stream()

	log.Info("trade reader started successfully")
	return nil
}

// Stop terminates the websocket subscription and waits for the stream
// goroutine to finish.
func (r *TradeReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("massive_trade_reader").Info("stopping trade reader")
	r.wg.Wait()
	r.log.WithComponent("massive_trade_reader").Info("trade reader stopped")
}

// stream handles websocket lifecycle, reconnection and frame forwarding.
func (r *TradeReader) stream() {
	defer r.wg.Done()

	symbol := r.config.Feed.Symbol
	log := r.log.WithComponent("massive_trade_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "trade_stream",
	})

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = r.config.Feed.ReconnectDelay
	retry.MaxInterval = r.config.Feed.MaxBackoff
	retry.MaxElapsedTime = 0

	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, r.config.Feed.URL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
			select {
			case <-time.After(retry.NextBackOff()):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		if err := r.authenticate(conn); err != nil {
			log.WithError(err).Warn("failed to authenticate, retrying")
			conn.Close()
			select {
			case <-time.After(retry.NextBackOff()):
				continue
			case <-r.ctx.Done():
				return
			}
		}

		sub := controlMessage{Action: "subscribe", Params: "T." + symbol}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe, retrying")
			conn.Close()
			continue
		}

		log.Info("subscribed to trade stream")
		retry.Reset()

		// Unblock the read loop when the context is cancelled.
		done := make(chan struct{})
		go func() {
			select {
			case <-done:
			case <-r.ctx.Done():
				conn.Close()
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if r.ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("websocket read error, reconnecting")
				r.disconnected(err.Error())
				goto RECONNECT
			}

			frame := models.RawFeedMessage{
				Symbol:   symbol,
				Data:     msg,
				Received: time.Now(),
			}
			select {
			case r.rawChan <- frame:
			case <-r.ctx.Done():
				close(done)
				conn.Close()
				return
			default:
				log.Warn("raw feed channel full, dropping frame")
			}
		}

	RECONNECT:
		select {
		case <-time.After(retry.NextBackOff()):
		case <-r.ctx.Done():
			return
		}
	}
}

// authenticate sends the auth frame and waits for the server to confirm it.
func (r *TradeReader) authenticate(conn *websocket.Conn) error {
	auth := controlMessage{Action: "auth", Params: r.config.Feed.APIKey}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("failed to send auth frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for i := 0; i < 5; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read auth response: %w", err)
		}
		var events []struct {
			Event   string `json:"ev"`
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg, &events); err != nil {
			var single struct {
				Event   string `json:"ev"`
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg, &single); err != nil {
				continue
			}
			events = append(events, single)
		}
		for _, evt := range events {
			switch evt.Status {
			case "auth_success":
				return nil
			case "auth_failed":
				return fmt.Errorf("authentication rejected: %s", evt.Message)
			}
		}
	}
	return fmt.Errorf("no auth confirmation received")
}

func (r *TradeReader) disconnected(reason string) {
	if r.onDisconnect != nil {
		r.onDisconnect(reason)
	}
}
