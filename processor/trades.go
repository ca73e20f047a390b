package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appconfig "phantomflow/config"
	"phantomflow/logger"
	"phantomflow/models"
)

// TradeProcessor normalizes raw websocket frames into trade messages and
// forwards them to the classification engine.
type TradeProcessor struct {
	config    *appconfig.Config
	rawChan   <-chan models.RawFeedMessage
	tradeChan chan<- models.Trade
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log
}

// feedEvent is one event in a feed frame. Frames carry either a JSON array of
// events or a single event object.
type feedEvent struct {
	Event        string  `json:"ev"`
	Symbol       string  `json:"sym"`
	Price        float64 `json:"p"`
	Size         int64   `json:"s"`
	Conditions   []int   `json:"c"`
	Exchange     int     `json:"x"`
	SIPTimestamp int64   `json:"t"`
	TRFTimestamp int64   `json:"trft"`
	Sequence     int64   `json:"q"`
	TRFID        int     `json:"trfi"`
	Status       string  `json:"status"`
	Message      string  `json:"message"`
}

// NewTradeProcessor creates a new processor instance.
func NewTradeProcessor(cfg *appconfig.Config, rawChan <-chan models.RawFeedMessage, tradeChan chan<- models.Trade) *TradeProcessor {
	return &TradeProcessor{
		config:    cfg,
		rawChan:   rawChan,
		tradeChan: tradeChan,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

// Start begins normalizing frames from the raw channel. A single worker
// preserves feed order, which the engine's classification depends on.
func (p *TradeProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("trade processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("trade_processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting trade processor")

	p.wg.Add(1)
	go p.worker()

	p.wg.Add(1)
	go p.metricsReporter(ctx)

	log.Info("trade processor started successfully")
	return nil
}

// Stop signals the worker and waits for it to drain.
func (p *TradeProcessor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("trade_processor").Info("stopping trade processor")
	p.wg.Wait()
	p.log.WithComponent("trade_processor").Info("trade processor stopped")
}

func (p *TradeProcessor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.rawChan:
			if !ok {
				return
			}
			p.handleFrame(msg)
		}
	}
}

func (p *TradeProcessor) handleFrame(raw models.RawFeedMessage) {
	log := p.log.WithComponent("trade_processor").WithFields(logger.Fields{"symbol": raw.Symbol})

	events, err := decodeFrame(raw.Data)
	if err != nil {
		log.WithError(err).Warn("failed to unmarshal feed frame")
		return
	}

	recv := raw.Received.UnixMilli()
	for _, evt := range events {
		switch evt.Event {
		case "T":
		case "status":
			log.WithFields(logger.Fields{"status": evt.Status, "message": evt.Message}).Debug("feed status event")
			continue
		default:
			continue
		}

		trade := models.Trade{
			Symbol:       evt.Symbol,
			Price:        evt.Price,
			Size:         evt.Size,
			Conditions:   evt.Conditions,
			Exchange:     evt.Exchange,
			SIPTimestamp: evt.SIPTimestamp,
			TRFTimestamp: evt.TRFTimestamp,
			Sequence:     evt.Sequence,
			TRFID:        evt.TRFID,
			ReceivedTime: recv,
		}

		select {
		case p.tradeChan <- trade:
		case <-p.ctx.Done():
			return
		default:
			log.WithFields(logger.Fields{"sequence": trade.Sequence}).Warn("trade channel full, dropping trade")
		}
	}
}

// decodeFrame accepts both the array framing used for event batches and a
// bare event object.
func decodeFrame(data []byte) ([]feedEvent, error) {
	var events []feedEvent
	if err := json.Unmarshal(data, &events); err == nil {
		return events, nil
	}
	var single feedEvent
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []feedEvent{single}, nil
}

func (p *TradeProcessor) metricsReporter(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			running := p.running
			p.mu.RUnlock()
			if !running {
				return
			}
			p.log.WithComponent("trade_processor").WithFields(logger.Fields{
				"raw_channel_len":   len(p.rawChan),
				"raw_channel_cap":   cap(p.rawChan),
				"trade_channel_len": len(p.tradeChan),
				"trade_channel_cap": cap(p.tradeChan),
			}).Info("trade processor channel sizes")
		}
	}
}
