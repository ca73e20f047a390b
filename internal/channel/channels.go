package channel

import (
	"phantomflow/models"
)

// Channels carries the two pipeline stages: raw websocket frames from the
// reader and normalized trades for the engine.
type Channels struct {
	Raw    chan models.RawFeedMessage
	Trades chan models.Trade
}

func NewChannels(rawBufferSize, tradeBufferSize int) *Channels {
	return &Channels{
		Raw:    make(chan models.RawFeedMessage, rawBufferSize),
		Trades: make(chan models.Trade, tradeBufferSize),
	}
}

func (c *Channels) Close() {
	if c.Raw != nil {
		close(c.Raw)
	}
	if c.Trades != nil {
		close(c.Trades)
	}
}
