package processor

import (
	"context"
	"testing"
	"time"

	appconfig "phantomflow/config"
	"phantomflow/models"
)

func TestDecodeFrameArray(t *testing.T) {
	data := []byte(`[{"ev":"T","sym":"SPY","p":100.5,"s":200,"c":[2,37],"x":4,"t":1700000000000,"q":42,"trfi":3},{"ev":"T","sym":"SPY","p":100.6,"s":100,"x":11,"t":1700000000001,"q":43}]`)
	events, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("failed to decode array frame: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Price != 100.5 || events[0].Exchange != 4 || events[0].TRFID != 3 {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if len(events[0].Conditions) != 2 || events[0].Conditions[0] != 2 {
		t.Fatalf("conditions not decoded: %+v", events[0].Conditions)
	}
}

func TestDecodeFrameSingleObject(t *testing.T) {
	data := []byte(`{"ev":"status","status":"auth_success","message":"authenticated"}`)
	events, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("failed to decode object frame: %v", err)
	}
	if len(events) != 1 || events[0].Status != "auth_success" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	if _, err := decodeFrame([]byte(`{{not json`)); err == nil {
		t.Fatalf("malformed frame should fail to decode")
	}
}

func TestProcessorNormalizesTrades(t *testing.T) {
	cfg := &appconfig.Config{}
	rawChan := make(chan models.RawFeedMessage, 4)
	tradeChan := make(chan models.Trade, 4)
	p := NewTradeProcessor(cfg, rawChan, tradeChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("failed to start processor: %v", err)
	}

	received := time.UnixMilli(1_700_000_000_500)
	rawChan <- models.RawFeedMessage{
		Symbol:   "SPY",
		Data:     []byte(`[{"ev":"status","status":"connected"},{"ev":"T","sym":"SPY","p":101.25,"s":500,"c":[12],"x":4,"t":1700000000000,"trft":1699999999900,"q":7,"trfi":1}]`),
		Received: received,
	}

	select {
	case trade := <-tradeChan:
		if trade.Price != 101.25 || trade.Size != 500 || trade.Exchange != 4 {
			t.Fatalf("unexpected trade: %+v", trade)
		}
		if trade.SIPTimestamp != 1700000000000 || trade.TRFTimestamp != 1699999999900 {
			t.Fatalf("timestamps not carried through: %+v", trade)
		}
		if trade.ReceivedTime != received.UnixMilli() {
			t.Fatalf("received time not stamped: %+v", trade)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("normalized trade never arrived")
	}

	// Status-only event produced no second trade.
	select {
	case trade := <-tradeChan:
		t.Fatalf("unexpected extra trade: %+v", trade)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	p.Stop()
}

func TestProcessorSkipsMalformedFrames(t *testing.T) {
	cfg := &appconfig.Config{}
	rawChan := make(chan models.RawFeedMessage, 4)
	tradeChan := make(chan models.Trade, 4)
	p := NewTradeProcessor(cfg, rawChan, tradeChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("failed to start processor: %v", err)
	}

	rawChan <- models.RawFeedMessage{Symbol: "SPY", Data: []byte(`garbage`), Received: time.Now()}
	rawChan <- models.RawFeedMessage{
		Symbol:   "SPY",
		Data:     []byte(`[{"ev":"T","sym":"SPY","p":100.0,"s":1,"x":11,"t":1700000000000,"q":8}]`),
		Received: time.Now(),
	}

	select {
	case trade := <-tradeChan:
		if trade.Sequence != 8 {
			t.Fatalf("expected the trade after the bad frame, got %+v", trade)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("trade after malformed frame never arrived")
	}

	cancel()
	p.Stop()
}
