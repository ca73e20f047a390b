package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appconfig "phantomflow/config"
	"phantomflow/logger"
	"phantomflow/models"
)

// AlertSink receives formatted alert messages. Dispatch must not block and
// must isolate delivery failures from the caller.
type AlertSink interface {
	Dispatch(title, message string)
}

// PhantomStore persists phantom records.
type PhantomStore interface {
	Insert(ctx context.Context, rec models.PhantomRecord) error
}

// DayLog receives raw qualifying prints for offline analysis.
type DayLog interface {
	Append(entry models.DayLogEntry)
	Flush(reason string)
}

// Engine consumes normalized trades from a single channel and runs the full
// classification pass over each one. All detector state transitions happen on
// one goroutine: correctness depends on every trade being classified against
// the state excluding itself, so no two trades may ever be processed
// concurrently.
type Engine struct {
	config  *appconfig.Config
	trades  <-chan models.Trade
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log

	clock   *SessionClock
	tracker *SessionRangeTracker
	phantom *PhantomDetector
	agg     *WindowAggregator
	dark    *DarkPoolTracker

	phantomGate *Gate
	rthGate     *Gate
	velGate     *Gate

	tradesSeen int
	tradingDay string

	alerts AlertSink
	store  PhantomStore
	daylog DayLog
}

// NewEngine wires the detectors from config. Sinks may be nil, in which case
// the corresponding output is skipped.
func NewEngine(cfg *appconfig.Config, ref models.ReferenceRange, trades <-chan models.Trade, alerts AlertSink, store PhantomStore, daylog DayLog) (*Engine, error) {
	clock, err := NewSessionClock(cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to build session clock: %w", err)
	}
	det := cfg.Detection
	return &Engine{
		config:      cfg,
		trades:      trades,
		wg:          &sync.WaitGroup{},
		log:         logger.GetLogger(),
		clock:       clock,
		tracker:     NewSessionRangeTracker(),
		phantom:     NewPhantomDetector(det, ref),
		agg:         NewWindowAggregator(det.Velocity.WindowDuration, det.Velocity.HistorySize),
		dark:        NewDarkPoolTracker(det.DarkPool.Venue, det.DarkPool.SizeThreshold),
		phantomGate: NewGate(det.PhantomCooldown, 0),
		rthGate:     NewGate(det.RTHCooldown, 0),
		velGate:     NewGate(det.Velocity.Cooldown, det.Velocity.ConfirmationWindows),
		alerts:      alerts,
		store:       store,
		daylog:      daylog,
	}, nil
}

// Start launches the single processing worker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"symbol":     e.config.Feed.Symbol,
		"prev_low":   e.phantom.Reference().Low,
		"prev_high":  e.phantom.Reference().High,
		"ref_source": e.phantom.Reference().Source,
	}).Info("starting classification engine")

	e.wg.Add(1)
	go e.run()

	log.Info("classification engine started successfully")
	return nil
}

// Stop flushes pending summaries and waits for the worker to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.log.WithComponent("engine").Info("stopping classification engine")
	e.FlushSummaries("shutdown")
	e.wg.Wait()
	e.log.WithComponent("engine").Info("classification engine stopped")
}

// FlushSummaries emits the dark pool summary and flushes the day log. Called
// on disconnect, day rollover and shutdown so an interrupted day still
// reports what it accumulated.
func (e *Engine) FlushSummaries(reason string) {
	e.mu.Lock()
	summary := e.dark.Summarize()
	e.mu.Unlock()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"reason": reason})
	if summary.Count > 0 {
		log.WithFields(logger.Fields{
			"blocks":         summary.Count,
			"total_volume":   summary.TotalVolume,
			"total_notional": summary.TotalNotional,
		}).Info("dark pool summary")
		e.dispatch("Dark Pool Summary", formatDarkPoolSummary(summary, reason))
	}
	if e.daylog != nil {
		e.daylog.Flush(reason)
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	log := e.log.WithComponent("engine").WithFields(logger.Fields{"worker": "classifier"})

	for {
		select {
		case <-e.ctx.Done():
			log.Info("classifier stopped due to context cancellation")
			return
		case trade, ok := <-e.trades:
			if !ok {
				log.Info("trade channel closed, classifier stopping")
				return
			}
			e.mu.Lock()
			e.processTrade(trade)
			e.mu.Unlock()
		}
	}
}

// processTrade runs the full classification pass for one trade. Evaluation
// order is load-bearing: the range snapshot is taken before any detector
// runs, and the range update is applied only after the phantom verdict so an
// outlier cannot redefine the range it is judged against.
func (e *Engine) processTrade(trade models.Trade) {
	log := e.log.WithComponent("engine")

	// Malformed input: discard before any state mutation.
	if trade.Price <= 0 {
		log.WithFields(logger.Fields{"sequence": trade.Sequence}).Debug("discarding trade with invalid price")
		return
	}

	now := trade.SIPTime()
	e.rolloverIfNeeded(now)

	bucket := e.clock.Bucket(now)
	daySnap, bucketSnap := e.tracker.Snapshot(bucket)

	if unknown := e.phantom.UnknownConditions(trade.Conditions); len(unknown) > 0 {
		log.WithFields(logger.Fields{
			"conditions": unknown,
			"price":      trade.Price,
			"sequence":   trade.Sequence,
		}).Warn("unknown condition codes on trade")
	}

	e.tradesSeen++
	ignored := e.phantom.HasIgnored(trade.Conditions)

	log.WithFields(logger.Fields{
		"price":  trade.Price,
		"size":   trade.Size,
		"bucket": bucket.String(),
	}).Debug("trade")

	e.observeVelocity(trade, daySnap, now)

	verdict := e.phantom.Classify(trade.Price, trade.Conditions, daySnap, e.tradesSeen)
	if verdict.IsPhantom {
		e.handlePhantom(trade, verdict, daySnap, now)
	} else {
		// Phantom prints never widen the session ranges.
		e.tracker.Apply(trade.Price, bucket)
	}

	if !ignored && e.dark.Qualifies(trade) {
		rec := e.dark.Record(trade)
		log.WithFields(logger.Fields{
			"price":    rec.Price,
			"size":     rec.Size,
			"notional": rec.Notional,
		}).Info("large dark pool print")
		e.dispatch("Large Dark Pool Print", formatDarkPool(rec))
		e.appendDayLog("dark_pool", trade)
	}

	if trade.Size == 0 {
		e.appendDayLog("zero_size", trade)
	}

	if bucket == models.BucketRegular && !ignored && !verdict.IsPhantom {
		e.checkBreakout(trade, bucketSnap, now)
	}
}

func (e *Engine) observeVelocity(trade models.Trade, daySnap models.Range, now time.Time) {
	vcfg := e.config.Detection.Velocity
	if !vcfg.Enabled || e.phantom.HasIgnored(trade.Conditions) {
		return
	}

	sessionHigh, sessionLow := trade.Price, trade.Price
	if daySnap.Set {
		sessionHigh, sessionLow = daySnap.High, daySnap.Low
	}

	rolled := e.agg.Add(trade.Price, trade.Size, sessionHigh, sessionLow, now)
	if !rolled {
		return
	}
	if !e.clock.InRegularCore(now, vcfg.EdgeMargin) {
		return
	}

	diverged, alert := DetectDivergence(e.agg.History(), vcfg, daySnap)
	if !diverged {
		e.velGate.Reset()
		return
	}
	if !e.velGate.Confirm(now) {
		return
	}

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"direction":       alert.Direction,
		"price":           alert.Price,
		"trade_vel_drop":  alert.TradeVelDropPct,
		"volume_vel_drop": alert.VolumeVelDropPct,
	}).Info("velocity divergence detected")
	e.log.LogMetric("engine", "velocity_divergence", 1, logger.Fields{"direction": alert.Direction})
	e.dispatch("Velocity Divergence Detected", formatVelocity(alert))
}

func (e *Engine) handlePhantom(trade models.Trade, verdict PhantomVerdict, daySnap models.Range, now time.Time) {
	rec := models.PhantomRecord{
		DetectedAt:   time.Now(),
		SIPTimestamp: trade.SIPTimestamp,
		TRFTimestamp: trade.TRFTimestamp,
		Price:        trade.Price,
		Size:         trade.Size,
		Conditions:   trade.Conditions,
		Exchange:     trade.Exchange,
		Sequence:     trade.Sequence,
		TRFID:        trade.TRFID,
		Distance:     verdict.Distance,
		PrevRange:    models.Range{Low: e.phantom.Reference().Low, High: e.phantom.Reference().High, Set: true},
		DayRange:     daySnap,
	}

	newWindow := e.phantomGate.Fire(now)

	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"price":      trade.Price,
		"size":       trade.Size,
		"conditions": trade.Conditions,
		"exchange":   trade.Exchange,
		"sequence":   trade.Sequence,
		"distance":   verdict.Distance,
		"new_window": newWindow,
	})
	if newWindow {
		log.Info("phantom print detected, new alert window open")
	} else {
		log.Info("phantom print detected within cooldown window")
	}
	e.log.LogMetric("engine", "phantom_prints", 1, nil)

	// Every detection is dispatched and persisted; only the window-open
	// marker is cooldown gated.
	e.dispatch("Phantom Print Detected", formatPhantom(rec, newWindow))

	if e.store != nil {
		go func() {
			ctx := context.WithoutCancel(e.ctx)
			if err := e.store.Insert(ctx, rec); err != nil {
				e.log.WithComponent("engine").WithError(err).Error("failed to persist phantom record")
			}
		}()
	}
}

func (e *Engine) checkBreakout(trade models.Trade, rthSnap models.Range, now time.Time) {
	if !rthSnap.Set {
		return
	}
	buffer := e.config.Detection.RTHBreakBuffer
	breakout := trade.Price > rthSnap.High+buffer || trade.Price < rthSnap.Low-buffer
	if !breakout || !e.rthGate.Fire(now) {
		return
	}

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"price":    trade.Price,
		"size":     trade.Size,
		"rth_low":  rthSnap.Low,
		"rth_high": rthSnap.High,
	}).Info("rth breakout")
	e.dispatch("RTH Breakout", formatBreakout(trade, rthSnap))
}

// rolloverIfNeeded resets all per-day state when the trading date changes.
// The day just ended promotes its observed range to the new reference when it
// was established.
func (e *Engine) rolloverIfNeeded(now time.Time) {
	day := e.clock.TradingDay(now)
	if e.tradingDay == day {
		return
	}
	if e.tradingDay == "" {
		e.tradingDay = day
		return
	}

	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"previous_day": e.tradingDay,
		"new_day":      day,
	})
	log.Info("trading day rollover")

	summary := e.dark.Summarize()
	if summary.Count > 0 {
		e.dispatch("Dark Pool Summary", formatDarkPoolSummary(summary, "day_rollover"))
	}
	if e.daylog != nil {
		e.daylog.Flush("day_rollover")
	}

	if prev := e.tracker.Day(); prev.Set {
		e.phantom.SetReference(models.ReferenceRange{
			Low:    prev.Low,
			High:   prev.High,
			AsOf:   e.tradingDay,
			Source: "session",
		})
		log.WithFields(logger.Fields{"low": prev.Low, "high": prev.High}).Info("promoted session range to reference range")
	}

	e.tracker.Reset()
	e.agg.Reset()
	e.dark.Reset()
	e.phantomGate = NewGate(e.config.Detection.PhantomCooldown, 0)
	e.rthGate = NewGate(e.config.Detection.RTHCooldown, 0)
	e.velGate = NewGate(e.config.Detection.Velocity.Cooldown, e.config.Detection.Velocity.ConfirmationWindows)
	e.tradesSeen = 0
	e.tradingDay = day
}

func (e *Engine) dispatch(title, message string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Dispatch(title, message)
}

func (e *Engine) appendDayLog(kind string, trade models.Trade) {
	if e.daylog == nil {
		return
	}
	e.daylog.Append(models.DayLogEntry{
		Kind:       kind,
		Timestamp:  trade.SIPTimestamp,
		Price:      trade.Price,
		Size:       trade.Size,
		Conditions: trade.Conditions,
		Exchange:   trade.Exchange,
		Sequence:   trade.Sequence,
	})
}

func formatPhantom(rec models.PhantomRecord, newWindow bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Price: **$%.2f**\n", rec.Price)
	fmt.Fprintf(&b, "Size: %d\n", rec.Size)
	fmt.Fprintf(&b, "Exchange: %d\n", rec.Exchange)
	fmt.Fprintf(&b, "Conditions: %v\n", rec.Conditions)
	fmt.Fprintf(&b, "Distance from range: $%.2f\n", rec.Distance)
	fmt.Fprintf(&b, "Previous day: [%.2f, %.2f]\n", rec.PrevRange.Low, rec.PrevRange.High)
	if rec.DayRange.Set {
		fmt.Fprintf(&b, "Current range: [%.2f, %.2f]\n", rec.DayRange.Low, rec.DayRange.High)
	} else {
		b.WriteString("Current range: not established\n")
	}
	fmt.Fprintf(&b, "SIP Time: %s\n", time.UnixMilli(rec.SIPTimestamp).UTC().Format(time.RFC3339))
	if rec.TRFTimestamp != 0 {
		fmt.Fprintf(&b, "TRF Time: %s\n", time.UnixMilli(rec.TRFTimestamp).UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Sequence: %d\n", rec.Sequence)
	if newWindow {
		b.WriteString("Alert window: OPEN")
	} else {
		b.WriteString("Alert window: suppressed, still in cooldown")
	}
	return b.String()
}

func formatDarkPool(rec models.DarkPoolRecord) string {
	return fmt.Sprintf(
		"Price: **$%.2f**\nSize: **%d shares**\nNotional: **$%.2f**\nConditions: %v\nSIP Time: %s\nSequence: %d",
		rec.Price, rec.Size, rec.Notional, rec.Conditions,
		time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339), rec.Sequence,
	)
}

func formatDarkPoolSummary(s models.DarkPoolSummary, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Blocks: %d (%s)\n", s.Count, reason)
	fmt.Fprintf(&b, "Total volume: %d shares\n", s.TotalVolume)
	fmt.Fprintf(&b, "Total notional: $%.2f\n", s.TotalNotional)
	fmt.Fprintf(&b, "Mean size: %.0f shares, mean notional: $%.2f\n", s.MeanSize, s.MeanNotional)
	top := s.Ranked
	if len(top) > 5 {
		top = top[:5]
	}
	for i, rec := range top {
		fmt.Fprintf(&b, "#%d $%.2f x %d = $%.2f\n", i+1, rec.Price, rec.Size, rec.Notional)
	}
	for _, lvl := range s.RepeatedLevels {
		fmt.Fprintf(&b, "Repeated level $%.2f: %d prints, %d shares, $%.2f\n", lvl.Price, lvl.Count, lvl.TotalSize, lvl.TotalNotional)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatVelocity(a *models.VelocityAlert) string {
	return fmt.Sprintf(
		"Direction: **%s** at **$%.2f**\nTrade Velocity Drop: **%.1f%%**\nVolume Velocity Drop: **%.1f%%**\nCurrent Window: %d trades, %d shares\nPrevious Avg: %.0f trades per window\nSession Range: [%.2f, %.2f]",
		a.Direction, a.Price, a.TradeVelDropPct, a.VolumeVelDropPct,
		a.CurrentTradeCount, a.CurrentVolume, a.PrevAvgTradesPerWn,
		a.SessionRange.Low, a.SessionRange.High,
	)
}

func formatBreakout(trade models.Trade, rth models.Range) string {
	return fmt.Sprintf(
		"Price: **$%.2f**\nSize: %d\nConditions: %v\nRTH Range: [%.2f, %.2f]",
		trade.Price, trade.Size, trade.Conditions, rth.Low, rth.High,
	)
}
