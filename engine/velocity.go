package engine

import (
	"time"

	appconfig "phantomflow/config"
	"phantomflow/models"
)

// VelocityWindow accumulates trades over one fixed-duration interval.
type VelocityWindow struct {
	Start        time.Time
	End          time.Time
	TradeCount   int
	TotalVolume  int64
	HighestPrice float64
	LowestPrice  float64
	MadeNewHigh  bool
	MadeNewLow   bool

	priceSet bool
}

func newVelocityWindow(start time.Time, duration time.Duration) *VelocityWindow {
	return &VelocityWindow{Start: start, End: start.Add(duration)}
}

// AddTrade records one trade. sessionHigh/sessionLow are the session extremes
// as of window start; reaching either flags the window as having made a new
// extreme.
func (w *VelocityWindow) AddTrade(price float64, size int64, sessionHigh, sessionLow float64) {
	w.TradeCount++
	w.TotalVolume += size

	if !w.priceSet || price > w.HighestPrice {
		w.HighestPrice = price
	}
	if !w.priceSet || price < w.LowestPrice {
		w.LowestPrice = price
	}
	w.priceSet = true

	if price >= sessionHigh {
		w.MadeNewHigh = true
	}
	if price <= sessionLow {
		w.MadeNewLow = true
	}
}

// Complete reports whether the window has elapsed.
func (w *VelocityWindow) Complete(now time.Time) bool {
	return !now.Before(w.End)
}

// TradeVelocity is trades per second over the window duration.
func (w *VelocityWindow) TradeVelocity() float64 {
	d := w.End.Sub(w.Start).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(w.TradeCount) / d
}

// VolumeVelocity is shares per second over the window duration.
func (w *VelocityWindow) VolumeVelocity() float64 {
	d := w.End.Sub(w.Start).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(w.TotalVolume) / d
}

// WindowAggregator rotates velocity windows and keeps a bounded history of
// completed ones, oldest evicted first.
type WindowAggregator struct {
	duration time.Duration
	capacity int
	current  *VelocityWindow
	history  []*VelocityWindow
}

func NewWindowAggregator(duration time.Duration, capacity int) *WindowAggregator {
	return &WindowAggregator{duration: duration, capacity: capacity}
}

// Add routes one trade into the current window, rotating first when the
// window elapsed. It returns true when a completed window was archived by
// this call, which is the signal to evaluate divergence.
func (a *WindowAggregator) Add(price float64, size int64, sessionHigh, sessionLow float64, now time.Time) bool {
	rolled := false
	if a.current == nil {
		a.current = newVelocityWindow(now, a.duration)
	} else if a.current.Complete(now) {
		a.archive(a.current)
		a.current = newVelocityWindow(now, a.duration)
		rolled = true
	}
	a.current.AddTrade(price, size, sessionHigh, sessionLow)
	return rolled
}

// History returns archived windows, oldest first. Callers must not mutate.
func (a *WindowAggregator) History() []*VelocityWindow {
	return a.history
}

// Reset drops all state at day rollover.
func (a *WindowAggregator) Reset() {
	a.current = nil
	a.history = nil
}

func (a *WindowAggregator) archive(w *VelocityWindow) {
	a.history = append(a.history, w)
	if len(a.history) > a.capacity {
		a.history = a.history[1:]
	}
}

// DetectDivergence compares the most recent archived window against the
// average velocity of the preceding confirmation windows. It returns a
// populated alert when both trade and volume velocity dropped by at least the
// threshold while the window made a new session extreme. A zero previous
// average never diverges.
func DetectDivergence(history []*VelocityWindow, cfg appconfig.VelocityConfig, sessionRange models.Range) (bool, *models.VelocityAlert) {
	if len(history) < cfg.ConfirmationWindows+1 {
		return false, nil
	}

	current := history[len(history)-1]
	previous := history[len(history)-1-cfg.ConfirmationWindows : len(history)-1]

	if current.TradeCount < cfg.MinTradesPerWindow {
		return false, nil
	}
	if !current.MadeNewHigh && !current.MadeNewLow {
		return false, nil
	}

	var sumTradeVel, sumVolumeVel float64
	for _, w := range previous {
		sumTradeVel += w.TradeVelocity()
		sumVolumeVel += w.VolumeVelocity()
	}
	avgTradeVel := sumTradeVel / float64(len(previous))
	avgVolumeVel := sumVolumeVel / float64(len(previous))

	if avgTradeVel == 0 || avgVolumeVel == 0 {
		return false, nil
	}

	tradeDrop := 1 - current.TradeVelocity()/avgTradeVel
	volumeDrop := 1 - current.VolumeVelocity()/avgVolumeVel

	if tradeDrop < cfg.DropThreshold || volumeDrop < cfg.DropThreshold {
		return false, nil
	}

	alert := &models.VelocityAlert{
		Direction:          "HIGH",
		Price:              current.HighestPrice,
		TradeVelDropPct:    tradeDrop * 100,
		VolumeVelDropPct:   volumeDrop * 100,
		CurrentTradeCount:  current.TradeCount,
		CurrentVolume:      current.TotalVolume,
		PrevAvgTradesPerWn: avgTradeVel * cfg.WindowDuration.Seconds(),
		SessionRange:       sessionRange,
	}
	if !current.MadeNewHigh {
		alert.Direction = "LOW"
		alert.Price = current.LowestPrice
	}
	return true, alert
}
