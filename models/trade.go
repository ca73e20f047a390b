package models

import "time"

// SessionBucket identifies which part of the trading day a trade printed in.
type SessionBucket int

const (
	BucketNone SessionBucket = iota
	BucketPreMarket
	BucketRegular
	BucketAfterHours
)

func (b SessionBucket) String() string {
	switch b {
	case BucketPreMarket:
		return "premarket"
	case BucketRegular:
		return "rth"
	case BucketAfterHours:
		return "afterhours"
	default:
		return "none"
	}
}

// RawFeedMessage wraps a raw websocket frame from the trade feed.
type RawFeedMessage struct {
	Symbol   string
	Data     []byte
	Received time.Time
}

// Trade is a single normalized trade print.
type Trade struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Size         int64   `json:"size"`
	Conditions   []int   `json:"conditions"`
	Exchange     int     `json:"exchange"`
	SIPTimestamp int64   `json:"sip_timestamp"` // epoch ms
	TRFTimestamp int64   `json:"trf_timestamp"` // epoch ms, 0 when absent
	Sequence     int64   `json:"sequence"`
	TRFID        int     `json:"trf_id"`
	ReceivedTime int64   `json:"received_time"`
}

// SIPTime returns the exchange timestamp as a time.Time.
func (t Trade) SIPTime() time.Time {
	return time.UnixMilli(t.SIPTimestamp)
}

// Range holds session price extremes. Set is false until the first print
// establishes the range.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
	Set  bool    `json:"set"`
}

// Widen extends the range to include price.
func (r *Range) Widen(price float64) {
	if !r.Set {
		r.Low = price
		r.High = price
		r.Set = true
		return
	}
	if price < r.Low {
		r.Low = price
	}
	if price > r.High {
		r.High = price
	}
}

// ReferenceRange is the previous completed session's extremes.
type ReferenceRange struct {
	Low    float64
	High   float64
	AsOf   string
	Source string
}

// PhantomRecord is the durable record written for every detected phantom.
type PhantomRecord struct {
	DetectedAt   time.Time `json:"detected_at"`
	SIPTimestamp int64     `json:"sip_timestamp"`
	TRFTimestamp int64     `json:"trf_timestamp"`
	Price        float64   `json:"price"`
	Size         int64     `json:"size"`
	Conditions   []int     `json:"conditions"`
	Exchange     int       `json:"exchange"`
	Sequence     int64     `json:"sequence"`
	TRFID        int       `json:"trf_id"`
	Distance     float64   `json:"distance"`
	PrevRange    Range     `json:"prev_range"`
	DayRange     Range     `json:"day_range"`
}

// DarkPoolRecord is one qualifying block print on the dark pool venue.
type DarkPoolRecord struct {
	Timestamp  int64   `json:"timestamp"`
	Price      float64 `json:"price"`
	Size       int64   `json:"size"`
	Notional   float64 `json:"notional"`
	Conditions []int   `json:"conditions"`
	Sequence   int64   `json:"sequence"`
}

// PriceLevel aggregates dark pool records printed at an identical price.
type PriceLevel struct {
	Price         float64 `json:"price"`
	Count         int     `json:"count"`
	TotalSize     int64   `json:"total_size"`
	TotalNotional float64 `json:"total_notional"`
}

// DarkPoolSummary is the read-only projection over a day's block records.
type DarkPoolSummary struct {
	Count          int              `json:"count"`
	TotalVolume    int64            `json:"total_volume"`
	TotalNotional  float64          `json:"total_notional"`
	MeanSize       float64          `json:"mean_size"`
	MeanNotional   float64          `json:"mean_notional"`
	Ranked         []DarkPoolRecord `json:"ranked"`
	RepeatedLevels []PriceLevel     `json:"repeated_levels"`
}

// VelocityAlert carries the context of a confirmed velocity divergence.
type VelocityAlert struct {
	Direction          string  `json:"direction"` // HIGH or LOW
	Price              float64 `json:"price"`
	TradeVelDropPct    float64 `json:"trade_vel_drop_pct"`
	VolumeVelDropPct   float64 `json:"volume_vel_drop_pct"`
	CurrentTradeCount  int     `json:"current_trade_count"`
	CurrentVolume      int64   `json:"current_volume"`
	PrevAvgTradesPerWn float64 `json:"prev_avg_trades_per_window"`
	SessionRange       Range   `json:"session_range"`
}

// DayLogEntry is one line in the per-day raw print log.
type DayLogEntry struct {
	Kind       string  `json:"kind"` // zero_size or dark_pool
	Timestamp  int64   `json:"timestamp"`
	Price      float64 `json:"price"`
	Size       int64   `json:"size"`
	Conditions []int   `json:"conditions"`
	Exchange   int     `json:"exchange"`
	Sequence   int64   `json:"sequence"`
}
