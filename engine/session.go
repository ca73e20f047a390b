package engine

import (
	"fmt"
	"time"

	appconfig "phantomflow/config"
	"phantomflow/models"
)

// SessionClock classifies timestamps into trading-day sub-sessions using the
// exchange's local time.
type SessionClock struct {
	loc        *time.Location
	preOpen    int // seconds since local midnight
	rthOpen    int
	rthClose   int
	ahClose    int
}

// NewSessionClock builds a clock from the configured session boundaries.
func NewSessionClock(cfg appconfig.SessionsConfig) (*SessionClock, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}
	preOpen, err := appconfig.ParseClock(cfg.PreMarketOpen)
	if err != nil {
		return nil, err
	}
	rthOpen, err := appconfig.ParseClock(cfg.RegularOpen)
	if err != nil {
		return nil, err
	}
	rthClose, err := appconfig.ParseClock(cfg.RegularClose)
	if err != nil {
		return nil, err
	}
	ahClose, err := appconfig.ParseClock(cfg.AfterHoursClose)
	if err != nil {
		return nil, err
	}
	return &SessionClock{
		loc:      loc,
		preOpen:  preOpen,
		rthOpen:  rthOpen,
		rthClose: rthClose,
		ahClose:  ahClose,
	}, nil
}

// Local converts t into the exchange's local time.
func (c *SessionClock) Local(t time.Time) time.Time {
	return t.In(c.loc)
}

// TradingDay returns the local calendar date for t, used for day rollover.
func (c *SessionClock) TradingDay(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// Bucket classifies t into a session bucket. The after-hours close boundary
// is inclusive, everything else is half-open.
func (c *SessionClock) Bucket(t time.Time) models.SessionBucket {
	lt := t.In(c.loc)
	sec := lt.Hour()*3600 + lt.Minute()*60 + lt.Second()
	switch {
	case sec >= c.preOpen && sec < c.rthOpen:
		return models.BucketPreMarket
	case sec >= c.rthOpen && sec < c.rthClose:
		return models.BucketRegular
	case sec >= c.rthClose && sec <= c.ahClose:
		return models.BucketAfterHours
	default:
		return models.BucketNone
	}
}

// InRegularCore reports whether t is inside the regular session excluding the
// first and last margin around the open and close.
func (c *SessionClock) InRegularCore(t time.Time, margin time.Duration) bool {
	lt := t.In(c.loc)
	sec := lt.Hour()*3600 + lt.Minute()*60 + lt.Second()
	m := int(margin / time.Second)
	return sec > c.rthOpen+m && sec < c.rthClose-m
}
