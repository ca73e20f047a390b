package engine

import "phantomflow/models"

// SessionRangeTracker maintains price extremes for the full trading day and
// for each sub-session. Reads always observe the state excluding the trade
// being classified: callers snapshot first and apply the update only after
// classification decided the print is genuine.
type SessionRangeTracker struct {
	day        models.Range
	preMarket  models.Range
	regular    models.Range
	afterHours models.Range
}

func NewSessionRangeTracker() *SessionRangeTracker {
	return &SessionRangeTracker{}
}

// Snapshot returns copies of the full-day range and the range of the given
// bucket as they stand right now.
func (t *SessionRangeTracker) Snapshot(bucket models.SessionBucket) (day, session models.Range) {
	return t.day, *t.bucketRange(bucket)
}

// Apply widens the full-day range and the matching bucket's range. Trades
// outside any session bucket only widen the full-day range.
func (t *SessionRangeTracker) Apply(price float64, bucket models.SessionBucket) {
	t.day.Widen(price)
	if bucket != models.BucketNone {
		t.bucketRange(bucket).Widen(price)
	}
}

// Observe snapshots the ranges as they stood before this call, then applies
// the update. The returned ranges therefore depend only on earlier trades.
func (t *SessionRangeTracker) Observe(price float64, bucket models.SessionBucket) (day, session models.Range) {
	day, session = t.Snapshot(bucket)
	t.Apply(price, bucket)
	return day, session
}

// Day returns the current full-day range.
func (t *SessionRangeTracker) Day() models.Range {
	return t.day
}

// Regular returns the current regular-session range.
func (t *SessionRangeTracker) Regular() models.Range {
	return t.regular
}

// Reset clears all ranges at day rollover.
func (t *SessionRangeTracker) Reset() {
	*t = SessionRangeTracker{}
}

func (t *SessionRangeTracker) bucketRange(bucket models.SessionBucket) *models.Range {
	switch bucket {
	case models.BucketPreMarket:
		return &t.preMarket
	case models.BucketRegular:
		return &t.regular
	case models.BucketAfterHours:
		return &t.afterHours
	default:
		// BucketNone has no session range; hand back a throwaway so
		// callers can widen it without effect.
		r := models.Range{}
		return &r
	}
}
