package engine

import (
	"sort"

	"phantomflow/models"
)

// DarkPoolTracker accumulates qualifying block prints on the designated
// venue. Records are append-only for the trading day; summarization is a
// pure projection and can run any number of times without side effects.
type DarkPoolTracker struct {
	venue         int
	sizeThreshold int64
	records       []models.DarkPoolRecord
}

func NewDarkPoolTracker(venue int, sizeThreshold int64) *DarkPoolTracker {
	return &DarkPoolTracker{venue: venue, sizeThreshold: sizeThreshold}
}

// Qualifies reports whether the trade is a block print on the tracked venue.
// Ignore-condition filtering happens in the engine, which shares the set with
// the phantom detector.
func (t *DarkPoolTracker) Qualifies(trade models.Trade) bool {
	return trade.Exchange == t.venue && trade.Size >= t.sizeThreshold
}

// Record appends the trade and returns the stored record.
func (t *DarkPoolTracker) Record(trade models.Trade) models.DarkPoolRecord {
	rec := models.DarkPoolRecord{
		Timestamp:  trade.SIPTimestamp,
		Price:      trade.Price,
		Size:       trade.Size,
		Notional:   trade.Price * float64(trade.Size),
		Conditions: trade.Conditions,
		Sequence:   trade.Sequence,
	}
	t.records = append(t.records, rec)
	return rec
}

// Count returns the number of records accumulated so far.
func (t *DarkPoolTracker) Count() int {
	return len(t.records)
}

// Reset clears the day's records at rollover.
func (t *DarkPoolTracker) Reset() {
	t.records = nil
}

// Summarize ranks the day's records by notional descending and aggregates
// statistics, surfacing price levels hit by more than one block.
func (t *DarkPoolTracker) Summarize() models.DarkPoolSummary {
	summary := models.DarkPoolSummary{Count: len(t.records)}
	if len(t.records) == 0 {
		return summary
	}

	ranked := make([]models.DarkPoolRecord, len(t.records))
	copy(ranked, t.records)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Notional > ranked[j].Notional
	})
	summary.Ranked = ranked

	levels := make(map[float64]*models.PriceLevel)
	var levelOrder []float64
	for _, rec := range t.records {
		summary.TotalVolume += rec.Size
		summary.TotalNotional += rec.Notional
		lvl, ok := levels[rec.Price]
		if !ok {
			lvl = &models.PriceLevel{Price: rec.Price}
			levels[rec.Price] = lvl
			levelOrder = append(levelOrder, rec.Price)
		}
		lvl.Count++
		lvl.TotalSize += rec.Size
		lvl.TotalNotional += rec.Notional
	}
	summary.MeanSize = float64(summary.TotalVolume) / float64(summary.Count)
	summary.MeanNotional = summary.TotalNotional / float64(summary.Count)

	for _, price := range levelOrder {
		if lvl := levels[price]; lvl.Count > 1 {
			summary.RepeatedLevels = append(summary.RepeatedLevels, *lvl)
		}
	}
	return summary
}
