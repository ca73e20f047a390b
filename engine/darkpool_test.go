package engine

import (
	"testing"

	"phantomflow/models"
)

func blockTrade(price float64, size int64, seq int64) models.Trade {
	return models.Trade{
		Symbol:       "SPY",
		Price:        price,
		Size:         size,
		Exchange:     4,
		SIPTimestamp: 1_700_000_000_000 + seq,
		Sequence:     seq,
	}
}

func TestQualifies(t *testing.T) {
	tr := NewDarkPoolTracker(4, 100000)

	if !tr.Qualifies(blockTrade(10, 100000, 1)) {
		t.Fatalf("block at threshold on venue 4 should qualify")
	}
	if tr.Qualifies(blockTrade(10, 99999, 2)) {
		t.Fatalf("size below threshold must not qualify")
	}
	small := blockTrade(10, 100000, 3)
	small.Exchange = 11
	if tr.Qualifies(small) {
		t.Fatalf("other venues must not qualify")
	}
}

func TestSummarizeRankingAndLevels(t *testing.T) {
	tr := NewDarkPoolTracker(4, 100000)
	tr.Record(blockTrade(10, 100000, 1)) // notional 1,000,000
	tr.Record(blockTrade(10, 150000, 2)) // notional 1,500,000
	tr.Record(blockTrade(12, 200000, 3)) // notional 2,400,000

	s := tr.Summarize()
	if s.Count != 3 || s.TotalVolume != 450000 {
		t.Fatalf("unexpected aggregates: %+v", s)
	}
	if s.TotalNotional != 4_900_000 {
		t.Fatalf("total notional should be 4.9M, got %v", s.TotalNotional)
	}
	if s.MeanSize != 150000 {
		t.Fatalf("mean size should be 150000, got %v", s.MeanSize)
	}

	// Ranked by notional descending: 12 first, then the two 10s.
	if s.Ranked[0].Price != 12 || s.Ranked[0].Notional != 2_400_000 {
		t.Fatalf("price 12 should rank first: %+v", s.Ranked[0])
	}
	if s.Ranked[1].Notional != 1_500_000 || s.Ranked[2].Notional != 1_000_000 {
		t.Fatalf("price-10 blocks should rank by notional: %+v", s.Ranked[1:])
	}

	if len(s.RepeatedLevels) != 1 {
		t.Fatalf("only price 10 repeats, got %+v", s.RepeatedLevels)
	}
	lvl := s.RepeatedLevels[0]
	if lvl.Price != 10 || lvl.Count != 2 || lvl.TotalSize != 250000 || lvl.TotalNotional != 2_500_000 {
		t.Fatalf("unexpected repeated level: %+v", lvl)
	}
}

func TestSummarizeIdempotent(t *testing.T) {
	tr := NewDarkPoolTracker(4, 100000)
	tr.Record(blockTrade(10, 100000, 1))
	tr.Record(blockTrade(12, 200000, 2))

	first := tr.Summarize()
	second := tr.Summarize()
	if first.Count != second.Count || first.TotalNotional != second.TotalNotional {
		t.Fatalf("summarize must be side-effect free: %+v vs %+v", first, second)
	}
	if tr.Count() != 2 {
		t.Fatalf("records must survive summarization, got %d", tr.Count())
	}
}

func TestSummarizeEmpty(t *testing.T) {
	tr := NewDarkPoolTracker(4, 100000)
	s := tr.Summarize()
	if s.Count != 0 || s.Ranked != nil || s.RepeatedLevels != nil {
		t.Fatalf("empty tracker should produce an empty summary: %+v", s)
	}
}

func TestReset(t *testing.T) {
	tr := NewDarkPoolTracker(4, 100000)
	tr.Record(blockTrade(10, 100000, 1))
	tr.Reset()
	if tr.Count() != 0 {
		t.Fatalf("reset should clear records")
	}
}
