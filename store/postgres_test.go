package store

import (
	"context"
	"os"
	"testing"
	"time"

	"phantomflow/models"
)

// Integration test, needs a reachable database.
func TestPhantomStoreInsert(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	ctx := context.Background()
	s, err := NewPhantomStore(ctx, dsn, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	rec := models.PhantomRecord{
		DetectedAt:   time.Now(),
		SIPTimestamp: time.Now().UnixMilli(),
		Price:        102.00,
		Size:         500,
		Conditions:   []int{2, 37},
		Exchange:     4,
		Sequence:     42,
		Distance:     1.00,
		PrevRange:    models.Range{Low: 99.00, High: 101.50, Set: true},
		DayRange:     models.Range{Low: 100.00, High: 101.00, Set: true},
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("failed to insert record: %v", err)
	}

	// A record without TRF data stores NULLs rather than zero timestamps.
	rec.TRFTimestamp = 0
	rec.DayRange = models.Range{}
	rec.Sequence = 43
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("failed to insert sparse record: %v", err)
	}
}
