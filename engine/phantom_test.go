package engine

import (
	"math"
	"testing"

	appconfig "phantomflow/config"
	"phantomflow/models"
)

func phantomConfig() appconfig.DetectionConfig {
	return appconfig.DetectionConfig{
		WarmupTrades:         100,
		OutsidePrevThreshold: 0.10,
		OutsideCurrentGap:    0.25,
		IgnoreConditions:     []int{0, 1, 4, 9, 14, 19, 53},
		RelevantConditions:   []int{2, 3, 7, 8, 10, 12, 13, 15, 16, 17, 20, 21, 22, 25, 26, 28, 29, 30, 33, 34, 37, 41, 62},
	}
}

func refRange(low, high float64) models.ReferenceRange {
	return models.ReferenceRange{Low: low, High: high, AsOf: "2026-08-28", Source: "test"}
}

func establishedRange(low, high float64) models.Range {
	return models.Range{Low: low, High: high, Set: true}
}

func TestClassifyEndToEndThresholdArithmetic(t *testing.T) {
	// Reference [99.00, 101.50], threshold 0.10 -> outside above 101.60.
	// Day range [100.00, 101.00], gap 0.25 -> far outside above 101.25.
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	day := establishedRange(100.00, 101.00)

	v := d.Classify(102.00, []int{2}, day, 100)
	if !v.IsPhantom {
		t.Fatalf("102.00 on trade 100 should be phantom")
	}
	if math.Abs(v.Distance-1.00) > 1e-9 {
		t.Fatalf("distance should be 1.00 from day high, got %v", v.Distance)
	}
}

func TestClassifyWarmupBoundary(t *testing.T) {
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	day := establishedRange(100.00, 101.00)

	if v := d.Classify(102.00, []int{2}, day, 99); v.IsPhantom {
		t.Fatalf("trade 99 is still inside warmup")
	}
	if v := d.Classify(102.00, []int{2}, day, 100); !v.IsPhantom {
		t.Fatalf("trade 100 should have detection active")
	}
}

func TestClassifyStrictPreviousRangeBoundary(t *testing.T) {
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	day := establishedRange(95.00, 101.00)

	// Exactly referenceHigh + threshold is NOT outside-previous.
	if v := d.Classify(101.60, []int{2}, day, 1000); v.IsPhantom {
		t.Fatalf("price exactly at reference-high + threshold must not be phantom")
	}
	if v := d.Classify(101.61, []int{2}, day, 1000); !v.IsPhantom {
		t.Fatalf("price a cent beyond reference-high + threshold should be phantom")
	}
}

func TestClassifyRequiresEstablishedDayRange(t *testing.T) {
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	v := d.Classify(150.00, []int{2}, models.Range{}, 1000)
	if v.IsPhantom {
		t.Fatalf("no phantom before the day range is established")
	}
	if !math.IsInf(v.Distance, 1) {
		t.Fatalf("distance should be +Inf without bounds, got %v", v.Distance)
	}
}

func TestClassifyConditionGating(t *testing.T) {
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	day := establishedRange(100.00, 101.00)

	if v := d.Classify(105.00, []int{6}, day, 1000); v.IsPhantom {
		t.Fatalf("trade without a phantom-relevant condition must not be phantom")
	}
	if v := d.Classify(105.00, []int{2, 4}, day, 1000); v.IsPhantom {
		t.Fatalf("trade carrying an ignored condition must not be phantom")
	}
	if v := d.Classify(105.00, []int{2, 6}, day, 1000); !v.IsPhantom {
		t.Fatalf("unknown codes are neutral; relevant code should make it eligible")
	}
}

func TestClassifyBelowRange(t *testing.T) {
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	day := establishedRange(100.00, 101.00)

	if v := d.Classify(98.50, []int{2}, day, 1000); !v.IsPhantom {
		t.Fatalf("98.50 is beyond both the reference low and the day low gap")
	}
	if v := d.Classify(98.95, []int{2}, day, 1000); v.IsPhantom {
		t.Fatalf("98.95 is inside the reference threshold below 99.00")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	day := establishedRange(100.00, 101.00)
	first := d.Classify(102.00, []int{2}, day, 200)
	for i := 0; i < 10; i++ {
		if got := d.Classify(102.00, []int{2}, day, 200); got != first {
			t.Fatalf("classification must be pure: %+v != %+v", got, first)
		}
	}
}

func TestUnknownConditions(t *testing.T) {
	d := NewPhantomDetector(phantomConfig(), refRange(99.00, 101.50))
	unknown := d.UnknownConditions([]int{2, 4, 99})
	if len(unknown) != 1 || unknown[0] != 99 {
		t.Fatalf("expected only code 99 to be unknown, got %v", unknown)
	}
}
