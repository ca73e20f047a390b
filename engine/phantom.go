package engine

import (
	"math"

	appconfig "phantomflow/config"
	"phantomflow/models"
)

// PhantomDetector classifies trades against the previous session's range and
// the current day's range. Classification is pure: identical inputs always
// produce identical verdicts, so the engine can apply the range update after
// the verdict without feedback.
type PhantomDetector struct {
	outsidePrev  float64
	outsideCur   float64
	warmupTrades int
	ignore       map[int]struct{}
	relevant     map[int]struct{}
	ref          models.ReferenceRange
}

// PhantomVerdict is the outcome of classifying one trade.
type PhantomVerdict struct {
	IsPhantom bool
	// Distance is the minimum absolute distance from the current day range,
	// +Inf when no bound was established yet. Reported on every phantom.
	Distance float64
}

func NewPhantomDetector(cfg appconfig.DetectionConfig, ref models.ReferenceRange) *PhantomDetector {
	return &PhantomDetector{
		outsidePrev:  cfg.OutsidePrevThreshold,
		outsideCur:   cfg.OutsideCurrentGap,
		warmupTrades: cfg.WarmupTrades,
		ignore:       toSet(cfg.IgnoreConditions),
		relevant:     toSet(cfg.RelevantConditions),
		ref:          ref,
	}
}

// SetReference replaces the reference range at day rollover.
func (d *PhantomDetector) SetReference(ref models.ReferenceRange) {
	d.ref = ref
}

// Reference returns the reference range in use.
func (d *PhantomDetector) Reference() models.ReferenceRange {
	return d.ref
}

// Classify evaluates one trade. dayRange must be the full-day range as it
// stood before this trade; tradesSeen is the number of trades observed so far
// including this one.
func (d *PhantomDetector) Classify(price float64, conditions []int, dayRange models.Range, tradesSeen int) PhantomVerdict {
	verdict := PhantomVerdict{Distance: d.distance(price, dayRange)}

	if tradesSeen < d.warmupTrades {
		return verdict
	}
	if !d.conditionsEligible(conditions) {
		return verdict
	}

	outsidePrev := price > d.ref.High+d.outsidePrev || price < d.ref.Low-d.outsidePrev
	if !outsidePrev {
		return verdict
	}

	if !dayRange.Set {
		return verdict
	}
	outsideCurrent := price > dayRange.High+d.outsideCur || price < dayRange.Low-d.outsideCur
	if !outsideCurrent {
		return verdict
	}

	verdict.IsPhantom = true
	return verdict
}

// HasIgnored reports whether any condition code is in the ignore set.
func (d *PhantomDetector) HasIgnored(conditions []int) bool {
	for _, c := range conditions {
		if _, ok := d.ignore[c]; ok {
			return true
		}
	}
	return false
}

// UnknownConditions returns codes that are neither ignored nor
// phantom-relevant. They are treated as neutral but worth a warning.
func (d *PhantomDetector) UnknownConditions(conditions []int) []int {
	var unknown []int
	for _, c := range conditions {
		if _, ok := d.ignore[c]; ok {
			continue
		}
		if _, ok := d.relevant[c]; ok {
			continue
		}
		unknown = append(unknown, c)
	}
	return unknown
}

func (d *PhantomDetector) conditionsEligible(conditions []int) bool {
	if d.HasIgnored(conditions) {
		return false
	}
	for _, c := range conditions {
		if _, ok := d.relevant[c]; ok {
			return true
		}
	}
	return false
}

func (d *PhantomDetector) distance(price float64, dayRange models.Range) float64 {
	if !dayRange.Set {
		return math.Inf(1)
	}
	return math.Min(math.Abs(price-dayRange.High), math.Abs(price-dayRange.Low))
}

func toSet(codes []int) map[int]struct{} {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
