package refdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	appconfig "phantomflow/config"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
}

func providerConfig(tradierURL, massiveURL string) appconfig.RefdataConfig {
	return appconfig.RefdataConfig{
		TradierURL:   tradierURL,
		TradierKey:   "tk",
		MassiveURL:   massiveURL,
		LookbackDays: 7,
		Timeout:      2 * time.Second,
	}
}

func TestResolveManualOverride(t *testing.T) {
	low, high := 99.0, 101.5
	cfg := providerConfig("", "")
	cfg.TradierKey = ""
	cfg.ManualLow = &low
	cfg.ManualHigh = &high

	p := NewProvider(cfg, "SPY", "")
	p.now = fixedNow

	ref, err := p.Resolve(context.Background())
	if err != nil {
		t.Fatalf("manual override should always resolve: %v", err)
	}
	if ref.Low != 99.0 || ref.High != 101.5 || ref.Source != "manual" {
		t.Fatalf("unexpected range: %+v", ref)
	}
}

func TestResolveTradierSkipsTodayBar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"history":{"day":[
			{"date":"2026-08-26","high":100.9,"low":99.1},
			{"date":"2026-08-27","high":101.5,"low":99.0},
			{"date":"2026-08-28","high":103.0,"low":98.0}
		]}}`))
	}))
	defer srv.Close()

	p := NewProvider(providerConfig(srv.URL, ""), "SPY", "")
	p.now = fixedNow

	ref, err := p.Resolve(context.Background())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	if ref.AsOf != "2026-08-27" || ref.Low != 99.0 || ref.High != 101.5 || ref.Source != "tradier" {
		t.Fatalf("should take the last completed session: %+v", ref)
	}
}

func TestResolveFallsBackToMassive(t *testing.T) {
	tradier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer tradier.Close()

	day27 := time.Date(2026, 8, 27, 4, 0, 0, 0, time.UTC).UnixMilli()
	day28 := time.Date(2026, 8, 28, 4, 0, 0, 0, time.UTC).UnixMilli()
	massive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apiKey") != "mk" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"results":[
			{"t":` + strconv.FormatInt(day27, 10) + `,"h":101.5,"l":99.0},
			{"t":` + strconv.FormatInt(day28, 10) + `,"h":103.0,"l":98.0}
		]}`))
	}))
	defer massive.Close()

	p := NewProvider(providerConfig(tradier.URL, massive.URL), "SPY", "mk")
	p.now = fixedNow

	ref, err := p.Resolve(context.Background())
	if err != nil {
		t.Fatalf("failed to resolve: %v", err)
	}
	if ref.Source != "massive" || ref.AsOf != "2026-08-27" || ref.High != 101.5 {
		t.Fatalf("should take the second-to-last aggregate bar: %+v", ref)
	}
}

func TestResolveAllSourcesExhausted(t *testing.T) {
	cfg := providerConfig("", "")
	cfg.TradierKey = ""
	p := NewProvider(cfg, "SPY", "")
	p.now = fixedNow

	if _, err := p.Resolve(context.Background()); err == nil {
		t.Fatalf("resolve without any source must fail")
	}
}
