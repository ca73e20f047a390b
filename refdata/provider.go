package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	appconfig "phantomflow/config"
	"phantomflow/logger"
	"phantomflow/models"

	"github.com/cenkalti/backoff/v4"
)

const maxFetchRetries = 3

// Provider resolves the previous completed session's price range at startup.
// Resolution order: manual override, Tradier daily history, Massive daily
// aggregates. A range is required before any trade can be classified, so a
// total miss is an error the caller must treat as fatal.
type Provider struct {
	config     appconfig.RefdataConfig
	symbol     string
	massiveKey string
	client     *http.Client
	log        *logger.Log

	now func() time.Time
}

// NewProvider creates a reference range provider for one symbol.
func NewProvider(cfg appconfig.RefdataConfig, symbol, massiveKey string) *Provider {
	return &Provider{
		config:     cfg,
		symbol:     symbol,
		massiveKey: massiveKey,
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        logger.GetLogger(),
		now:        time.Now,
	}
}

// Resolve walks the source chain until one yields a range.
func (p *Provider) Resolve(ctx context.Context) (models.ReferenceRange, error) {
	log := p.log.WithComponent("refdata").WithFields(logger.Fields{"symbol": p.symbol})

	if p.config.ManualLow != nil && p.config.ManualHigh != nil {
		ref := models.ReferenceRange{
			Low:    *p.config.ManualLow,
			High:   *p.config.ManualHigh,
			AsOf:   p.now().Format("2006-01-02"),
			Source: "manual",
		}
		log.WithFields(logger.Fields{"low": ref.Low, "high": ref.High}).Info("using manual reference range override")
		return ref, nil
	}

	if p.config.TradierKey != "" {
		ref, err := p.fetchWithRetry(ctx, p.fetchTradier)
		if err == nil {
			log.WithFields(logger.Fields{"low": ref.Low, "high": ref.High, "as_of": ref.AsOf, "source": ref.Source}).Info("resolved reference range")
			return ref, nil
		}
		log.WithError(err).Warn("tradier reference range lookup failed, trying backup")
	}

	if p.massiveKey != "" {
		ref, err := p.fetchWithRetry(ctx, p.fetchMassive)
		if err == nil {
			log.WithFields(logger.Fields{"low": ref.Low, "high": ref.High, "as_of": ref.AsOf, "source": ref.Source}).Info("resolved reference range")
			return ref, nil
		}
		log.WithError(err).Warn("massive reference range lookup failed")
	}

	return models.ReferenceRange{}, fmt.Errorf("no reference range available for %s, set MANUAL_PREV_LOW/MANUAL_PREV_HIGH to override", p.symbol)
}

func (p *Provider) fetchWithRetry(ctx context.Context, fetch func(context.Context) (models.ReferenceRange, error)) (models.ReferenceRange, error) {
	var ref models.ReferenceRange
	op := func() error {
		var err error
		ref, err = fetch(ctx)
		return err
	}
	retry := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), maxFetchRetries)
	if err := backoff.Retry(op, retry); err != nil {
		return models.ReferenceRange{}, err
	}
	return ref, nil
}

type tradierHistory struct {
	History struct {
		Day []struct {
			Date string  `json:"date"`
			High float64 `json:"high"`
			Low  float64 `json:"low"`
		} `json:"day"`
	} `json:"history"`
}

// fetchTradier pulls daily history and takes the most recent bar strictly
// before today.
func (p *Provider) fetchTradier(ctx context.Context) (models.ReferenceRange, error) {
	today := p.now().Format("2006-01-02")
	start := p.now().AddDate(0, 0, -p.config.LookbackDays).Format("2006-01-02")

	endpoint := fmt.Sprintf("%s/v1/markets/history?symbol=%s&interval=daily&start=%s&end=%s",
		p.config.TradierURL, url.QueryEscape(p.symbol), start, today)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.ReferenceRange{}, fmt.Errorf("failed to build tradier request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.TradierKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.ReferenceRange{}, fmt.Errorf("tradier request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.ReferenceRange{}, fmt.Errorf("tradier returned status %d", resp.StatusCode)
	}

	var hist tradierHistory
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		return models.ReferenceRange{}, fmt.Errorf("failed to decode tradier history: %w", err)
	}

	for i := len(hist.History.Day) - 1; i >= 0; i-- {
		bar := hist.History.Day[i]
		if bar.Date >= today {
			continue
		}
		if bar.Low <= 0 || bar.High <= 0 || bar.Low > bar.High {
			continue
		}
		return models.ReferenceRange{Low: bar.Low, High: bar.High, AsOf: bar.Date, Source: "tradier"}, nil
	}
	return models.ReferenceRange{}, fmt.Errorf("tradier history holds no completed session")
}

type massiveAggs struct {
	Results []struct {
		Timestamp int64   `json:"t"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
	} `json:"results"`
}

// fetchMassive pulls daily aggregates and takes the second-to-last bar, since
// the last one may be the session in progress.
func (p *Provider) fetchMassive(ctx context.Context) (models.ReferenceRange, error) {
	to := p.now().Format("2006-01-02")
	from := p.now().AddDate(0, 0, -p.config.LookbackDays).Format("2006-01-02")

	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&apiKey=%s",
		p.config.MassiveURL, url.PathEscape(p.symbol), from, to, url.QueryEscape(p.massiveKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.ReferenceRange{}, fmt.Errorf("failed to build massive request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.ReferenceRange{}, fmt.Errorf("massive request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.ReferenceRange{}, fmt.Errorf("massive returned status %d", resp.StatusCode)
	}

	var aggs massiveAggs
	if err := json.NewDecoder(resp.Body).Decode(&aggs); err != nil {
		return models.ReferenceRange{}, fmt.Errorf("failed to decode massive aggregates: %w", err)
	}
	if len(aggs.Results) == 0 {
		return models.ReferenceRange{}, fmt.Errorf("massive aggregates are empty")
	}

	bar := aggs.Results[len(aggs.Results)-1]
	if len(aggs.Results) >= 2 {
		bar = aggs.Results[len(aggs.Results)-2]
	}
	if bar.Low <= 0 || bar.High <= 0 || bar.Low > bar.High {
		return models.ReferenceRange{}, fmt.Errorf("massive aggregates hold no usable bar")
	}
	return models.ReferenceRange{
		Low:    bar.Low,
		High:   bar.High,
		AsOf:   time.UnixMilli(bar.Timestamp).UTC().Format("2006-01-02"),
		Source: "massive",
	}, nil
}
