package notify

import (
	"context"
	"fmt"
	"sync"

	appconfig "phantomflow/config"
	"phantomflow/logger"

	"golang.org/x/time/rate"
)

// alert is one queued notification.
type alert struct {
	title   string
	message string
}

// Dispatcher queues alerts and delivers them through a Sender under a rate
// limit. Dispatch never blocks the caller: when the queue is full the alert is
// dropped and counted, since classification latency matters more than any
// single notification.
type Dispatcher struct {
	config  appconfig.AlertingConfig
	sender  Sender
	queue   chan alert
	limiter *rate.Limiter
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// NewDispatcher creates a dispatcher delivering through sender.
func NewDispatcher(cfg appconfig.AlertingConfig, sender Sender) *Dispatcher {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	return &Dispatcher{
		config:  cfg,
		sender:  sender,
		queue:   make(chan alert, 100),
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("alert dispatcher already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	log := d.log.WithComponent("alert_dispatcher").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"sender":          d.sender.Name(),
		"rate_per_minute": d.config.RatePerMinute,
	}).Info("starting alert dispatcher")

	d.wg.Add(1)
	go d.worker()

	log.Info("alert dispatcher started successfully")
	return nil
}

// Stop waits for the delivery worker to exit. Queued alerts that were not yet
// delivered are abandoned.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.log.WithComponent("alert_dispatcher").Info("stopping alert dispatcher")
	d.wg.Wait()
	d.log.WithComponent("alert_dispatcher").Info("alert dispatcher stopped")
}

// Dispatch queues one alert for delivery.
func (d *Dispatcher) Dispatch(title, message string) {
	select {
	case d.queue <- alert{title: title, message: message}:
	default:
		d.log.WithComponent("alert_dispatcher").WithFields(logger.Fields{"title": title}).Warn("alert queue full, dropping alert")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	log := d.log.WithComponent("alert_dispatcher").WithFields(logger.Fields{"worker": "delivery"})

	for {
		select {
		case <-d.ctx.Done():
			return
		case a := <-d.queue:
			if err := d.limiter.Wait(d.ctx); err != nil {
				return
			}
			if err := d.sender.Send(d.ctx, a.title, a.message); err != nil {
				log.WithFields(logger.Fields{"title": a.title}).WithError(err).Error("failed to deliver alert")
				continue
			}
			log.WithFields(logger.Fields{"title": a.title}).Debug("alert delivered")
		}
	}
}
