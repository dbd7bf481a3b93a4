package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jamiemccourt800/TCG-Sentinel/internal/alert"
	"github.com/jamiemccourt800/TCG-Sentinel/internal/state"
)

// Transport is the minimal contract a notification channel must satisfy.
type Transport interface {
	Name() string
	Send(ctx context.Context, a alert.Alert) error
}

// Result is the terminal outcome of one alert on one transport.
type Result struct {
	Transport string
	Delivered bool
	Attempts  int
	Err       error
}

// Options tune retry behaviour.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	SendTimeout    time.Duration
}

// Dispatcher fans an alert out to every configured transport. Transports
// run in parallel; one failing never blocks another. Delivery is
// at-least-once per transport, so messages must read sensibly when
// duplicated by a retry after partial success.
type Dispatcher struct {
	transports []Transport
	store      state.Store
	opts       Options
	logger     zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New constructs a Dispatcher over the given transports.
func New(transports []Transport, store state.Store, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * time.Second
	}
	return &Dispatcher{
		transports: transports,
		store:      store,
		opts:       opts,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
		sleep:      sleepCtx,
	}
}

// Dispatch delivers the alert on every transport and records each outcome.
// An exhausted transport ends up in the audit trail as failed; the alert
// itself is never regenerated or resent beyond the attempt limit.
func (d *Dispatcher) Dispatch(ctx context.Context, a alert.Alert) []Result {
	results := make([]Result, len(d.transports))

	var wg sync.WaitGroup
	for i, transport := range d.transports {
		wg.Add(1)
		go func(i int, transport Transport) {
			defer wg.Done()
			results[i] = d.deliver(ctx, transport, a)
		}(i, transport)
	}
	wg.Wait()

	for _, result := range results {
		d.record(ctx, a, result)
	}
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, transport Transport, a alert.Alert) Result {
	result := Result{Transport: transport.Name()}
	backoff := d.opts.InitialBackoff

	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		sendCtx := ctx
		cancel := func() {}
		if d.opts.SendTimeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		}
		err := transport.Send(sendCtx, a)
		cancel()

		if err == nil {
			result.Delivered = true
			return result
		}
		result.Err = err

		d.logger.Warn().Err(err).Str("transport", transport.Name()).
			Str("alert_id", a.ID).Int("attempt", attempt).Msg("delivery attempt failed")

		if attempt == d.opts.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, backoff); err != nil {
			result.Err = err
			break
		}
		backoff *= 2
	}

	d.logger.Error().Err(result.Err).Str("transport", transport.Name()).
		Str("alert_id", a.ID).Int("attempts", result.Attempts).Msg("delivery failed, retries exhausted")
	return result
}

func (d *Dispatcher) record(ctx context.Context, a alert.Alert, result Result) {
	if d.store == nil {
		return
	}

	status := state.DeliveryDelivered
	lastError := ""
	if !result.Delivered {
		status = state.DeliveryFailed
		if result.Err != nil {
			lastError = result.Err.Error()
		}
	}

	delivery := state.Delivery{
		ID:        uuid.NewString(),
		AlertID:   a.ID,
		Transport: result.Transport,
		Status:    status,
		Attempts:  result.Attempts,
		LastError: lastError,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.RecordDelivery(ctx, delivery); err != nil {
		d.logger.Error().Err(err).Str("alert_id", a.ID).
			Str("transport", result.Transport).Msg("failed to record delivery outcome")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
