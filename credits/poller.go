// Package credits waits for a purchased credit top-up to land.
//
// The payment provider credits the account asynchronously, so after a
// checkout redirect the balance is polled on a short schedule until it
// rises above the balance seen on return.
package credits

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/pithecene-io/arfor/log"
	"github.com/pithecene-io/arfor/metrics"
	"github.com/pithecene-io/arfor/types"
)

// DefaultSchedule is the delay before each re-fetch.
var DefaultSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	13 * time.Second,
}

// DefaultJitter is the upper bound of the random delay added to each step.
const DefaultJitter = 300 * time.Millisecond

// Refresher fetches the credit profile. client.Client implements it.
type Refresher interface {
	Profile(ctx context.Context) (*types.CreditProfile, error)
}

// Config configures a Poller.
type Config struct {
	Refresher Refresher
	// Schedule overrides DefaultSchedule.
	Schedule []time.Duration
	// Jitter overrides DefaultJitter. Negative disables jitter.
	Jitter  time.Duration
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// Result summarizes one polling session.
type Result struct {
	Initial   int  `json:"initial"`
	Final     int  `json:"final"`
	Attempts  int  `json:"attempts"`
	Increased bool `json:"increased"`
}

// Poller re-fetches the balance until it increases or the schedule runs out.
type Poller struct {
	config Config
	logger *log.Logger

	// sleep and jitter are replaced in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(limit time.Duration) time.Duration
}

// NewPoller creates a Poller.
func NewPoller(cfg Config) (*Poller, error) {
	if cfg.Refresher == nil {
		return nil, errors.New("credits: refresher is required")
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = DefaultJitter
	}
	return &Poller{
		config: cfg,
		logger: cfg.Logger.Named("credits"),
		sleep:  sleep,
		jitter: jitter,
	}, nil
}

// Run records the current balance, then re-fetches after each scheduled
// delay and stops at the first balance above it. Running out of steps is
// not an error; Result.Increased reports the outcome. The only error is
// cancellation of ctx.
func (p *Poller) Run(ctx context.Context) (Result, error) {
	var res Result
	if profile, err := p.fetch(ctx); err == nil {
		res.Initial = profile.CreditsRemaining
	} else {
		p.logger.Debug("initial balance unavailable", map[string]any{"error": err.Error()})
	}
	res.Final = res.Initial

	for _, delay := range p.config.Schedule {
		if err := p.sleep(ctx, delay+p.jitter(p.config.Jitter)); err != nil {
			return res, err
		}
		res.Attempts++

		profile, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			p.logger.Debug("balance refresh failed", map[string]any{"attempt": res.Attempts, "error": err.Error()})
			continue
		}
		res.Final = profile.CreditsRemaining
		if res.Final > res.Initial {
			res.Increased = true
			p.logger.Info("credits arrived", map[string]any{
				"initial":  res.Initial,
				"final":    res.Final,
				"attempts": res.Attempts,
			})
			return res, nil
		}
	}

	p.logger.Info("credit balance unchanged", map[string]any{"balance": res.Final, "attempts": res.Attempts})
	return res, nil
}

func (p *Poller) fetch(ctx context.Context) (*types.CreditProfile, error) {
	p.config.Metrics.IncCreditPoll()
	return p.config.Refresher.Profile(ctx)
}

// IsCheckoutReturn reports whether rawURL is the payment provider's
// success redirect.
func IsCheckoutReturn(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Query().Get("checkout") == "success"
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}
