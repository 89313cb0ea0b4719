package syncer

import "time"

// BackoffConfig is the tiered schedule that paces retries of a
// chronically failing shipment. The tier escalates with how long the
// shipment has already been failing, not with a stored attempt counter.
type BackoffConfig struct {
	Tier1 time.Duration // default: 5 minutes
	Tier2 time.Duration // default: 15 minutes
	Tier3 time.Duration // default: 45 minutes
	Tier4 time.Duration // default: 2 hours
	Tier5 time.Duration // default: 6 hours

	// SuccessInterval is the staleness threshold for re-syncing a healthy
	// shipment. Default: 1 hour.
	SuccessInterval time.Duration
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Tier1:           5 * time.Minute,
		Tier2:           15 * time.Minute,
		Tier3:           45 * time.Minute,
		Tier4:           2 * time.Hour,
		Tier5:           6 * time.Hour,
		SuccessInterval: time.Hour,
	}
}

type Backoff struct {
	cfg BackoffConfig
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Tier1 <= 0 {
		cfg.Tier1 = def.Tier1
	}
	if cfg.Tier2 <= 0 {
		cfg.Tier2 = def.Tier2
	}
	if cfg.Tier3 <= 0 {
		cfg.Tier3 = def.Tier3
	}
	if cfg.Tier4 <= 0 {
		cfg.Tier4 = def.Tier4
	}
	if cfg.Tier5 <= 0 {
		cfg.Tier5 = def.Tier5
	}
	if cfg.SuccessInterval <= 0 {
		cfg.SuccessInterval = def.SuccessInterval
	}
	return &Backoff{cfg: cfg}
}

// TierFor maps the failing duration onto the wait tier. The thresholds
// line up with the next tier's boundary so the wait strictly escalates
// as the failure window grows.
func (b *Backoff) TierFor(failingFor time.Duration) time.Duration {
	switch {
	case failingFor < 15*time.Minute:
		return b.cfg.Tier1
	case failingFor < 45*time.Minute:
		return b.cfg.Tier2
	case failingFor < 2*time.Hour:
		return b.cfg.Tier3
	case failingFor < 6*time.Hour:
		return b.cfg.Tier4
	default:
		return b.cfg.Tier5
	}
}

// NextRetryAfter computes when a failed shipment becomes due again.
// lastSync is the failed attempt being backed off from; firstFailedAt
// anchors how long the shipment has been failing (nil means this failure
// is the first).
func (b *Backoff) NextRetryAfter(lastSync time.Time, firstFailedAt *time.Time) time.Time {
	var failingFor time.Duration
	if firstFailedAt != nil && lastSync.After(*firstFailedAt) {
		failingFor = lastSync.Sub(*firstFailedAt)
	}
	return lastSync.Add(b.TierFor(failingFor))
}

func (b *Backoff) SuccessInterval() time.Duration {
	return b.cfg.SuccessInterval
}

// Config exposes the normalized schedule so the due-selection query can
// apply the same waits the in-memory gate does.
func (b *Backoff) Config() BackoffConfig {
	return b.cfg
}
