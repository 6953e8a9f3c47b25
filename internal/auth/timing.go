package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig controls the response-time padding applied to login outcomes
type TimingConfig struct {
	BaseDelayMs    int
	RandomDelayMs  int
	DelayOnSuccess bool
}

// TimingDelay pads authentication responses so that unknown accounts, wrong
// secrets and lockouts are indistinguishable by latency
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
	since  func(time.Time) time.Duration
}

// NewTimingDelay creates a new TimingDelay
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		sleep:  time.Sleep,
		since:  time.Since,
	}
}

// WaitFrom sleeps until at least base + jitter has elapsed since start,
// unless the outcome is a success and DelayOnSuccess is off
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if td.skip(success) {
		return
	}
	if remaining := td.target() - td.since(start); remaining > 0 {
		td.sleep(remaining)
	}
}

func (td *TimingDelay) skip(success bool) bool {
	return td == nil || (success && !td.config.DelayOnSuccess)
}

func (td *TimingDelay) target() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := cryptoRandIntn(td.config.RandomDelayMs); err == nil {
			delay += time.Duration(n) * time.Millisecond
		}
	}
	return delay
}

// cryptoRandIntn returns a uniform-enough value in [0, n) from crypto/rand
func cryptoRandIntn(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(buf[:]) % uint64(n)), nil
}
