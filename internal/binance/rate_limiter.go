package binance

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultWeightPerMinute is the USDT-M futures request weight budget per IP
const DefaultWeightPerMinute = 2400

// endpointWeights are the documented request weights the client spends per call
var endpointWeights = map[string]int{
	"/fapi/v1/exchangeInfo":      1,
	"/fapi/v1/klines":            5,
	"/fapi/v1/ticker/bookTicker": 2,
	"/fapi/v1/premiumIndex":      1,
	"/fapi/v1/openOrders":        40,
	"/fapi/v2/positionRisk":      5,
	"/fapi/v2/account":           5,
	"/fapi/v1/leverageBracket":   1,
}

func endpointWeight(endpoint string) int {
	if w, ok := endpointWeights[endpoint]; ok {
		return w
	}
	return 1
}

// WeightLimiter paces requests against the per-minute weight budget and honors
// IP bans announced by the exchange.
type WeightLimiter struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	usedWeight int
	banUntil   time.Time
}

// NewWeightLimiter creates a limiter spending at most weightPerMinute per minute,
// with bursts of up to a tenth of the budget.
func NewWeightLimiter(weightPerMinute int) *WeightLimiter {
	if weightPerMinute <= 0 {
		weightPerMinute = DefaultWeightPerMinute
	}
	burst := weightPerMinute / 10
	if burst < 50 {
		burst = 50
	}
	return &WeightLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(weightPerMinute)/60), burst),
	}
}

// Wait blocks until weight may be spent, the ban has passed, or ctx ends.
func (l *WeightLimiter) Wait(ctx context.Context, weight int) error {
	l.mu.Lock()
	banUntil := l.banUntil
	l.mu.Unlock()

	if wait := time.Until(banUntil); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if weight > l.limiter.Burst() {
		weight = l.limiter.Burst()
	}
	if err := l.limiter.WaitN(ctx, weight); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// WaitN refuses up front when the deadline would pass first
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

// Observe records the X-MBX-USED-WEIGHT-1M header value
func (l *WeightLimiter) Observe(usedWeightHeader string) {
	if usedWeightHeader == "" {
		return
	}
	weight, err := strconv.Atoi(usedWeightHeader)
	if err != nil {
		return
	}
	l.mu.Lock()
	l.usedWeight = weight
	l.mu.Unlock()
}

// Ban blocks all requests until the given time
func (l *WeightLimiter) Ban(until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until.After(l.banUntil) {
		l.banUntil = until
	}
}

// UsedWeight returns the last weight reported by the exchange
func (l *WeightLimiter) UsedWeight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usedWeight
}

var banUntilPattern = regexp.MustCompile(`banned until (\d+)`)

// ParseBanUntilFromError extracts the ban end from a Binance error message
// ("... banned until 1766824120342 ..."). Zero when absent or implausible.
func ParseBanUntilFromError(errMsg string) time.Time {
	m := banUntilPattern.FindStringSubmatch(errMsg)
	if m == nil {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}
	}
	until := time.UnixMilli(ms)
	// should be in the future and not absurdly far away
	if until.After(time.Now()) && until.Before(time.Now().Add(24*time.Hour)) {
		return until
	}
	return time.Time{}
}
