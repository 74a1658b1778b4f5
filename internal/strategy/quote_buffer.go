package strategy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"cryptoblade/internal/models"
)

// ErrInconsistentData is returned when an incoming candle does not extend the buffer contiguously.
var ErrInconsistentData = errors.New("inconsistent candle data")

// QuoteBuffer keeps the most recent closed candles for one symbol in open-time order.
type QuoteBuffer struct {
	mu       sync.RWMutex
	candles  []models.Candle
	capacity int
	interval time.Duration
}

func NewQuoteBuffer(capacity int, interval time.Duration) *QuoteBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &QuoteBuffer{
		candles:  make([]models.Candle, 0, capacity),
		capacity: capacity,
		interval: interval,
	}
}

// Reset replaces the buffer with history. The history itself must be contiguous.
func (b *QuoteBuffer) Reset(history []models.Candle) error {
	for i := 1; i < len(history); i++ {
		if !history[i].OpenTime.Equal(history[i-1].OpenTime.Add(b.interval)) {
			return fmt.Errorf("%w: history gap at %s", ErrInconsistentData, history[i].OpenTime.Format(time.RFC3339))
		}
	}
	if len(history) > b.capacity {
		history = history[len(history)-b.capacity:]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles = append(b.candles[:0], history...)
	return nil
}

// Add appends a closed candle. A candle that does not open exactly one interval
// after the last buffered candle is rejected with ErrInconsistentData.
func (b *QuoteBuffer) Add(c models.Candle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.candles); n > 0 {
		last := b.candles[n-1]
		expected := last.OpenTime.Add(b.interval)
		switch {
		case c.OpenTime.Equal(last.OpenTime):
			return fmt.Errorf("%w: duplicate candle %s", ErrInconsistentData, c.OpenTime.Format(time.RFC3339))
		case c.OpenTime.Before(last.OpenTime):
			return fmt.Errorf("%w: out-of-order candle %s", ErrInconsistentData, c.OpenTime.Format(time.RFC3339))
		case !c.OpenTime.Equal(expected):
			return fmt.Errorf("%w: gap between %s and %s", ErrInconsistentData,
				last.OpenTime.Format(time.RFC3339), c.OpenTime.Format(time.RFC3339))
		}
	}

	if len(b.candles) == b.capacity {
		copy(b.candles, b.candles[1:])
		b.candles = b.candles[:len(b.candles)-1]
	}
	b.candles = append(b.candles, c)
	return nil
}

// Candles returns a copy of the buffered candles.
func (b *QuoteBuffer) Candles() []models.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

func (b *QuoteBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles)
}

// Last returns the newest candle.
func (b *QuoteBuffer) Last() (models.Candle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.candles) == 0 {
		return models.Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}

func (b *QuoteBuffer) Capacity() int { return b.capacity }
func (b *QuoteBuffer) Interval() time.Duration { return b.interval }
