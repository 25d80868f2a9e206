package quote

import (
	"math/rand"
	"sync"
	"time"
)

// Synthesizer produces placeholder quotes in the shape of real ones.
type Synthesizer struct {
	mu   sync.Mutex
	rand *rand.Rand
	now  func() time.Time
}

// NewSynthesizer builds a synthesizer. A nil now uses time.Now.
func NewSynthesizer(seed int64, now func() time.Time) *Synthesizer {
	if now == nil {
		now = time.Now
	}
	return &Synthesizer{rand: rand.New(rand.NewSource(seed)), now: now}
}

func (s *Synthesizer) Spot() Spot {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := 3500 + s.rand.Float64()*1000
	return Spot{
		Price:            price,
		PriceE6:          PriceE6(price),
		Change24h:        (s.rand.Float64() - 0.5) * 200,
		ChangePercent24h: (s.rand.Float64() - 0.5) * 10,
		MarketCap:        420_000_000_000 + s.rand.Float64()*50_000_000_000,
		Volume24h:        15_000_000_000 + s.rand.Float64()*5_000_000_000,
		LastUpdated:      s.now().UTC(),
	}
}

// History returns 7 daily points ending now, oldest first.
func (s *Synthesizer) History() []PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	base := 3500 + s.rand.Float64()*1000
	points := make([]PricePoint, 0, 7)
	for i := 6; i >= 0; i-- {
		variation := (s.rand.Float64() - 0.5) * 200
		price := roundCents(base + variation + (s.rand.Float64()-0.5)*100)
		points = append(points, PricePoint{
			Timestamp: now.AddDate(0, 0, -i).UnixMilli(),
			Price:     price,
			PriceE6:   PriceE6(price),
		})
	}
	return points
}
