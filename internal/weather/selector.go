package weather

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
)

// Selector picks countries uniformly at random from a list that can be
// replaced while lookups are running.
type Selector struct {
	mu        sync.RWMutex
	countries []string
	intn      func(n int) int
}

// NewSelector returns a selector over countries. intn defaults to
// math/rand/v2.IntN.
func NewSelector(countries []string, intn func(n int) int) (*Selector, error) {
	if intn == nil {
		intn = rand.IntN
	}
	s := &Selector{intn: intn}
	if err := s.Replace(countries); err != nil {
		return nil, err
	}
	return s, nil
}

// Pick returns one country.
func (s *Selector) Pick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countries[s.intn(len(s.countries))]
}

// Replace swaps the country list. An empty list is rejected and the current
// one kept.
func (s *Selector) Replace(countries []string) error {
	if len(countries) == 0 {
		return errors.New("weather: country list is empty")
	}
	cloned := slices.Clone(countries)
	s.mu.Lock()
	s.countries = cloned
	s.mu.Unlock()
	return nil
}

// Countries returns a copy of the current list.
func (s *Selector) Countries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.countries)
}
