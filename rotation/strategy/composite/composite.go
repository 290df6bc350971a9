package composite

import "github.com/Trifunovich/hugesort/rotation"

var _ rotation.Strategy = &Strategy{}

// Strategy rotates as soon as any of its members would.
type Strategy struct {
	strategies []rotation.Strategy
}

func NewStrategy(strategies ...rotation.Strategy) *Strategy {
	return &Strategy{strategies: strategies}
}

func (c *Strategy) ShouldRotate(information rotation.Information) bool {
	for _, s := range c.strategies {
		if s.ShouldRotate(information) {
			return true
		}
	}
	return false
}
