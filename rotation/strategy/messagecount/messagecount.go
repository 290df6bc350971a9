package messagecount

import "github.com/Trifunovich/hugesort/rotation"

var _ rotation.Strategy = (*Strategy)(nil)

// Strategy rotates once a batch holds MaxMessages records.
type Strategy struct {
	MaxMessages int
}

func NewStrategy(maxMessages int) *Strategy {
	return &Strategy{MaxMessages: maxMessages}
}

func (s *Strategy) ShouldRotate(information rotation.Information) bool {
	return information.Records >= s.MaxMessages
}
