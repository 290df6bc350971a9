package bytesize

import "github.com/Trifunovich/hugesort/rotation"

var _ rotation.Strategy = (*Strategy)(nil)

// Strategy rotates once the formatted size of a batch reaches MaxBytes.
type Strategy struct {
	MaxBytes int64
}

func NewStrategy(maxBytes int64) *Strategy {
	return &Strategy{MaxBytes: maxBytes}
}

func (s *Strategy) ShouldRotate(information rotation.Information) bool {
	return information.Bytes >= s.MaxBytes
}
