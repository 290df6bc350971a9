package messagecount

import (
	"testing"

	"github.com/Trifunovich/hugesort/rotation"
	"github.com/stretchr/testify/assert"
)

func TestStrategy_ShouldRotate(t *testing.T) {
	tests := []struct {
		name        string
		maxMessages int
		records     int
		want        bool
	}{
		{"empty batch", 3, 0, false},
		{"below limit", 3, 2, false},
		{"at limit", 3, 3, true},
		{"above limit", 3, 4, true},
		{"limit of one", 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStrategy(tt.maxMessages)
			assert.Equal(t, tt.want, s.ShouldRotate(rotation.Information{Records: tt.records}))
		})
	}
}
