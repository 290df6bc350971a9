package hugesort

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/Trifunovich/hugesort/chunk"
	"github.com/Trifunovich/hugesort/merge"
	"github.com/Trifunovich/hugesort/metrics"
)

// options holds the collaborators of a Sorter.
type options struct {
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	producer chunk.Producer
	merger   merge.Merger
	store    Store
}

// Option configures a Sorter.
type Option func(*options)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records pipeline metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithProducer replaces the producer chosen by Config.Reader.
func WithProducer(p chunk.Producer) Option {
	return func(o *options) {
		o.producer = p
	}
}

// WithMerger replaces the merger chosen by Config.Merge.
func WithMerger(m merge.Merger) Option {
	return func(o *options) {
		o.merger = m
	}
}

// WithStore replaces the store chosen by Config.Storage. Config.WorkDir is
// then unused and Sort cleans up through store.
func WithStore(store Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func defaultOptions() options {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return options{
		logger: logger,
	}
}
