package session

import (
	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/logging"
	"github.com/dshills/jswat/internal/metrics"
)

// Default prefixes for generated identifiers and names.
const (
	DefaultIDPrefix   = "SID_"
	DefaultNamePrefix = "Session"
)

type options struct {
	log             *logging.Logger
	metrics         *metrics.Metrics
	idPrefix        string
	namePrefix      string
	factory         breakpoint.Factory
	defaultUncaught bool
}

func newOptions(opts []Option) options {
	o := options{
		log:        logging.Nop(),
		idPrefix:   DefaultIDPrefix,
		namePrefix: DefaultNamePrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New(nil)
	}
	return o
}

// Option configures a Session or a Manager.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDPrefix sets the prefix of generated session identifiers.
func WithIDPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.idPrefix = prefix
		}
	}
}

// WithNamePrefix sets the prefix of generated session names.
func WithNamePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.namePrefix = prefix
		}
	}
}

// WithBreakpointFactory sets the factory used to restore breakpoints.
func WithBreakpointFactory(f breakpoint.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithDefaultUncaught makes the manager give every loaded session the
// breakpoint that stops on uncaught exceptions.
func WithDefaultUncaught(enabled bool) Option {
	return func(o *options) {
		o.defaultUncaught = enabled
	}
}
