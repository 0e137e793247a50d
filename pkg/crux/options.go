package crux

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultKeepaliveTimeout is five retransmit periods, per spec: an
// established connection that hears nothing from its peer for this long is
// considered dead.
const DefaultKeepaliveTimeout = 5 * DefaultRetransmitPeriod

// options collects the tunables a Service, Multiplexer, or Connection can be
// configured with. defaultOptions supplies the package defaults, which any
// Option passed to NewService then overrides.
type options struct {
	keepaliveTimeout time.Duration
	retransmitPeriod time.Duration
	logger           logrus.FieldLogger
}

func defaultOptions() options {
	return options{
		keepaliveTimeout: DefaultKeepaliveTimeout,
		retransmitPeriod: DefaultRetransmitPeriod,
		logger:           logrus.StandardLogger(),
	}
}

// Option configures a Service, Multiplexer, or Connection at construction
// time.
type Option func(*options)

// WithKeepaliveTimeout overrides DefaultKeepaliveTimeout.
func WithKeepaliveTimeout(d time.Duration) Option {
	return func(o *options) { o.keepaliveTimeout = d }
}

// WithRetransmitPeriod overrides DefaultRetransmitPeriod.
func WithRetransmitPeriod(d time.Duration) Option {
	return func(o *options) { o.retransmitPeriod = d }
}

// WithLogger supplies a logger used for lifecycle and error events. The
// default is logrus's standard logger at Info level and above.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts ...Option) options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
