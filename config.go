package dbus

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultConnectionReadSize is the default size (in bytes) of the
	// buffer used for reading from a connection. Buffering reduces the
	// number of read syscalls needed to receive a large message.
	DefaultConnectionReadSize = 4096
	// DefaultDialTimeout bounds how long Connect waits for the preamble
	// write and the authentication exchange. The socket dial before them
	// and the Hello handshake after them are not bounded by it.
	DefaultDialTimeout = 5 * time.Second
)

// config holds Connect's tunables, assembled from the defaults plus any
// Option values a caller supplies.
type config struct {
	connReadSize  int
	address       string
	dialTimeout   time.Duration
	trackReplies  bool
	logger        *logrus.Logger
}

func newConfig() config {
	return config{
		connReadSize: DefaultConnectionReadSize,
		address:      "",
		dialTimeout:  DefaultDialTimeout,
		trackReplies: true,
		logger:       discardLogger(),
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Option configures a Connect call.
type Option func(*config)

// WithConnectionReadSize sets the size of the buffer used when reading
// from the bus connection. A bigger buffer means fewer read syscalls per
// large message.
func WithConnectionReadSize(size int) Option {
	return func(c *config) { c.connReadSize = size }
}

// WithAddress overrides bus address discovery (normally
// DBUS_SYSTEM_BUS_ADDRESS, falling back to the well-known system bus
// socket) with an explicit "unix:path=..." address.
func WithAddress(addr string) Option {
	return func(c *config) { c.address = addr }
}

// WithDialTimeout bounds how long Connect may spend writing the preamble
// and authenticating before giving up. The socket dial before them and
// the Hello handshake after them are not covered by it.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithReplyTracking controls whether CallMethod is usable on the Conn.
// Disabling it (for fire-and-forget signal emitters, say) makes
// CallMethod always fail with an InvariantError; the mandatory Hello
// handshake still correlates its own reply regardless, since it isn't
// optional.
func WithReplyTracking(enable bool) Option {
	return func(c *config) { c.trackReplies = enable }
}

// WithLogger sets the logger used for connection-lifecycle diagnostics
// (auth failures, protocol errors, reader/writer shutdown). A nil logger
// is replaced with a discarding one, so this option is always safe to
// call with a possibly-nil value from the caller's own config.
func WithLogger(l *logrus.Logger) Option {
	return func(c *config) {
		if l == nil {
			l = discardLogger()
		}
		c.logger = l
	}
}
