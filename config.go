package h2mux

import "time"

// RequestHeaderEncodingSelector lets callers mark a particular request
// header as sensitive, so HPACK encodes it as never-indexed. When override
// is false the header keeps the default (not sensitive); the selector has
// no say over Huffman coding.
type RequestHeaderEncodingSelector func(name string) (sensitive bool, override bool)

// Config holds the tunables for a Connection (§6). Zero value is usable:
// every field has a sensible default applied by newConfig.
type Config struct {
	InitialStreamWindowSize uint32
	MaxResponseHeadersBytes uint32

	KeepAlivePingDelay   time.Duration
	KeepAlivePingTimeout time.Duration
	KeepAlivePolicy      KeepAlivePolicy

	UseCookies bool

	RequestHeaderEncodingSelector RequestHeaderEncodingSelector

	// OnAltSvc is invoked from the reader loop whenever an ALTSVC frame
	// arrives; it must not block. Nil disables ALTSVC handling entirely.
	OnAltSvc func(origin, value string)

	// OriginHints holds previously observed per-origin limits. It is stored
	// as given and not read by Connection or ConnPool: a connection's
	// MAX_HEADER_LIST_SIZE bound comes only from the peer's SETTINGS, and
	// nothing in this package records observed limits back into the map.
	OriginHints map[string]OriginHint

	// Logger receives diagnostic output. Nil uses a no-op logger.
	Logger *logger
}

// OriginHint is a persisted, previously-observed limit for an origin.
type OriginHint struct {
	MaxHeaderListSize uint32
}

// Option mutates a Config; used with Dial.
type Option func(*Config)

func WithInitialStreamWindowSize(n uint32) Option {
	return func(c *Config) { c.InitialStreamWindowSize = n }
}

func WithMaxResponseHeadersBytes(n uint32) Option {
	return func(c *Config) { c.MaxResponseHeadersBytes = n }
}

func WithKeepAlive(delay, timeout time.Duration, policy KeepAlivePolicy) Option {
	return func(c *Config) {
		c.KeepAlivePingDelay = delay
		c.KeepAlivePingTimeout = timeout
		c.KeepAlivePolicy = policy
	}
}

func WithCookies(enabled bool) Option {
	return func(c *Config) { c.UseCookies = enabled }
}

func WithOnAltSvc(fn func(origin, value string)) Option {
	return func(c *Config) { c.OnAltSvc = fn }
}

func WithOriginHints(hints map[string]OriginHint) Option {
	return func(c *Config) { c.OriginHints = hints }
}

func WithLogger(l *logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() *Config {
	return &Config{
		InitialStreamWindowSize: defaultInitialWindowSize,
		MaxResponseHeadersBytes: 0,
		KeepAlivePingDelay:      30 * time.Second,
		KeepAlivePingTimeout:    10 * time.Second,
		KeepAlivePolicy:         KeepAliveWithActiveRequests,
	}
}

func newConfig(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
