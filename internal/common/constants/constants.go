package constants

import "time"

const (
	HandleMinLength    = 3
	HandleMaxLength    = 253
	PasswordMaxLength  = 512
	JWTSecretMinLength = 32
	BcryptCost         = 12

	DefaultMaxRequestSize = 1 << 20

	DBPoolMaxConns        = 25
	DBPoolMinConns        = 5
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 60 * time.Second
	ServerIdleTimeout       = 120 * time.Second

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	DefaultHTTPPort        = "2583"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultAccessTokenTTL  = 2 * time.Hour
	DefaultRefreshTokenTTL = 90 * 24 * time.Hour

	// DefaultPLCSettleDelay is how long the submitter waits after the
	// ledger accepts a transaction before the operation is assumed
	// queryable. The ledger gives no synchronous durability signal.
	DefaultPLCSettleDelay = 10 * time.Second
	DefaultPLCTimeout     = 30 * time.Second

	DefaultResolverTimeout = 15 * time.Second

	FirehoseWriteWait      = 10 * time.Second
	FirehoseSendBufferSize = 256

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
