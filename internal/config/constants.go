package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Identity provider calls
const (
	ProviderRequestTimeout       = 10 * time.Second
	ProviderRetryInitialInterval = 250 * time.Millisecond
	ProbeTimeout                 = 5 * time.Second
)

// Pairing and credential lifetimes
const (
	PairingTTL       = 600 * time.Second
	CredentialMaxAge = 24 * time.Hour
)

// Background job intervals
const (
	CleanupJobInterval   = 5 * time.Minute
	KeepAliveJobInterval = time.Hour
)

// Rate limiting on pairing creation
const PinRateLimitWindow = time.Minute
