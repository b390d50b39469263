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

// Background job intervals
const OrphanSweepInterval = 5 * time.Minute

// Minimum record age before the orphan sweep may delete it
const OrphanSweepGrace = 30 * time.Minute

// Pairing code request retries against the transport
const (
	PairingCodeAttempts  = 5
	PairingCodeRetryWait = time.Second
)

// Capability token lifetime. A session token stays valid across reconnects
// and process restarts for as long as the session record exists.
const SessionTokenTTL = 365 * 24 * time.Hour

// User access token lifetime
const AccessTokenTTL = 24 * time.Hour
