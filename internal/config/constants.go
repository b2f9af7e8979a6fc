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
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Driver transport
const (
	DriverDialTimeout    = 10 * time.Second
	DriverWriteTimeout   = 5 * time.Second
	DriverPingInterval   = 20 * time.Second
	DriverPongWait       = 45 * time.Second
	DriverReconnectMin   = 500 * time.Millisecond
	DriverReconnectMax   = 30 * time.Second
	DriverReleaseTimeout = 5 * time.Second
)

// Session side effects run from the controller loop
const (
	PersistTimeout = 5 * time.Second
	NotifyTimeout  = 2 * time.Second
)

// Janitor run budget
const CleanupRunTimeout = 30 * time.Second

// Rate limit for session provisioning per owner
const GenerateRateLimitPerMin = 10

// Contacts returned per listing
const MaxContacts = 50
