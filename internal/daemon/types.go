package daemon

import "github.com/civalops/farmcoord/internal/coordinator"

// StartOptions configures the daemon (home, port, maintenance interval, DB, etc.).
type StartOptions struct {
	Home          string
	Port          int
	IntervalSec   float64 // maintenance loop interval; <= 0 disables the loop
	AutoRebalance bool    // let the maintenance loop rebalance overloaded farms
	Dev           bool
	PprofAddr     string
	DBDriver      string // "sqlite" (default) or "postgres"
	DBURL         string // for postgres: connection string (or DATABASE_URL env)
	EnableOtel    bool   // enable OpenTelemetry metrics (Prometheus exporter + HTTP/SSE instrumentation)
	Coordination  coordinator.Config
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
