// Package database provides the GORM-based connection pool shared by the
// SQL-backed memory store and pattern store: pool tuning, a background
// health check, transaction helpers with retry-on-deadlock, and
// zap-logged diagnostics.
package database
