// Package governance provides runtime safety controls for surfaces that
// embed the enforcement engine. The tenant limiter protects the admin
// publish path with per-tenant token buckets and supports zero-downtime
// reconfiguration.
package governance
