// Package api serves the control-plane HTTP surface the dashboard and
// botctl call: bot lifecycle, health checks, trade preflight, migration,
// whitelist sync, provisioning and the realtime change feed.
package api
