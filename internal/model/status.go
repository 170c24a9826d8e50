package model

// Host lifecycle statuses.
const (
	HostProvisioning = "provisioning"
	HostRunning      = "running"
	HostWarning      = "warning"
	HostTimeout      = "timeout"
	HostOffline      = "offline"
	HostStopped      = "stopped"
	HostFailed       = "failed"
)

// Bot statuses, shared by hosts, deployments and the trading config shadow.
const (
	BotRunning  = "running"
	BotStopped  = "stopped"
	BotStarting = "starting"
	BotStopping = "stopping"
	BotError    = "error"
	BotUnknown  = "unknown"
)

// IsTransitionalBotStatus reports whether a lifecycle action currently holds
// the bot.
func IsTransitionalBotStatus(status string) bool {
	return status == BotStarting || status == BotStopping
}

// Deployment statuses.
const (
	DeployPending = "pending"
	DeployActive  = "active"
	DeployFailed  = "failed"
)

// IsTerminalHostStatus reports whether a host in this status no longer
// counts against the one-host-per-(provider, ip) rule and is skipped by the
// health cadence.
func IsTerminalHostStatus(status string) bool {
	return status == HostFailed
}
