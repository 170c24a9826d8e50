package request

// BotLifecycle is the /bot-lifecycle body. DeploymentID defaults to the
// active deployment.
type BotLifecycle struct {
	Action       string            `json:"action" validate:"required,oneof=start stop restart status"`
	DeploymentID string            `json:"deploymentId,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

type CheckHealth struct {
	IPAddress string `json:"ipAddress,omitempty" validate:"omitempty,ipv4"`
}

type MigrateVPS struct {
	Action           string            `json:"action" validate:"required,oneof=prepare execute rollback"`
	FromDeploymentID string            `json:"fromDeploymentId" validate:"required"`
	ToDeploymentID   string            `json:"toDeploymentId" validate:"required,nefield=FromDeploymentID"`
	Env              map[string]string `json:"env,omitempty"`
}

type SyncWhitelist struct {
	VPSIP string `json:"vps_ip,omitempty" validate:"omitempty,ipv4"`
}

type DeployAPI struct {
	IPAddress string `json:"ipAddress,omitempty" validate:"omitempty,ipv4"`
}

type UpdateBot struct {
	Code string `json:"code" validate:"required"`
}

type Login struct {
	Password string `json:"password" validate:"required"`
}

type RecordTrade struct {
	Mode string  `json:"mode" validate:"required,oneof=simulation paper live"`
	PnL  float64 `json:"pnl"`
}
