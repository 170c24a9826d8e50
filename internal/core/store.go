package core

// Store bundles every service behind one value so domain packages can accept
// the narrow interface they need and receive the whole store.
type Store struct {
	*HostService
	*DeploymentService
	*CloudConfigService
	*HealthService
	*ExchangeService
	*TradingConfigService
	*TimelineService
	*AlertService
	*ProgressionService
	*AIProviderService
}

func NewStore(db DB) *Store {
	return &Store{
		HostService:          NewHostService(db),
		DeploymentService:    NewDeploymentService(db),
		CloudConfigService:   NewCloudConfigService(db),
		HealthService:        NewHealthService(db),
		ExchangeService:      NewExchangeService(db),
		TradingConfigService: NewTradingConfigService(db),
		TimelineService:      NewTimelineService(db),
		AlertService:         NewAlertService(db),
		ProgressionService:   NewProgressionService(db),
		AIProviderService:    NewAIProviderService(db),
	}
}
