// Package whitelist registers the current host IP against every connected
// exchange credential.
package whitelist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/botplane/internal/model"
)

// ManualURLs lists where the operator adds the IP by hand. No exchange we
// support lets an API key edit its own IP restriction.
var ManualURLs = map[string]string{
	"binance":  "https://www.binance.com/en/my/settings/api-management",
	"bybit":    "https://www.bybit.com/app/user/api-management",
	"okx":      "https://www.okx.com/account/my-api",
	"kucoin":   "https://www.kucoin.com/account/api",
	"kraken":   "https://pro.kraken.com/app/settings/api",
	"coinbase": "https://www.coinbase.com/settings/api",
	"bitget":   "https://www.bitget.com/account/newapi",
	"gateio":   "https://www.gate.io/myaccount/apikeys",
	"mexc":     "https://www.mexc.com/user/openapi",
}

// ErrNoIP is returned when neither the caller nor the cloud config names an IP.
var ErrNoIP = errors.New("no host IP to whitelist")

type Store interface {
	GetCloudConfig(ctx context.Context) (*model.CloudConfig, error)
	ListConnectedExchanges(ctx context.Context) ([]model.ExchangeConnection, error)
	UpsertWhitelist(ctx context.Context, exchange, ip string) error
	RecordEvent(ctx context.Context, ev *model.TimelineEvent) error
}

// Verifier asks an exchange whether a credential is IP restricted. It is
// optional per exchange and its answer is informational.
type Verifier interface {
	IPRestricted(ctx context.Context, ex model.ExchangeConnection) (bool, error)
}

type ExchangeResult struct {
	Exchange     string `json:"exchange"`
	Synced       bool   `json:"synced"`
	ManualURL    string `json:"manualUrl,omitempty"`
	IPRestricted *bool  `json:"ipRestricted,omitempty"`
	Error        string `json:"error,omitempty"`
}

type Result struct {
	Success         bool              `json:"success"`
	IP              string            `json:"ip"`
	ExchangesSynced int               `json:"exchanges_synced"`
	Results         []ExchangeResult  `json:"results"`
	ManualURLs      map[string]string `json:"manualUrls"`
}

type Syncer struct {
	store     Store
	verifiers map[string]Verifier
	logger    zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Syncer {
	return &Syncer{
		store:     store,
		verifiers: map[string]Verifier{},
		logger:    logger.With().Str("component", "whitelist").Logger(),
	}
}

// WithVerifier registers v for the named exchange.
func (s *Syncer) WithVerifier(exchange string, v Verifier) *Syncer {
	s.verifiers[strings.ToLower(exchange)] = v
	return s
}

// Sync records ip as the whitelisted range of every connected exchange. An
// empty ip falls back to the outbound IP in the cloud config.
func (s *Syncer) Sync(ctx context.Context, ip string) (*Result, error) {
	if ip == "" {
		cc, err := s.store.GetCloudConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("read cloud config: %w", err)
		}
		if cc.OutboundIP == nil || *cc.OutboundIP == "" {
			return nil, ErrNoIP
		}
		ip = *cc.OutboundIP
	}

	exchanges, err := s.store.ListConnectedExchanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connected exchanges: %w", err)
	}

	res := &Result{IP: ip, Results: []ExchangeResult{}, ManualURLs: map[string]string{}}
	for _, ex := range exchanges {
		r := ExchangeResult{Exchange: ex.ExchangeName, ManualURL: ManualURLs[strings.ToLower(ex.ExchangeName)]}
		if r.ManualURL != "" {
			res.ManualURLs[ex.ExchangeName] = r.ManualURL
		}

		if err := s.store.UpsertWhitelist(ctx, ex.ExchangeName, ip); err != nil {
			r.Error = err.Error()
			s.logger.Error().Err(err).Str("exchange", ex.ExchangeName).Msg("upsert whitelist")
			res.Results = append(res.Results, r)
			continue
		}
		r.Synced = true
		res.ExchangesSynced++

		if v, ok := s.verifiers[strings.ToLower(ex.ExchangeName)]; ok && ex.HasCredentials() {
			restricted, err := v.IPRestricted(ctx, ex)
			if err != nil {
				s.logger.Warn().Err(err).Str("exchange", ex.ExchangeName).Msg("verify ip restriction")
			} else {
				r.IPRestricted = &restricted
			}
		}
		res.Results = append(res.Results, r)
	}
	res.Success = res.ExchangesSynced == len(exchanges)

	meta, _ := json.Marshal(map[string]any{"ip": ip, "synced": res.ExchangesSynced})
	if err := s.store.RecordEvent(ctx, &model.TimelineEvent{
		EventType:   model.EventWhitelist,
		Subtype:     "synced",
		Title:       "IP whitelist synced",
		Description: fmt.Sprintf("%d of %d exchanges now expect %s", res.ExchangesSynced, len(exchanges), ip),
		Metadata:    meta,
	}); err != nil {
		s.logger.Error().Err(err).Msg("record whitelist event")
	}
	s.logger.Info().Str("ip", ip).Int("synced", res.ExchangesSynced).Msg("whitelist synced")
	return res, nil
}
