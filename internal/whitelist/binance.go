package whitelist

import (
	"context"
	"errors"
	"net/http"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/edvin/botplane/internal/model"
)

// binanceIPRejected is the code Binance answers with when the caller's IP is
// not on the key's list.
const binanceIPRejected = -2015

// BinanceVerifier reads the ipRestrict flag of a Binance API key.
type BinanceVerifier struct {
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// IPRestricted reports whether the key is locked to a set of IPs. A -2015
// rejection means the key is restricted and this process is not on the list.
func (v *BinanceVerifier) IPRestricted(ctx context.Context, ex model.ExchangeConnection) (bool, error) {
	client := binance.NewClient(ex.APIKey, ex.APISecret)
	if v.BaseURL != "" {
		client.BaseURL = v.BaseURL
	}
	if v.HTTPClient != nil {
		client.HTTPClient = v.HTTPClient
	}

	perm, err := client.NewGetAPIKeyPermission().Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == binanceIPRejected {
			return true, nil
		}
		return false, err
	}
	return perm.IPRestrict, nil
}
