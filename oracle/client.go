package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
)

// Client queries an external price feed for the USD price of a reference
// asset. The feed is a soft risk signal only: callers are expected to treat
// any failure here as non-fatal (fail-open).
type Client struct {
	endpoint string
	asset    string
	http     *http.Client
	logger   *logrus.Logger
}

// NewClient creates a price feed client with a bounded request timeout.
// The feed response shape is {"<asset>": {"usd": <number>}}.
func NewClient(endpoint, asset string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		asset:    asset,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Price returns the current USD price of the reference asset. Timeouts,
// non-2xx responses, and malformed payloads are all reported as feed
// degradation.
func (c *Client) Price(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return 0, errors.Wrapf(bridgeerrors.ErrOracleDegraded, "building request: %v", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(bridgeerrors.ErrOracleDegraded, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, errors.Wrapf(bridgeerrors.ErrOracleDegraded, "feed returned status %d", resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, errors.Wrapf(bridgeerrors.ErrOracleDegraded, "malformed feed payload: %v", err)
	}

	quote, ok := payload[c.asset]
	if !ok {
		return 0, errors.Wrapf(bridgeerrors.ErrOracleDegraded, "feed payload missing asset %s", c.asset)
	}

	price, ok := quote["usd"]
	if !ok {
		return 0, errors.Wrapf(bridgeerrors.ErrOracleDegraded, "feed payload missing usd quote for %s", c.asset)
	}

	c.logger.WithFields(logrus.Fields{
		"asset": c.asset,
		"usd":   price,
	}).Debug("Price feed responded")

	return price, nil
}
