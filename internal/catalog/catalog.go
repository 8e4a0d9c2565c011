// Package catalog is the boundary to the external product/inventory
// catalog. This core only reads stock availability from it; catalog
// mutation happens elsewhere.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"altarath/pos/internal/cache"
	"altarath/pos/internal/domain"
)

// Lookup answers stock queries for single products. A nil Availability with
// a nil error means the catalog has no such product.
type Lookup interface {
	GetProductAvailability(ctx context.Context, productID string) (*domain.Availability, error)
}

// Client queries the catalog service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetProductAvailability(ctx context.Context, productID string) (*domain.Availability, error) {
	endpoint := fmt.Sprintf("%s/api/products/%s/availability", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build availability request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "query availability")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("catalog service returned %d for %s", resp.StatusCode, productID)
	}

	var av domain.Availability
	if err := json.NewDecoder(resp.Body).Decode(&av); err != nil {
		return nil, errors.Wrap(err, "decode availability response")
	}
	return &av, nil
}

// GetProductName resolves a product's display name from the catalog.
// Stored transaction lines sometimes carry only a product ID; refund
// documents use this to print something readable. An unknown product
// returns the empty string with no error.
func (c *Client) GetProductName(ctx context.Context, productID string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/products/%s", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, "build product request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "query product")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode != http.StatusOK:
		return "", errors.Errorf("catalog service returned %d for %s", resp.StatusCode, productID)
	}

	var product struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return "", errors.Wrap(err, "decode product response")
	}
	return product.Name, nil
}

// CachedLookup keeps the last known availability per product in the local
// snapshot cache. When the upstream catalog is unreachable it serves the
// stale snapshot instead of failing the stock check.
type CachedLookup struct {
	upstream Lookup
	cache    cache.AvailabilityCache
	ttl      time.Duration
	log      *logrus.Entry
}

func NewCachedLookup(upstream Lookup, c cache.AvailabilityCache, ttl time.Duration, log *logrus.Entry) *CachedLookup {
	return &CachedLookup{upstream: upstream, cache: c, ttl: ttl, log: log}
}

func (c *CachedLookup) GetProductAvailability(ctx context.Context, productID string) (*domain.Availability, error) {
	av, err := c.upstream.GetProductAvailability(ctx, productID)
	if err == nil {
		if av != nil {
			if cerr := c.cache.Set(ctx, productID, av, c.ttl); cerr != nil {
				c.log.WithError(cerr).WithField("product", productID).Warn("availability cache write failed")
			}
		}
		return av, nil
	}

	cached, ok, cerr := c.cache.Get(ctx, productID)
	if cerr == nil && ok {
		c.log.WithError(err).WithField("product", productID).Warn("catalog unreachable, serving cached availability")
		return cached, nil
	}
	return nil, err
}

// Static is a fixed in-memory lookup for dev mode and tests.
type Static map[string]domain.Availability

func (s Static) GetProductAvailability(_ context.Context, productID string) (*domain.Availability, error) {
	av, ok := s[productID]
	if !ok {
		return nil, nil
	}
	return &av, nil
}

// Permissive reports every product as sellable. It backs dev mode when no
// catalog service is configured, so checkout is never blocked on stock.
type Permissive struct {
	Quantity int
}

func (p Permissive) GetProductAvailability(_ context.Context, _ string) (*domain.Availability, error) {
	qty := p.Quantity
	if qty <= 0 {
		qty = 1000
	}
	return &domain.Availability{CanSell: true, AvailableQuantity: qty}, nil
}
