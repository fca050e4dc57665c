// Package erp talks to the ERP system's integration API. The pipeline only
// needs a handful of read calls: part and vendor lookups for validation,
// supplier-part links, upward BOM traversal, demand forecasts, and the
// vendor contact list the sender trust cache is built from.
package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Lookup errors. ErrNotFound is a validation signal, not a failure: a 404
// from the catalog means the entity does not exist, which Gate 1 and Gate 2
// record as a failed check. Anything else is a transport or server problem.
var (
	ErrNotFound     = errors.New("erp: not found")
	ErrUnauthorized = errors.New("erp: unauthorized")
)

// Part is a catalog item
type Part struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	StdCost     *float64 `json:"std_cost,omitempty"`
	UOM         string   `json:"uom,omitempty"`
}

// Vendor is a supplier master record
type Vendor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// SupplierPartLink ties a vendor to a part it supplies
type SupplierPartLink struct {
	VendorID     string   `json:"vendor_id"`
	PartID       string   `json:"part_id"`
	CurrentPrice *float64 `json:"current_price,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	LeadTimeDays int      `json:"lead_time_days,omitempty"`
}

// BOMParent is one immediate parent of a component in the bill of materials
type BOMParent struct {
	ParentID   string   `json:"parent_id"`
	ParentName string   `json:"parent_name,omitempty"`
	QtyPer     float64  `json:"qty_per"`
	StdCost    *float64 `json:"std_cost,omitempty"`
	SalePrice  *float64 `json:"sale_price,omitempty"`
}

// Forecast is the demand forecast for one part
type Forecast struct {
	PartID       string   `json:"part_id"`
	WeeklyDemand *float64 `json:"weekly_demand,omitempty"`
	AnnualDemand *float64 `json:"annual_demand,omitempty"`
}

// VendorContact is one known email contact of a vendor
type VendorContact struct {
	VendorID   string `json:"vendor_id"`
	VendorName string `json:"vendor_name"`
	Email      string `json:"email"`
}

// Catalog exposes the lookups validation and impact computation depend on
type Catalog interface {
	GetPart(ctx context.Context, partID string) (*Part, error)
	GetVendor(ctx context.Context, vendorID string) (*Vendor, error)
	GetSupplierPartLink(ctx context.Context, vendorID, partID string) (*SupplierPartLink, error)
	GetBOMParents(ctx context.Context, partID string) ([]BOMParent, error)
	GetForecast(ctx context.Context, partID string) (*Forecast, error)
}

// Directory exposes the vendor contact list the trust cache rebuilds from
type Directory interface {
	ListVendorContacts(ctx context.Context) ([]VendorContact, error)
}

// Config holds connection settings for the ERP API
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint64
}

// Client bundles the catalog and directory against one ERP instance
type Client interface {
	Catalog
	Directory
}

// restClient implements Client against the ERP REST API
type restClient struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an ERP client. Timeout applies per call; transient
// failures (5xx, 429, transport errors) are retried with exponential backoff
// inside the call, 404 maps to ErrNotFound without retrying.
func NewClient(config Config, logger *slog.Logger) Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &restClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

// GetPart retrieves a part by its catalog ID
func (c *restClient) GetPart(ctx context.Context, partID string) (*Part, error) {
	var part Part
	path := "/api/parts/" + url.PathEscape(partID)
	if err := c.doGet(ctx, path, &part); err != nil {
		return nil, err
	}
	return &part, nil
}

// GetVendor retrieves a vendor by its master ID
func (c *restClient) GetVendor(ctx context.Context, vendorID string) (*Vendor, error) {
	var vendor Vendor
	path := "/api/vendors/" + url.PathEscape(vendorID)
	if err := c.doGet(ctx, path, &vendor); err != nil {
		return nil, err
	}
	return &vendor, nil
}

// GetSupplierPartLink retrieves the purchasing link between a vendor and a part
func (c *restClient) GetSupplierPartLink(ctx context.Context, vendorID, partID string) (*SupplierPartLink, error) {
	var link SupplierPartLink
	path := "/api/vendors/" + url.PathEscape(vendorID) + "/parts/" + url.PathEscape(partID)
	if err := c.doGet(ctx, path, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// GetBOMParents retrieves the immediate parents of a part in the BOM.
// An empty slice means the part is top level.
func (c *restClient) GetBOMParents(ctx context.Context, partID string) ([]BOMParent, error) {
	var parents []BOMParent
	path := "/api/parts/" + url.PathEscape(partID) + "/where-used"
	if err := c.doGet(ctx, path, &parents); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return parents, nil
}

// GetForecast retrieves demand data for a part. ErrNotFound means the part
// has no forecast, which callers treat as missing demand data rather than
// a failure.
func (c *restClient) GetForecast(ctx context.Context, partID string) (*Forecast, error) {
	var forecast Forecast
	path := "/api/parts/" + url.PathEscape(partID) + "/forecast"
	if err := c.doGet(ctx, path, &forecast); err != nil {
		return nil, err
	}
	return &forecast, nil
}

// ListVendorContacts retrieves every known vendor email contact
func (c *restClient) ListVendorContacts(ctx context.Context) ([]VendorContact, error) {
	var contacts []VendorContact
	if err := c.doGet(ctx, "/api/vendor-contacts", &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// doGet performs one GET with retries. 404 and auth failures are permanent;
// 5xx, 429 and transport errors are retried until MaxRetries is exhausted.
func (c *restClient) doGet(ctx context.Context, path string, out interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		req.Header.Set("X-API-Key", c.config.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("erp request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode erp response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("erp returned %d: %s", resp.StatusCode, string(body))
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("erp returned %d: %s", resp.StatusCode, string(body)))
		}
	}

	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), c.config.MaxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("erp call failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	return nil
}
