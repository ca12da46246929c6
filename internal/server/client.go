package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/datatypes"
)

// ValidationCheck is one resource reference sent to POST /sync-validate
type ValidationCheck struct {
	TransactionID     string  `json:"transactionId"`
	ResourceID        string  `json:"resourceId"`
	RequestedQuantity float64 `json:"requestedQuantity"`
}

// ValidationResult is the server's verdict for one checked resource
type ValidationResult struct {
	ResourceID        string                 `json:"resourceId"`
	Valid             bool                   `json:"valid"`
	AvailableQuantity *float64               `json:"availableQuantity,omitempty"`
	ConflictKind      string                 `json:"conflictKind,omitempty"`
	Snapshot          map[string]interface{} `json:"snapshot,omitempty"`
}

// RemoteItem is one product/customer record returned by the search endpoints
type RemoteItem struct {
	ID      string         `json:"id"`
	SKU     string         `json:"sku,omitempty"`
	Barcode string         `json:"barcode,omitempty"`
	Name    string         `json:"name"`
	Phone   string         `json:"phone,omitempty"`
	Data    datatypes.JSON `json:"data,omitempty"`
}

// Client talks to the central POS server. Every call carries a bounded timeout;
// a timeout is a network failure, not a conflict.
type Client struct {
	baseURL    string
	terminalID string
	secret     []byte
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP client with sane pooling for terminal links
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:     dialer.DialContext,
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}

// NewClient creates a central-server client
func NewClient(baseURL, terminalID, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		terminalID: terminalID,
		secret:     []byte(secret),
		httpClient: NewHTTPClient(timeout),
	}
}

// mintToken creates a short-lived bearer token identifying this terminal
func (c *Client) mintToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.terminalID,
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// newRequest builds an authenticated JSON request
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	token, err := c.mintToken()
	if err != nil {
		return nil, fmt.Errorf("failed to sign terminal token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Terminal-ID", c.terminalID)
	return req, nil
}

// Ping probes the server health endpoint. Used by the connectivity monitor.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &NetworkError{Op: "ping", Err: fmt.Errorf("health returned HTTP %d", resp.StatusCode)}
	}
	return nil
}

// ValidateSale pre-checks resource availability for a queued transaction.
// Safe to call repeatedly; the endpoint has no side effects.
func (c *Client) ValidateSale(ctx context.Context, checks []ValidationCheck) ([]ValidationResult, error) {
	body, err := json.Marshal(checks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validation request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/sync-validate", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "validate", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &NetworkError{Op: "validate", Err: fmt.Errorf("server returned HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &BusinessRejection{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var results []ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode validation response: %w", err)
	}
	return results, nil
}

// createSaleResponse is the success body of POST /sales
type createSaleResponse struct {
	SaleID string `json:"sale_id"`
}

// conflictResponse is the HTTP 409 body of POST /sales
type conflictResponse struct {
	Conflicts []ResourceConflict `json:"conflicts"`
}

// CreateSale submits a sale to the central server. The idempotency key is the
// local transaction id, so redelivery after a blind success is deduplicated
// server-side. Returns the canonical server-assigned sale identifier.
func (c *Client) CreateSale(ctx context.Context, idempotencyKey string, payload []byte) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/sales", payload)
	if err != nil {
		return "", err
	}
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "create_sale", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out createSaleResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode sale response: %w", err)
		}
		return out.SaleID, nil

	case resp.StatusCode == http.StatusConflict:
		var out conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("failed to decode conflict response: %w", err)
		}
		return "", &ValidationConflict{Resources: out.Conflicts}

	case resp.StatusCode >= 500:
		return "", &NetworkError{Op: "create_sale", Err: fmt.Errorf("server returned HTTP %d", resp.StatusCode)}

	default:
		msg, _ := io.ReadAll(resp.Body)
		return "", &BusinessRejection{StatusCode: resp.StatusCode, Message: string(msg)}
	}
}

// searchResponse is the body of the paginated search endpoints
type searchResponse struct {
	Items   []RemoteItem `json:"items"`
	HasMore bool         `json:"has_more"`
}

// search runs one page of a GET search endpoint
func (c *Client) search(ctx context.Context, path, query string, page, pageSize int) ([]RemoteItem, bool, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("page_size", strconv.Itoa(pageSize))

	req, err := c.newRequest(ctx, http.MethodGet, path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, &NetworkError{Op: "search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, false, &NetworkError{Op: "search", Err: fmt.Errorf("server returned HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, false, &BusinessRejection{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("failed to decode search response: %w", err)
	}
	return out.Items, out.HasMore, nil
}

// SearchProducts queries the server's product search endpoint
func (c *Client) SearchProducts(ctx context.Context, query string, page, pageSize int) ([]RemoteItem, bool, error) {
	return c.search(ctx, "/products", query, page, pageSize)
}

// SearchCustomers queries the server's customer search endpoint
func (c *Client) SearchCustomers(ctx context.Context, query string, page, pageSize int) ([]RemoteItem, bool, error) {
	return c.search(ctx, "/customers", query, page, pageSize)
}
