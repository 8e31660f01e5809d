// Package remoteledger is the HTTP adapter to the external accounting
// ledger. It owns the wire format: payloads are decoded into typed structs
// and converted to the document projection at this boundary, and every
// failure is surfaced as a ledger.RemoteError so the pipelines can tell
// retryable from terminal without inspecting strings.
package remoteledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
)

// maxResponseSize limits the response body size to prevent memory exhaustion
const maxResponseSize = 10 * 1024 * 1024 // 10MB max response

// tenantHeader carries the ledger-side organisation identifier
const tenantHeader = "Ledger-Tenant-Id"

// ClientConfig holds HTTP client tuning.
type ClientConfig struct {
	// Timeout bounds one request
	Timeout time.Duration
	// MinRequestInterval spaces requests so the client stays under the
	// ledger's rate limit instead of provoking 429s
	MinRequestInterval time.Duration
}

// DefaultClientConfig returns the default client tuning.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:            30 * time.Second,
		MinRequestInterval: 100 * time.Millisecond,
	}
}

// Client implements the RemoteLedger port over the ledger's REST API.
// Endpoint and organisation come from the tenant's connection row; the
// token provider supplies credentials.
type Client struct {
	cfg         ClientConfig
	httpClient  *http.Client
	tokens      ledger.TokenProvider
	connections ledger.ConnectionRepository
	metrics     *telemetry.SyncMetrics
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a ledger API client.
func NewClient(cfg ClientConfig, tokens ledger.TokenProvider, connections ledger.ConnectionRepository, metrics *telemetry.SyncMetrics, logger *zap.Logger) (*Client, error) {
	if tokens == nil || connections == nil {
		return nil, errors.New("remoteledger: token provider and connection repository are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinRequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		tokens:      tokens,
		connections: connections,
		metrics:     metrics,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// ListEntities fetches one page of records of the given type.
func (c *Client) ListEntities(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, query ledger.ListQuery) (*ledger.RemotePage, error) {
	path, err := entityPath(entityType)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(query.Page))
	params.Set("pageSize", strconv.Itoa(query.PageSize))
	if query.ModifiedSince != nil {
		params.Set("modifiedSince", query.ModifiedSince.UTC().Format(time.RFC3339))
	}

	body, err := c.doRequest(ctx, tenantID, http.MethodGet, path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list wireList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: list envelope: %v", ledger.ErrMalformedDocument, err)
	}

	page := &ledger.RemotePage{
		Records: make([]ledger.RemoteRecord, 0, len(list.Items)),
		Page:    query.Page,
		HasMore: list.HasMore,
	}
	for _, item := range list.Items {
		record, err := decodeRecord(entityType, item)
		if err != nil {
			return nil, err
		}
		page.Records = append(page.Records, *record)
	}
	return page, nil
}

// GetEntity fetches a single record by its remote id.
func (c *Client) GetEntity(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string) (*ledger.RemoteRecord, error) {
	path, err := entityPath(entityType)
	if err != nil {
		return nil, err
	}
	if remoteID == "" {
		return nil, fmt.Errorf("%w: empty remote id", ledger.ErrMalformedDocument)
	}

	body, err := c.doRequest(ctx, tenantID, http.MethodGet, path+"/"+url.PathEscape(remoteID), nil)
	if err != nil {
		var remoteErr *ledger.RemoteError
		if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %s", ledger.ErrRemoteGone, entityType, remoteID)
		}
		return nil, err
	}
	return decodeRecord(entityType, body)
}

// CreateEntity creates a record and returns the ledger's stored version.
func (c *Client) CreateEntity(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, doc ledger.Document) (*ledger.RemoteRecord, error) {
	path, err := entityPath(entityType)
	if err != nil {
		return nil, err
	}
	payload, err := encodeBody(entityType, doc)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(ctx, tenantID, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	return decodeRecord(entityType, body)
}

// UpdateEntity updates a record and returns the ledger's stored version.
func (c *Client) UpdateEntity(ctx context.Context, tenantID uuid.UUID, entityType ledger.EntityType, remoteID string, doc ledger.Document) (*ledger.RemoteRecord, error) {
	path, err := entityPath(entityType)
	if err != nil {
		return nil, err
	}
	if remoteID == "" {
		return nil, fmt.Errorf("%w: empty remote id", ledger.ErrMalformedDocument)
	}
	payload, err := encodeBody(entityType, doc)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(ctx, tenantID, http.MethodPut, path+"/"+url.PathEscape(remoteID), payload)
	if err != nil {
		var remoteErr *ledger.RemoteError
		if errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %s", ledger.ErrRemoteGone, entityType, remoteID)
		}
		return nil, err
	}
	return decodeRecord(entityType, body)
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// doRequest performs one paced, authenticated request and maps failures
// onto RemoteError.
func (c *Client) doRequest(ctx context.Context, tenantID uuid.UUID, method, path string, payload any) ([]byte, error) {
	conn, err := c.connections.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.AccessToken(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remoteledger: marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	requestURL := strings.TrimSuffix(conn.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("remoteledger: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(tenantHeader, conn.LedgerTenantID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ledger.RemoteError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ledger.RemoteError{Message: fmt.Sprintf("reading response: %v", err)}
	}

	c.metrics.RecordRemoteRequest(ctx, method, resp.StatusCode)

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized {
			// The next attempt exchanges fresh credentials.
			c.tokens.Invalidate(tenantID)
		}
		return nil, c.asRemoteError(resp, body)
	}
	return body, nil
}

// asRemoteError builds a RemoteError from a failed response, pulling the
// machine-readable code and any field violations out of the body and the
// server-requested wait out of the Retry-After header.
func (c *Client) asRemoteError(resp *http.Response, body []byte) *ledger.RemoteError {
	remoteErr := &ledger.RemoteError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	var we wireError
	if err := json.Unmarshal(body, &we); err == nil {
		if we.Code != "" {
			remoteErr.Code = we.Code
		}
		if we.Message != "" {
			remoteErr.Message = we.Message
		}
		if len(we.Violations) > 0 {
			violations := make([]string, len(we.Violations))
			for i, v := range we.Violations {
				violations[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
			}
			remoteErr.Message = fmt.Sprintf("%s (%s)", remoteErr.Message, strings.Join(violations, "; "))
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		remoteErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return remoteErr
}

// parseRetryAfter reads a Retry-After header, either delta-seconds or an
// HTTP date. Zero means the header was absent or unreadable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

// entityPath maps an entity type onto its REST collection.
func entityPath(entityType ledger.EntityType) (string, error) {
	switch entityType {
	case ledger.EntityTypeContact:
		return "/contacts", nil
	case ledger.EntityTypeInvoice:
		return "/invoices", nil
	case ledger.EntityTypePayment:
		return "/payments", nil
	default:
		return "", fmt.Errorf("%w: %q", ledger.ErrEntityUnsupported, entityType)
	}
}

// Ensure Client implements RemoteLedger
var _ ledger.RemoteLedger = (*Client)(nil)
