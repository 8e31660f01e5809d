package remoteledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// clientAssertionType is the OAuth2 JWT assertion type identifier
const clientAssertionType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// TokenProviderConfig holds token exchange tuning.
type TokenProviderConfig struct {
	// TokenPath is the token endpoint path relative to the connection's base URL
	TokenPath string
	// RefreshSkew refreshes tokens this long before they expire
	RefreshSkew time.Duration
	// AssertionLifetime bounds the signed client assertion
	AssertionLifetime time.Duration
	// Timeout bounds one token exchange
	Timeout time.Duration
}

// DefaultTokenProviderConfig returns the default token exchange tuning.
func DefaultTokenProviderConfig() TokenProviderConfig {
	return TokenProviderConfig{
		TokenPath:         "/oauth2/token",
		RefreshSkew:       60 * time.Second,
		AssertionLifetime: 2 * time.Minute,
		Timeout:           15 * time.Second,
	}
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// OAuthTokenProvider exchanges a tenant's sealed credentials for access
// tokens via the OAuth2 client-credentials grant. When the connection holds
// a signing key the exchange authenticates with an RS256 client assertion,
// otherwise with the client secret. Tokens are cached per tenant and
// refreshed ahead of expiry so pipelines never send a token about to die.
type OAuthTokenProvider struct {
	cfg         TokenProviderConfig
	httpClient  *http.Client
	connections ledger.ConnectionRepository
	sealer      ledger.SecretSealer
	logger      *zap.Logger

	mu     sync.Mutex
	tokens map[uuid.UUID]cachedToken
}

// NewOAuthTokenProvider creates a token provider.
func NewOAuthTokenProvider(cfg TokenProviderConfig, connections ledger.ConnectionRepository, sealer ledger.SecretSealer, logger *zap.Logger) (*OAuthTokenProvider, error) {
	if connections == nil || sealer == nil {
		return nil, fmt.Errorf("remoteledger: connection repository and sealer are required")
	}
	defaults := DefaultTokenProviderConfig()
	if cfg.TokenPath == "" {
		cfg.TokenPath = defaults.TokenPath
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = defaults.RefreshSkew
	}
	if cfg.AssertionLifetime <= 0 {
		cfg.AssertionLifetime = defaults.AssertionLifetime
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthTokenProvider{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		connections: connections,
		sealer:      sealer,
		logger:      logger,
		tokens:      make(map[uuid.UUID]cachedToken),
	}, nil
}

// AccessToken returns a token valid for at least the refresh skew.
func (p *OAuthTokenProvider) AccessToken(ctx context.Context, tenantID uuid.UUID) (string, error) {
	p.mu.Lock()
	cached, ok := p.tokens[tenantID]
	p.mu.Unlock()
	if ok && time.Until(cached.expiresAt) > p.cfg.RefreshSkew {
		return cached.token, nil
	}

	conn, err := p.connections.FindByTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrUnauthenticated, err)
	}

	token, expiresAt, err := p.exchange(ctx, conn)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.tokens[tenantID] = cachedToken{token: token, expiresAt: expiresAt}
	p.mu.Unlock()

	p.logger.Debug("Ledger access token refreshed",
		zap.String("tenant_id", tenantID.String()),
		zap.Time("expires_at", expiresAt),
	)
	return token, nil
}

// Invalidate drops the cached token after the ledger rejected it.
func (p *OAuthTokenProvider) Invalidate(tenantID uuid.UUID) {
	p.mu.Lock()
	delete(p.tokens, tenantID)
	p.mu.Unlock()
}

// exchange performs one client-credentials token request.
func (p *OAuthTokenProvider) exchange(ctx context.Context, conn *ledger.Connection) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", conn.ClientID)

	tokenURL := strings.TrimSuffix(conn.BaseURL, "/") + p.cfg.TokenPath

	switch {
	case len(conn.SealedSigningKey) > 0:
		assertion, err := p.signAssertion(conn, tokenURL)
		if err != nil {
			return "", time.Time{}, err
		}
		form.Set("client_assertion_type", clientAssertionType)
		form.Set("client_assertion", assertion)
	case len(conn.SealedClientSecret) > 0:
		secret, err := p.sealer.Open(conn.SealedClientSecret)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%w: opening client secret: %v", ledger.ErrUnauthenticated, err)
		}
		form.Set("client_secret", string(secret))
	default:
		return "", time.Time{}, fmt.Errorf("%w: connection has no credentials", ledger.ErrUnauthenticated)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("remoteledger: creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", time.Time{}, ctx.Err()
		}
		// Transport failure during the exchange is transient, not a
		// credentials problem.
		return "", time.Time{}, &ledger.RemoteError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", time.Time{}, &ledger.RemoteError{Message: fmt.Sprintf("reading token response: %v", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", time.Time{}, &ledger.RemoteError{StatusCode: resp.StatusCode, Message: "token endpoint unavailable"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("%w: token endpoint returned %d", ledger.ErrUnauthenticated, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: malformed token response: %v", ledger.ErrUnauthenticated, err)
	}
	if payload.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: token response without access_token", ledger.ErrUnauthenticated)
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 1800
	}
	return payload.AccessToken, time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second), nil
}

// signAssertion builds the RS256 client assertion for the token exchange.
func (p *OAuthTokenProvider) signAssertion(conn *ledger.Connection, tokenURL string) (string, error) {
	pemKey, err := p.sealer.Open(conn.SealedSigningKey)
	if err != nil {
		return "", fmt.Errorf("%w: opening signing key: %v", ledger.ErrUnauthenticated, err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return "", fmt.Errorf("%w: parsing signing key: %v", ledger.ErrUnauthenticated, err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    conn.ClientID,
		Subject:   conn.ClientID,
		Audience:  jwt.ClaimStrings{tokenURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.AssertionLifetime)),
		ID:        uuid.NewString(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: signing client assertion: %v", ledger.ErrUnauthenticated, err)
	}
	return assertion, nil
}

// Ensure OAuthTokenProvider implements TokenProvider
var _ ledger.TokenProvider = (*OAuthTokenProvider)(nil)
