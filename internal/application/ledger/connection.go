package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Connection Service
// ---------------------------------------------------------------------------

// UpsertConnectionCommand carries a connection create or update. Empty
// credential fields keep whatever is already sealed; a fresh connection
// must supply both.
type UpsertConnectionCommand struct {
	// Provider names the ledger vendor
	Provider string
	// BaseURL is the root of the ledger's REST API
	BaseURL string
	// ClientID is the OAuth2 client identifier
	ClientID string
	// ClientSecret is the plaintext OAuth2 client secret, sealed before storage
	ClientSecret string
	// SigningKeyPEM is the plaintext PEM signing key, sealed before storage
	SigningKeyPEM string
	// LedgerTenantID is the organisation identifier on the ledger side
	LedgerTenantID string
	// ScheduleEnabled turns the background sync trigger on
	ScheduleEnabled bool
	// ScheduleInterval is how often the background trigger starts a run
	ScheduleInterval time.Duration
}

func (c UpsertConnectionCommand) validate(fresh bool) error {
	if c.Provider == "" || c.BaseURL == "" || c.ClientID == "" || c.LedgerTenantID == "" {
		return fmt.Errorf("%w: provider, base url, client id and ledger tenant id are required", shared.ErrInvalidInput)
	}
	if fresh && (c.ClientSecret == "" || c.SigningKeyPEM == "") {
		return fmt.Errorf("%w: a new connection requires a client secret and a signing key", shared.ErrInvalidInput)
	}
	if c.ScheduleEnabled && c.ScheduleInterval < time.Minute {
		return fmt.Errorf("%w: schedule interval must be at least one minute", shared.ErrInvalidInput)
	}
	return nil
}

// ConnectionService manages a tenant's link to its remote ledger. Secrets
// are sealed on the way in and never returned; handlers expose only their
// presence.
type ConnectionService struct {
	connections ledger.ConnectionRepository
	sealer      ledger.SecretSealer
	logger      *zap.Logger
}

// NewConnectionService wires a connection service.
func NewConnectionService(connections ledger.ConnectionRepository, sealer ledger.SecretSealer, logger *zap.Logger) *ConnectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionService{
		connections: connections,
		sealer:      sealer,
		logger:      logger,
	}
}

// Get loads the tenant's connection.
func (s *ConnectionService) Get(ctx context.Context, tenantID uuid.UUID) (*ledger.Connection, error) {
	return s.connections.FindByTenant(ctx, tenantID)
}

// Upsert creates or replaces the tenant's connection.
func (s *ConnectionService) Upsert(ctx context.Context, tenantID uuid.UUID, cmd UpsertConnectionCommand) (*ledger.Connection, error) {
	conn, err := s.connections.FindByTenant(ctx, tenantID)
	fresh := errors.Is(err, ledger.ErrConnectionNotFound)
	if err != nil && !fresh {
		return nil, err
	}

	if err := cmd.validate(fresh); err != nil {
		return nil, err
	}

	if fresh {
		conn = ledger.NewConnection(tenantID, cmd.Provider, cmd.BaseURL, cmd.ClientID)
	} else {
		conn.Provider = cmd.Provider
		conn.BaseURL = cmd.BaseURL
		conn.ClientID = cmd.ClientID
	}

	if cmd.ClientSecret != "" {
		sealed, err := s.sealer.Seal([]byte(cmd.ClientSecret))
		if err != nil {
			return nil, fmt.Errorf("ledger: sealing client secret: %w", err)
		}
		conn.SealedClientSecret = sealed
	}
	if cmd.SigningKeyPEM != "" {
		sealed, err := s.sealer.Seal([]byte(cmd.SigningKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("ledger: sealing signing key: %w", err)
		}
		conn.SealedSigningKey = sealed
	}

	conn.LedgerTenantID = cmd.LedgerTenantID
	conn.ScheduleEnabled = cmd.ScheduleEnabled
	conn.ScheduleInterval = cmd.ScheduleInterval
	conn.SetStatus(ledger.ConnectionStatusConnected)

	if err := s.connections.Save(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("Ledger connection saved",
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider", conn.Provider),
		zap.Bool("schedule_enabled", conn.ScheduleEnabled),
	)
	return conn, nil
}

// Delete removes the tenant's connection and its sealed credentials. Sync
// states and conflicts survive; reconnecting resumes from the same
// baselines.
func (s *ConnectionService) Delete(ctx context.Context, tenantID uuid.UUID) error {
	if err := s.connections.Delete(ctx, tenantID); err != nil {
		return err
	}
	s.logger.Info("Ledger connection deleted", zap.String("tenant_id", tenantID.String()))
	return nil
}
