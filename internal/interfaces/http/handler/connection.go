package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	appledger "github.com/ledgerlink/backend/internal/application/ledger"
)

// ConnectionHandler handles ledger connection API endpoints
type ConnectionHandler struct {
	BaseHandler
	connectionService *appledger.ConnectionService
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(connectionService *appledger.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connectionService: connectionService}
}

// UpsertConnectionRequest represents a connection create or update
// @Description Request body for linking the tenant to a remote ledger. Credential fields may be omitted on update to keep the stored ones.
type UpsertConnectionRequest struct {
	Provider         string `json:"provider" binding:"required,min=1,max=100" example:"standardledger"`
	BaseURL          string `json:"base_url" binding:"required,url" example:"https://ledger.example.com/api"`
	ClientID         string `json:"client_id" binding:"required,min=1,max=200" example:"client-001"`
	ClientSecret     string `json:"client_secret" example:"s3cret"`
	SigningKeyPEM    string `json:"signing_key_pem"`
	LedgerTenantID   string `json:"ledger_tenant_id" binding:"required,min=1,max=200" example:"org-42"`
	ScheduleEnabled  bool   `json:"schedule_enabled" example:"true"`
	ScheduleInterval string `json:"schedule_interval" example:"15m"`
}

// Get godoc
// @ID           getLedgerConnection
// @Summary      Get the ledger connection
// @Description  Retrieve the tenant's ledger connection. Credentials are never returned.
// @Tags         connection
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Success      200 {object} APIResponse[ConnectionResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      422 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/connection [get]
func (h *ConnectionHandler) Get(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	conn, err := h.connectionService.Get(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toConnectionResponse(conn))
}

// Upsert godoc
// @ID           upsertLedgerConnection
// @Summary      Create or update the ledger connection
// @Description  Link the tenant to a remote ledger or update the existing link. Secrets are sealed before storage.
// @Tags         connection
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        request body UpsertConnectionRequest true "Connection details"
// @Success      200 {object} APIResponse[ConnectionResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/connection [put]
func (h *ConnectionHandler) Upsert(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req UpsertConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	cmd := appledger.UpsertConnectionCommand{
		Provider:        req.Provider,
		BaseURL:         req.BaseURL,
		ClientID:        req.ClientID,
		ClientSecret:    req.ClientSecret,
		SigningKeyPEM:   req.SigningKeyPEM,
		LedgerTenantID:  req.LedgerTenantID,
		ScheduleEnabled: req.ScheduleEnabled,
	}
	if req.ScheduleInterval != "" {
		interval, parseErr := time.ParseDuration(req.ScheduleInterval)
		if parseErr != nil {
			h.BadRequest(c, "Invalid schedule interval")
			return
		}
		cmd.ScheduleInterval = interval
	}

	conn, err := h.connectionService.Upsert(c.Request.Context(), tenantID, cmd)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toConnectionResponse(conn))
}

// Delete godoc
// @ID           deleteLedgerConnection
// @Summary      Delete the ledger connection
// @Description  Unlink the tenant from its remote ledger and discard sealed credentials. Sync state and conflicts stay.
// @Tags         connection
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Success      204 "No Content"
// @Failure      400 {object} dto.ErrorResponse
// @Failure      422 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/connection [delete]
func (h *ConnectionHandler) Delete(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	if err := h.connectionService.Delete(c.Request.Context(), tenantID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}
