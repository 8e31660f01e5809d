package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appledger "github.com/ledgerlink/backend/internal/application/ledger"
	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// SyncHandler handles sync run API endpoints
type SyncHandler struct {
	BaseHandler
	orchestrator *appledger.Orchestrator
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(orchestrator *appledger.Orchestrator) *SyncHandler {
	return &SyncHandler{orchestrator: orchestrator}
}

// Start godoc
// @ID           startSyncRun
// @Summary      Start a sync run
// @Description  Accepts a sync request and executes it asynchronously. Returns 202 with the initial run snapshot; poll the run endpoint for progress.
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        request body StartSyncRequest true "Sync run request"
// @Success      202 {object} APIResponse[SyncRunResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      409 {object} dto.ErrorResponse
// @Failure      422 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/runs [post]
func (h *SyncHandler) Start(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	parsed, err := req.toCommand()
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	run, err := h.orchestrator.StartSync(c.Request.Context(), tenantID, appledger.StartCommand{
		Direction:   parsed.direction,
		EntityTypes: parsed.entityTypes,
		Options:     parsed.options,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, toSyncRunResponse(run))
}

// Get godoc
// @ID           getSyncRun
// @Summary      Get a sync run
// @Description  Retrieve a run snapshot including phase and live counters
// @Tags         sync
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        id path string true "Run ID" format(uuid)
// @Success      200 {object} APIResponse[SyncRunResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      404 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/runs/{id} [get]
func (h *SyncHandler) Get(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid run ID format")
		return
	}

	run, err := h.orchestrator.GetRun(c.Request.Context(), tenantID, runID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toSyncRunResponse(run))
}

// List godoc
// @ID           listSyncRuns
// @Summary      List sync runs
// @Description  List runs for the tenant, most recent first
// @Tags         sync
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        status query string false "Filter by run status" Enums(PENDING, RUNNING, SUCCESS, PARTIAL_SUCCESS, ERROR)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20)
// @Success      200 {object} APIResponse[[]SyncRunResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/runs [get]
func (h *SyncHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	filter := ledger.RunFilter{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 20),
	}
	if raw := c.Query("status"); raw != "" {
		status := ledger.RunStatus(strings.ToUpper(raw))
		if !status.IsValid() {
			h.BadRequest(c, "Invalid run status")
			return
		}
		filter.Status = &status
	}

	runs, total, err := h.orchestrator.ListRuns(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	responses := make([]SyncRunResponse, len(runs))
	for i := range runs {
		responses[i] = toSyncRunResponse(&runs[i])
	}
	h.SuccessWithMeta(c, responses, total, filter.Page, filter.PageSize)
}

// Cancel godoc
// @ID           cancelSyncRun
// @Summary      Cancel a sync run
// @Description  Request cancellation of a pending or running sync run. The run finishes its current record and stops.
// @Tags         sync
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        id path string true "Run ID" format(uuid)
// @Success      200 {object} SuccessResponse
// @Failure      400 {object} dto.ErrorResponse
// @Failure      404 {object} dto.ErrorResponse
// @Failure      422 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/runs/{id}/cancel [post]
func (h *SyncHandler) Cancel(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid run ID format")
		return
	}

	if err := h.orchestrator.CancelRun(c.Request.Context(), tenantID, runID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, nil)
}

// Audit godoc
// @ID           listSyncRunAudit
// @Summary      List the audit trail of a sync run
// @Description  List per-record outcomes of a run, including skips and dry-run previews
// @Tags         sync
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        id path string true "Run ID" format(uuid)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(50)
// @Success      200 {object} APIResponse[[]AuditEntryResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      404 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/runs/{id}/audit [get]
func (h *SyncHandler) Audit(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid run ID format")
		return
	}

	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", 50)

	entries, total, err := h.orchestrator.ListRunAudit(c.Request.Context(), tenantID, runID, page, pageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	responses := make([]AuditEntryResponse, len(entries))
	for i := range entries {
		responses[i] = toAuditEntryResponse(&entries[i])
	}
	h.SuccessWithMeta(c, responses, total, page, pageSize)
}

// parseIntQuery reads a positive integer query parameter with a default.
func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
