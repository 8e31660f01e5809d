package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appledger "github.com/ledgerlink/backend/internal/application/ledger"
	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// ConflictHandler handles conflict review API endpoints
type ConflictHandler struct {
	BaseHandler
	conflictService *appledger.ConflictService
}

// NewConflictHandler creates a new ConflictHandler
func NewConflictHandler(conflictService *appledger.ConflictService) *ConflictHandler {
	return &ConflictHandler{conflictService: conflictService}
}

// ResolveConflictRequest represents a conflict resolution decision
// @Description Request body for resolving a conflict
type ResolveConflictRequest struct {
	Resolution string `json:"resolution" binding:"required,oneof=use_local use_remote skip" example:"use_remote"`
	ResolvedBy string `json:"resolved_by" binding:"max=200" example:"ops@example.com"`
}

// List godoc
// @ID           listConflicts
// @Summary      List conflicts
// @Description  List captured divergences for the tenant, open ones first
// @Tags         conflicts
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        entity_type query string false "Filter by entity type" Enums(contact, invoice, payment)
// @Param        status query string false "Filter by status" Enums(OPEN, RESOLVED)
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20)
// @Success      200 {object} APIResponse[[]ConflictResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/conflicts [get]
func (h *ConflictHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	filter := ledger.ConflictFilter{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 20),
	}
	if raw := c.Query("entity_type"); raw != "" {
		entityType := ledger.EntityType(strings.ToUpper(raw))
		if !entityType.IsValid() {
			h.BadRequest(c, "Invalid entity type")
			return
		}
		filter.EntityType = &entityType
	}
	if raw := c.Query("status"); raw != "" {
		status := ledger.ConflictStatus(strings.ToUpper(raw))
		if status != ledger.ConflictStatusOpen && status != ledger.ConflictStatusResolved {
			h.BadRequest(c, "Invalid conflict status")
			return
		}
		filter.Status = &status
	}

	conflicts, total, err := h.conflictService.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	// List responses omit the document payloads; they can be large and the
	// detail endpoint carries them.
	responses := make([]ConflictResponse, len(conflicts))
	for i := range conflicts {
		responses[i] = toConflictResponse(&conflicts[i], false)
	}
	h.SuccessWithMeta(c, responses, total, filter.Page, filter.PageSize)
}

// Get godoc
// @ID           getConflict
// @Summary      Get a conflict
// @Description  Retrieve a conflict including both captured document versions
// @Tags         conflicts
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        id path string true "Conflict ID" format(uuid)
// @Success      200 {object} APIResponse[ConflictResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      404 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/conflicts/{id} [get]
func (h *ConflictHandler) Get(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	conflictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid conflict ID format")
		return
	}

	conflict, err := h.conflictService.Get(c.Request.Context(), tenantID, conflictID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toConflictResponse(conflict, true))
}

// Resolve godoc
// @ID           resolveConflict
// @Summary      Resolve a conflict
// @Description  Apply a resolution decision. use_local pushes the local version, use_remote applies the remote version, skip closes the conflict without writing either side.
// @Tags         conflicts
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID header string false "Tenant ID (optional for dev)"
// @Param        id path string true "Conflict ID" format(uuid)
// @Param        request body ResolveConflictRequest true "Resolution decision"
// @Success      200 {object} APIResponse[ConflictResponse]
// @Failure      400 {object} dto.ErrorResponse
// @Failure      404 {object} dto.ErrorResponse
// @Failure      422 {object} dto.ErrorResponse
// @Failure      500 {object} dto.ErrorResponse
// @Router       /sync/conflicts/{id}/resolve [post]
func (h *ConflictHandler) Resolve(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	conflictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid conflict ID format")
		return
	}

	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	resolution, err := parseResolution(req.Resolution)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	conflict, err := h.conflictService.Resolve(c.Request.Context(), tenantID, conflictID, resolution, req.ResolvedBy)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, toConflictResponse(conflict, false))
}
