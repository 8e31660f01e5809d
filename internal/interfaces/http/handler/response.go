package handler

import "github.com/ledgerlink/backend/internal/interfaces/http/dto"

// APIResponse is the response envelope as it appears in the generated
// OpenAPI spec. Handlers return dto.Response at runtime; this generic
// mirror exists so swag can document the typed data field per endpoint.
// @Description Standard API response wrapper with typed data field
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}

// ErrorResponse documents the failure shape of every sync endpoint.
// @Description Standard error response
type ErrorResponse struct {
	Success bool           `json:"success" example:"false"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
}

// SuccessResponse documents responses that carry no data payload.
// @Description Simple success response without data
type SuccessResponse struct {
	Success bool `json:"success" example:"true"`
}
