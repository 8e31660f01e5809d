package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newConnectionTestRouter() *gin.Engine {
	h := NewConnectionHandler(nil)
	engine := gin.New()
	engine.GET("/sync/connection", h.Get)
	engine.PUT("/sync/connection", h.Upsert)
	engine.DELETE("/sync/connection", h.Delete)
	return engine
}

func TestConnectionHandlerUpsertValidation(t *testing.T) {
	engine := newConnectionTestRouter()

	valid := `{"provider":"standardledger","base_url":"https://ledger.example.com","client_id":"c1","ledger_tenant_id":"org-1"}`

	tests := []struct {
		name       string
		body       string
		withTenant bool
	}{
		{
			name:       "missing tenant",
			body:       valid,
			withTenant: false,
		},
		{
			name:       "missing provider",
			body:       `{"base_url":"https://ledger.example.com","client_id":"c1","ledger_tenant_id":"org-1"}`,
			withTenant: true,
		},
		{
			name:       "base url not a url",
			body:       `{"provider":"p","base_url":"not a url","client_id":"c1","ledger_tenant_id":"org-1"}`,
			withTenant: true,
		},
		{
			name:       "bad schedule interval",
			body:       `{"provider":"p","base_url":"https://ledger.example.com","client_id":"c1","ledger_tenant_id":"org-1","schedule_interval":"every tuesday"}`,
			withTenant: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, engine, "PUT", "/sync/connection", tt.body, tt.withTenant)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestConnectionHandlerMissingTenant(t *testing.T) {
	engine := newConnectionTestRouter()

	w := doRequest(t, engine, "GET", "/sync/connection", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, engine, "DELETE", "/sync/connection", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
