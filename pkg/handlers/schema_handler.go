package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/services"
)

// SchemaFieldsResponse for GET /schema/fields
type SchemaFieldsResponse struct {
	Fields []models.SchemaField `json:"fields"`
	Source models.SchemaSource  `json:"source"`
	Total  int                  `json:"total"`
}

// SchemaHandler exposes the resolved reportable field list so clients can
// build field pickers without hardcoding the warehouse schema.
type SchemaHandler struct {
	schema services.SchemaContextService
	logger *zap.Logger
}

// NewSchemaHandler creates a new schema handler.
func NewSchemaHandler(schema services.SchemaContextService, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{schema: schema, logger: logger}
}

// RegisterRoutes registers the schema handler's routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/customers/{cid}/schema/fields",
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.ListFields)))
}

// ListFields handles GET /api/customers/{cid}/schema/fields
func (h *SchemaHandler) ListFields(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	fields, source, err := h.schema.ResolveFields(r.Context(), customerID)
	if err != nil {
		h.logger.Error("Failed to resolve schema fields",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		if writeErr := ErrorResponse(w, http.StatusInternalServerError, "schema_resolution_failed", "Failed to resolve report fields"); writeErr != nil {
			h.logger.Error("Failed to write error response", zap.Error(writeErr))
		}
		return
	}

	sc := &models.SchemaContext{Fields: fields, Source: source}
	visible := sc.VisibleFields(auth.IsAdminFromContext(r.Context()))

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: SchemaFieldsResponse{
		Fields: visible,
		Source: source,
		Total:  len(visible),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
