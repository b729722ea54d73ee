package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
	"github.com/lanewise-ai/lanewise-engine/pkg/llm"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
	"github.com/lanewise-ai/lanewise-engine/pkg/services"
)

// GenerateReportRequest for POST /reports/generate
type GenerateReportRequest struct {
	Prompt  string                       `json:"prompt"`
	History []models.ConversationMessage `json:"history,omitempty"`
}

// ReportListResponse for GET /reports
type ReportListResponse struct {
	Reports []*models.StoredReport `json:"reports"`
	Total   int                    `json:"total"`
}

// ReportHandler handles report generation and history HTTP requests.
type ReportHandler struct {
	agent   services.ReportAgentService
	reports repositories.ReportRepository
	logger  *zap.Logger
}

// NewReportHandler creates a new report handler.
func NewReportHandler(agent services.ReportAgentService, reports repositories.ReportRepository, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{agent: agent, reports: reports, logger: logger}
}

// RegisterRoutes registers the report handler's routes on the given mux.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/customers/{cid}/reports"

	mux.HandleFunc("POST "+base+"/generate",
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.Generate)))
	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.List)))
	mux.HandleFunc("GET "+base+"/{rid}",
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.Get)))
	mux.HandleFunc("DELETE "+base+"/{rid}",
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.Delete)))
	mux.HandleFunc("GET "+base+"/audit",
		authMiddleware.RequireAdmin(tenantMiddleware(h.ListAudit)))
}

// Generate handles POST /api/customers/{cid}/reports/generate
func (h *ReportHandler) Generate(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	var req GenerateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Prompt == "" {
		h.writeError(w, http.StatusBadRequest, "missing_prompt", "prompt is required")
		return
	}

	var userID *string
	if uid := auth.GetUserIDFromContext(r.Context()); uid != "" {
		userID = &uid
	}

	result, err := h.agent.GenerateReport(r.Context(), &services.GenerateReportRequest{
		CustomerID: customerID,
		UserID:     userID,
		IsAdmin:    auth.IsAdminFromContext(r.Context()),
		ClientIP:   clientIP(r),
		Prompt:     req.Prompt,
		History:    req.History,
	})
	if err != nil {
		h.logger.Error("Report generation failed",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))

		var llmErr *llm.Error
		if errors.As(err, &llmErr) {
			status := http.StatusBadGateway
			if llmErr.Type == llm.ErrorTypeRateLimit || llmErr.Type == llm.ErrorTypeQuota {
				status = http.StatusTooManyRequests
			}
			h.writeError(w, status, "ai_provider_error", llmErr.UserSafeMessage())
			return
		}
		var rejected *services.ReportRejectedError
		if errors.As(err, &rejected) {
			h.writeError(w, http.StatusUnprocessableEntity, "report_rejected", rejected.Reason)
			return
		}
		// Anything else may carry storage or provider detail; keep it in logs.
		h.writeError(w, http.StatusInternalServerError, "generation_failed",
			"Report generation failed. Please try again.")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/customers/{cid}/reports
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	limit := repositories.DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	reports, err := h.reports.ListReports(r.Context(), customerID, limit)
	if err != nil {
		h.logger.Error("Failed to list reports",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list_reports_failed", "Failed to list reports")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: ReportListResponse{
		Reports: reports,
		Total:   len(reports),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/customers/{cid}/reports/{rid}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseCustomerID(w, r, h.logger); !ok {
		return
	}
	reportID, ok := ParseReportID(w, r, h.logger)
	if !ok {
		return
	}

	report, err := h.reports.GetReport(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "report_not_found", "Report not found")
			return
		}
		h.logger.Error("Failed to get report",
			zap.String("report_id", reportID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "get_report_failed", "Failed to get report")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: report}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/customers/{cid}/reports/{rid}
func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseCustomerID(w, r, h.logger); !ok {
		return
	}
	reportID, ok := ParseReportID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.reports.DeleteReport(r.Context(), reportID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "report_not_found", "Report not found")
			return
		}
		h.logger.Error("Failed to delete report",
			zap.String("report_id", reportID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "delete_report_failed", "Failed to delete report")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListAudit handles GET /api/customers/{cid}/reports/audit
func (h *ReportHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	records, err := h.reports.ListAuditRecords(r.Context(), customerID, repositories.DefaultListLimit)
	if err != nil {
		h.logger.Error("Failed to list audit records",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list_audit_failed", "Failed to list audit records")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: records}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *ReportHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// clientIP extracts the caller's address for audit events, honoring the
// standard proxy header when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
