package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
)

// KnowledgeListResponse for GET /knowledge
type KnowledgeListResponse struct {
	Entries []*models.KnowledgeEntry `json:"entries"`
	Total   int                      `json:"total"`
}

// UpsertKnowledgeRequest for POST /knowledge and PUT /knowledge/{kid}
type UpsertKnowledgeRequest struct {
	KnowledgeType string  `json:"knowledge_type"`
	Key           string  `json:"key"`
	Value         string  `json:"value"`
	MapsToField   *string `json:"maps_to_field,omitempty"`
	Priority      int     `json:"priority,omitempty"`
}

// ReviewRequest for POST /knowledge/{kid}/review and /feedback/{fid}/review
type ReviewRequest struct {
	Approve bool `json:"approve"`
}

// KnowledgeHandler handles customer knowledge HTTP requests: manual entry,
// listing, and the review queue for learned entries and corrections.
type KnowledgeHandler struct {
	knowledge repositories.KnowledgeRepository
	feedback  repositories.FeedbackRepository
	logger    *zap.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(
	knowledge repositories.KnowledgeRepository,
	feedback repositories.FeedbackRepository,
	logger *zap.Logger,
) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge, feedback: feedback, logger: logger}
}

// RegisterRoutes registers the knowledge handler's routes on the given mux.
// Review endpoints are admin-only; learned knowledge gates on human review.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/customers/{cid}/knowledge"

	mux.HandleFunc("GET "+base,
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base,
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.Create)))
	mux.HandleFunc("PUT "+base+"/{kid}",
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{kid}",
		authMiddleware.RequireAuthWithPathValidation("cid")(tenantMiddleware(h.Delete)))

	mux.HandleFunc("GET "+base+"/review-queue",
		authMiddleware.RequireAdmin(tenantMiddleware(h.ReviewQueue)))
	mux.HandleFunc("POST "+base+"/{kid}/review",
		authMiddleware.RequireAdmin(tenantMiddleware(h.Review)))

	feedbackBase := "/api/customers/{cid}/feedback"
	mux.HandleFunc("GET "+feedbackBase,
		authMiddleware.RequireAdmin(tenantMiddleware(h.ListFeedback)))
	mux.HandleFunc("POST "+feedbackBase+"/{fid}/review",
		authMiddleware.RequireAdmin(tenantMiddleware(h.ReviewFeedback)))
}

// List handles GET /api/customers/{cid}/knowledge
func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	entries, err := h.knowledge.ListForCustomer(r.Context(), customerID)
	if err != nil {
		h.logger.Error("Failed to list knowledge",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list_knowledge_failed", "Failed to list knowledge")
		return
	}

	// Non-admin callers only see their visible entries.
	if !auth.IsAdminFromContext(r.Context()) {
		visible := entries[:0]
		for _, e := range entries {
			if e.CustomerVisible {
				visible = append(visible, e)
			}
		}
		entries = visible
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: KnowledgeListResponse{
		Entries: entries,
		Total:   len(entries),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/customers/{cid}/knowledge
func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpsertKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if !models.IsValidKnowledgeType(req.KnowledgeType) {
		h.writeError(w, http.StatusBadRequest, "invalid_knowledge_type", "Unknown knowledge type")
		return
	}
	if req.Key == "" || req.Value == "" {
		h.writeError(w, http.StatusBadRequest, "missing_fields", "key and value are required")
		return
	}

	entry := &models.KnowledgeEntry{
		CustomerID:      &customerID,
		Scope:           models.KnowledgeScopeCustomer,
		KnowledgeType:   req.KnowledgeType,
		Key:             req.Key,
		Value:           req.Value,
		MapsToField:     req.MapsToField,
		Confidence:      1.0,
		Source:          models.KnowledgeSourceManual,
		Active:          true,
		CustomerVisible: true,
		Priority:        req.Priority,
	}
	if err := h.knowledge.Upsert(r.Context(), entry); err != nil {
		h.logger.Error("Failed to create knowledge entry",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "create_knowledge_failed", "Failed to create knowledge entry")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: entry}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/customers/{cid}/knowledge/{kid}
func (h *KnowledgeHandler) Update(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}
	knowledgeID, ok := ParseKnowledgeID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpsertKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	existing, err := h.knowledge.Get(r.Context(), knowledgeID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "knowledge_not_found", "Knowledge entry not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "get_knowledge_failed", "Failed to load knowledge entry")
		return
	}
	if existing.CustomerID == nil || *existing.CustomerID != customerID {
		h.writeError(w, http.StatusNotFound, "knowledge_not_found", "Knowledge entry not found")
		return
	}

	if req.Value != "" {
		existing.Value = req.Value
	}
	if req.MapsToField != nil {
		existing.MapsToField = req.MapsToField
	}
	if req.Priority != 0 {
		existing.Priority = req.Priority
	}
	existing.Source = models.KnowledgeSourceManual
	existing.Confidence = 1.0

	if err := h.knowledge.Upsert(r.Context(), existing); err != nil {
		h.logger.Error("Failed to update knowledge entry",
			zap.String("knowledge_id", knowledgeID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "update_knowledge_failed", "Failed to update knowledge entry")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: existing}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/customers/{cid}/knowledge/{kid}
func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseCustomerID(w, r, h.logger); !ok {
		return
	}
	knowledgeID, ok := ParseKnowledgeID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.knowledge.Delete(r.Context(), knowledgeID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "knowledge_not_found", "Knowledge entry not found")
			return
		}
		h.logger.Error("Failed to delete knowledge entry",
			zap.String("knowledge_id", knowledgeID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "delete_knowledge_failed", "Failed to delete knowledge entry")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ReviewQueue handles GET /api/customers/{cid}/knowledge/review-queue
func (h *KnowledgeHandler) ReviewQueue(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	entries, err := h.knowledge.ListNeedingReview(r.Context(), customerID)
	if err != nil {
		h.logger.Error("Failed to list review queue",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "review_queue_failed", "Failed to list review queue")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: KnowledgeListResponse{
		Entries: entries,
		Total:   len(entries),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Review handles POST /api/customers/{cid}/knowledge/{kid}/review
func (h *KnowledgeHandler) Review(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseCustomerID(w, r, h.logger); !ok {
		return
	}
	knowledgeID, ok := ParseKnowledgeID(w, r, h.logger)
	if !ok {
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.knowledge.SetActive(r.Context(), knowledgeID, req.Approve); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "knowledge_not_found", "Knowledge entry not found")
			return
		}
		h.logger.Error("Failed to review knowledge entry",
			zap.String("knowledge_id", knowledgeID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "review_failed", "Failed to review knowledge entry")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListFeedback handles GET /api/customers/{cid}/feedback
func (h *KnowledgeHandler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.FeedbackStatusPending
	}

	records, err := h.feedback.ListByStatus(r.Context(), customerID, status)
	if err != nil {
		h.logger.Error("Failed to list feedback",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "list_feedback_failed", "Failed to list feedback")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: records}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ReviewFeedback handles POST /api/customers/{cid}/feedback/{fid}/review
func (h *KnowledgeHandler) ReviewFeedback(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseCustomerID(w, r, h.logger); !ok {
		return
	}
	feedbackID, ok := ParseFeedbackID(w, r, h.logger)
	if !ok {
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	status := models.FeedbackStatusRejected
	if req.Approve {
		status = models.FeedbackStatusApproved
	}
	if err := h.feedback.UpdateStatus(r.Context(), feedbackID, status); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "feedback_not_found", "Feedback not found")
			return
		}
		h.logger.Error("Failed to review feedback",
			zap.String("feedback_id", feedbackID.String()),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "review_feedback_failed", "Failed to review feedback")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *KnowledgeHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
