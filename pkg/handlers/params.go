package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseCustomerID extracts and validates the customer ID from the request
// path. Returns uuid.Nil and false after writing an error response on
// failure. Expects path parameter: cid
func ParseCustomerID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "cid", "invalid_customer_id", "Invalid customer ID format", logger)
}

// ParseReportID extracts and validates the report ID from the request path.
// Expects path parameter: rid
func ParseReportID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "rid", "invalid_report_id", "Invalid report ID format", logger)
}

// ParseKnowledgeID extracts and validates the knowledge entry ID from the
// request path. Expects path parameter: kid
func ParseKnowledgeID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "kid", "invalid_knowledge_id", "Invalid knowledge ID format", logger)
}

// ParseFeedbackID extracts and validates the feedback ID from the request
// path. Expects path parameter: fid
func ParseFeedbackID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "fid", "invalid_feedback_id", "Invalid feedback ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
