package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/auth"
	"github.com/lanewise-ai/lanewise-engine/pkg/llm"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/services"
)

// fakeAgent scripts the agent service behind the generate endpoint.
type fakeAgent struct {
	result  *services.GenerateReportResult
	err     error
	lastReq *services.GenerateReportRequest
}

func (f *fakeAgent) GenerateReport(_ context.Context, req *services.GenerateReportRequest) (*services.GenerateReportResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// stubReportRepo backs the report CRUD endpoints with canned data.
type stubReportRepo struct {
	reports      map[uuid.UUID]*models.StoredReport
	listed       []*models.StoredReport
	auditRecords []*models.ReportAuditRecord
	listErr      error
	deleted      []uuid.UUID
	lastLimit    int
}

func (s *stubReportRepo) SaveReport(context.Context, *models.StoredReport) error { return nil }

func (s *stubReportRepo) GetReport(_ context.Context, id uuid.UUID) (*models.StoredReport, error) {
	report, ok := s.reports[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return report, nil
}

func (s *stubReportRepo) ListReports(_ context.Context, _ uuid.UUID, limit int) ([]*models.StoredReport, error) {
	s.lastLimit = limit
	return s.listed, s.listErr
}

func (s *stubReportRepo) DeleteReport(_ context.Context, id uuid.UUID) error {
	if _, ok := s.reports[id]; !ok {
		return apperrors.ErrNotFound
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubReportRepo) SaveAuditRecord(context.Context, *models.ReportAuditRecord) error {
	return nil
}

func (s *stubReportRepo) ListAuditRecords(context.Context, uuid.UUID, int) ([]*models.ReportAuditRecord, error) {
	return s.auditRecords, nil
}

// authedRequest builds a request carrying JWT claims for the given customer,
// with the cid path value already set.
func authedRequest(method, target string, body []byte, customerID uuid.UUID, admin bool) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.SetPathValue("cid", customerID.String())

	claims := &auth.Claims{CustomerID: customerID.String()}
	claims.Subject = "user-42"
	if admin {
		claims.Roles = []string{auth.RoleAdmin}
	}
	return req.WithContext(context.WithValue(req.Context(), auth.ClaimsKey, claims))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestReportHandler_Generate_Success(t *testing.T) {
	customerID := uuid.New()
	reportID := uuid.New()
	agent := &fakeAgent{result: &services.GenerateReportResult{
		Report:   &models.ReportDefinition{Name: "Carrier Overview"},
		ReportID: &reportID,
		Message:  "Here you go.",
	}}
	handler := NewReportHandler(agent, &stubReportRepo{}, zap.NewNop())

	body, _ := json.Marshal(GenerateReportRequest{
		Prompt: "revenue by carrier",
		History: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "hi"},
		},
	})
	req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate", body, customerID, false)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                          `json:"success"`
		Data    services.GenerateReportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Carrier Overview", resp.Data.Report.Name)
	assert.Equal(t, "Here you go.", resp.Data.Message)

	require.NotNil(t, agent.lastReq)
	assert.Equal(t, customerID, agent.lastReq.CustomerID)
	assert.False(t, agent.lastReq.IsAdmin)
	require.NotNil(t, agent.lastReq.UserID)
	assert.Equal(t, "user-42", *agent.lastReq.UserID)
	assert.Equal(t, "203.0.113.9", agent.lastReq.ClientIP)
	assert.Len(t, agent.lastReq.History, 1)
}

func TestReportHandler_Generate_AdminFlagPropagates(t *testing.T) {
	customerID := uuid.New()
	agent := &fakeAgent{result: &services.GenerateReportResult{Message: "ok"}}
	handler := NewReportHandler(agent, &stubReportRepo{}, zap.NewNop())

	body, _ := json.Marshal(GenerateReportRequest{Prompt: "cost per mile"})
	req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate", body, customerID, true)
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, agent.lastReq.IsAdmin)
}

func TestReportHandler_Generate_MissingPrompt(t *testing.T) {
	customerID := uuid.New()
	handler := NewReportHandler(&fakeAgent{}, &stubReportRepo{}, zap.NewNop())

	req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate",
		[]byte(`{"prompt":""}`), customerID, false)
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_prompt", decodeError(t, rec)["error"])
}

func TestReportHandler_Generate_InvalidBody(t *testing.T) {
	customerID := uuid.New()
	handler := NewReportHandler(&fakeAgent{}, &stubReportRepo{}, zap.NewNop())

	req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate",
		[]byte(`{not json`), customerID, false)
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec)["error"])
}

func TestReportHandler_Generate_InvalidCustomerID(t *testing.T) {
	handler := NewReportHandler(&fakeAgent{}, &stubReportRepo{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/customers/not-a-uuid/reports/generate",
		bytes.NewReader([]byte(`{"prompt":"x"}`)))
	req.SetPathValue("cid", "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_customer_id", decodeError(t, rec)["error"])
}

func TestReportHandler_Generate_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "rate limit maps to 429",
			err:        llm.NewError(llm.ErrorTypeRateLimit, "429 from provider", true, nil),
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "ai_provider_error",
		},
		{
			name:       "endpoint failure maps to 502",
			err:        llm.NewError(llm.ErrorTypeEndpoint, "connection refused", true, nil),
			wantStatus: http.StatusBadGateway,
			wantCode:   "ai_provider_error",
		},
		{
			name:       "other errors map to 500",
			err:        fmt.Errorf("report could not be produced"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "generation_failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			customerID := uuid.New()
			handler := NewReportHandler(&fakeAgent{err: tt.err}, &stubReportRepo{}, zap.NewNop())

			req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate",
				[]byte(`{"prompt":"revenue"}`), customerID, false)
			rec := httptest.NewRecorder()
			handler.Generate(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec)["error"])
		})
	}
}

func TestReportHandler_Generate_ProviderErrorHidesDetail(t *testing.T) {
	customerID := uuid.New()
	providerErr := llm.NewError(llm.ErrorTypeEndpoint, "dial tcp 10.0.0.1:11434: connection refused", true, nil)
	handler := NewReportHandler(&fakeAgent{err: providerErr}, &stubReportRepo{}, zap.NewNop())

	req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate",
		[]byte(`{"prompt":"revenue"}`), customerID, false)
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	assert.NotContains(t, rec.Body.String(), "10.0.0.1", "raw provider detail must not reach clients")
}

func TestReportHandler_Generate_ValidationRejectionPassesThrough(t *testing.T) {
	customerID := uuid.New()
	agentErr := &services.ReportRejectedError{
		Reason: `generated report failed validation: section 2 references unknown field "fuel_surcharge"`,
	}
	handler := NewReportHandler(&fakeAgent{err: agentErr}, &stubReportRepo{}, zap.NewNop())

	req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate",
		[]byte(`{"prompt":"revenue"}`), customerID, false)
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "report_rejected", decodeError(t, rec)["error"])
	assert.Contains(t, rec.Body.String(), "fuel_surcharge",
		"validation detail helps the requester rephrase")
}

func TestReportHandler_Generate_StorageErrorHidesDetail(t *testing.T) {
	customerID := uuid.New()
	agentErr := fmt.Errorf("failed to save report: pq: connection to 10.0.0.9:5432 refused")
	handler := NewReportHandler(&fakeAgent{err: agentErr}, &stubReportRepo{}, zap.NewNop())

	req := authedRequest(http.MethodPost, "/api/customers/"+customerID.String()+"/reports/generate",
		[]byte(`{"prompt":"revenue"}`), customerID, false)
	rec := httptest.NewRecorder()
	handler.Generate(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "generation_failed", decodeError(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.9", "storage detail must not reach clients")
}

func TestReportHandler_List(t *testing.T) {
	customerID := uuid.New()
	repo := &stubReportRepo{listed: []*models.StoredReport{
		{ID: uuid.New(), CustomerID: customerID, Name: "Weekly Revenue"},
		{ID: uuid.New(), CustomerID: customerID, Name: "Lane Analysis"},
	}}
	handler := NewReportHandler(&fakeAgent{}, repo, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/reports?limit=5", nil, customerID, false)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, repo.lastLimit)

	var resp struct {
		Data ReportListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, "Weekly Revenue", resp.Data.Reports[0].Name)
}

func TestReportHandler_List_DefaultLimit(t *testing.T) {
	customerID := uuid.New()
	repo := &stubReportRepo{}
	handler := NewReportHandler(&fakeAgent{}, repo, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/reports", nil, customerID, false)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, repo.lastLimit)
}

func TestReportHandler_List_RepoError(t *testing.T) {
	customerID := uuid.New()
	repo := &stubReportRepo{listErr: errors.New("connection reset")}
	handler := NewReportHandler(&fakeAgent{}, repo, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/reports", nil, customerID, false)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "list_reports_failed", decodeError(t, rec)["error"])
}

func TestReportHandler_Get(t *testing.T) {
	customerID := uuid.New()
	reportID := uuid.New()
	repo := &stubReportRepo{reports: map[uuid.UUID]*models.StoredReport{
		reportID: {ID: reportID, CustomerID: customerID, Name: "Weekly Revenue"},
	}}
	handler := NewReportHandler(&fakeAgent{}, repo, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/reports/"+reportID.String(), nil, customerID, false)
	req.SetPathValue("rid", reportID.String())
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data models.StoredReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, reportID, resp.Data.ID)
}

func TestReportHandler_Get_NotFound(t *testing.T) {
	customerID := uuid.New()
	handler := NewReportHandler(&fakeAgent{}, &stubReportRepo{}, zap.NewNop())

	missing := uuid.New()
	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/reports/"+missing.String(), nil, customerID, false)
	req.SetPathValue("rid", missing.String())
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "report_not_found", decodeError(t, rec)["error"])
}

func TestReportHandler_Delete(t *testing.T) {
	customerID := uuid.New()
	reportID := uuid.New()
	repo := &stubReportRepo{reports: map[uuid.UUID]*models.StoredReport{
		reportID: {ID: reportID, CustomerID: customerID},
	}}
	handler := NewReportHandler(&fakeAgent{}, repo, zap.NewNop())

	req := authedRequest(http.MethodDelete, "/api/customers/"+customerID.String()+"/reports/"+reportID.String(), nil, customerID, false)
	req.SetPathValue("rid", reportID.String())
	rec := httptest.NewRecorder()
	handler.Delete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{reportID}, repo.deleted)
}

func TestReportHandler_Delete_NotFound(t *testing.T) {
	customerID := uuid.New()
	handler := NewReportHandler(&fakeAgent{}, &stubReportRepo{}, zap.NewNop())

	missing := uuid.New()
	req := authedRequest(http.MethodDelete, "/api/customers/"+customerID.String()+"/reports/"+missing.String(), nil, customerID, false)
	req.SetPathValue("rid", missing.String())
	rec := httptest.NewRecorder()
	handler.Delete(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportHandler_ListAudit(t *testing.T) {
	customerID := uuid.New()
	repo := &stubReportRepo{auditRecords: []*models.ReportAuditRecord{
		{CustomerID: customerID, Prompt: "revenue by carrier", Success: true, ToolCallCount: 4},
	}}
	handler := NewReportHandler(&fakeAgent{}, repo, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/reports/audit", nil, customerID, true)
	rec := httptest.NewRecorder()
	handler.ListAudit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []models.ReportAuditRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 4, resp.Data[0].ToolCallCount)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:52011"
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
