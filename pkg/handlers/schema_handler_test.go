package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

type stubSchemaService struct {
	fields []models.SchemaField
	source models.SchemaSource
	err    error
}

func (s *stubSchemaService) Compile(context.Context, uuid.UUID) (*models.SchemaContext, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.SchemaContext{Fields: s.fields, Source: s.source}, nil
}

func (s *stubSchemaService) ResolveFields(context.Context, uuid.UUID) ([]models.SchemaField, models.SchemaSource, error) {
	return s.fields, s.source, s.err
}

func (s *stubSchemaService) FormatForPrompt(*models.SchemaContext, bool) string { return "" }

func TestSchemaHandler_ListFields(t *testing.T) {
	customerID := uuid.New()
	service := &stubSchemaService{
		source: models.SchemaSourceCatalog,
		fields: []models.SchemaField{
			{Name: "carrier_name", DataType: "text", Groupable: true},
			{Name: "retail", DataType: "numeric", Aggregatable: true},
			{Name: "cost", DataType: "numeric", Aggregatable: true, AdminOnly: true},
		},
	}
	handler := NewSchemaHandler(service, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/schema/fields", nil, customerID, false)
	rec := httptest.NewRecorder()
	handler.ListFields(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data SchemaFieldsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.SchemaSourceCatalog, resp.Data.Source)
	require.Equal(t, 2, resp.Data.Total, "admin-only fields are hidden from regular users")
	names := []string{resp.Data.Fields[0].Name, resp.Data.Fields[1].Name}
	assert.NotContains(t, names, "cost")
}

func TestSchemaHandler_ListFields_AdminSeesRestricted(t *testing.T) {
	customerID := uuid.New()
	service := &stubSchemaService{
		source: models.SchemaSourceCatalog,
		fields: []models.SchemaField{
			{Name: "retail", DataType: "numeric", Aggregatable: true},
			{Name: "cost", DataType: "numeric", Aggregatable: true, AdminOnly: true},
		},
	}
	handler := NewSchemaHandler(service, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/schema/fields", nil, customerID, true)
	rec := httptest.NewRecorder()
	handler.ListFields(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data SchemaFieldsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Total)
}

func TestSchemaHandler_ListFields_ResolutionError(t *testing.T) {
	customerID := uuid.New()
	handler := NewSchemaHandler(&stubSchemaService{err: errors.New("warehouse offline")}, zap.NewNop())

	req := authedRequest(http.MethodGet, "/api/customers/"+customerID.String()+"/schema/fields", nil, customerID, false)
	rec := httptest.NewRecorder()
	handler.ListFields(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "schema_resolution_failed", decodeError(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "warehouse offline")
}

func TestSchemaHandler_ListFields_InvalidCustomerID(t *testing.T) {
	handler := NewSchemaHandler(&stubSchemaService{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/customers/xyz/schema/fields", nil)
	req.SetPathValue("cid", "xyz")
	rec := httptest.NewRecorder()
	handler.ListFields(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
