//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/database"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/testhelpers"
)

// reportTestContext holds test dependencies for report repository tests.
type reportTestContext struct {
	t          *testing.T
	engineDB   *testhelpers.EngineDB
	repo       ReportRepository
	customerID uuid.UUID
	otherID    uuid.UUID
}

// setupReportTest initializes the test context with shared testcontainer.
func setupReportTest(t *testing.T) *reportTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	tc := &reportTestContext{
		t:          t,
		engineDB:   engineDB,
		repo:       NewReportRepository(),
		customerID: uuid.MustParse("00000000-0000-0000-0000-000000000031"),
		otherID:    uuid.MustParse("00000000-0000-0000-0000-000000000032"),
	}
	tc.ensureTestCustomer(tc.customerID, "Report Test Customer")
	tc.ensureTestCustomer(tc.otherID, "Other Report Customer")
	return tc
}

// ensureTestCustomer creates a customer row if it doesn't exist.
func (tc *reportTestContext) ensureTestCustomer(id uuid.UUID, name string) {
	tc.t.Helper()
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutTenant(ctx)
	if err != nil {
		tc.t.Fatalf("failed to create scope for customer setup: %v", err)
	}
	defer scope.Close()

	_, err = scope.Conn.Exec(ctx, `
		INSERT INTO engine_customers (id, name, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (id) DO NOTHING
	`, id, name)
	if err != nil {
		tc.t.Fatalf("failed to ensure test customer: %v", err)
	}
}

// cleanup removes test reports and audit records.
func (tc *reportTestContext) cleanup() {
	tc.t.Helper()
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutTenant(ctx)
	if err != nil {
		tc.t.Fatalf("failed to create scope for cleanup: %v", err)
	}
	defer scope.Close()

	_, _ = scope.Conn.Exec(ctx, "DELETE FROM engine_report_audit WHERE customer_id IN ($1, $2)", tc.customerID, tc.otherID)
	_, _ = scope.Conn.Exec(ctx, "DELETE FROM engine_reports WHERE customer_id IN ($1, $2)", tc.customerID, tc.otherID)
}

// createTestContext returns a context with tenant scope.
func (tc *reportTestContext) createTestContext() (context.Context, func()) {
	tc.t.Helper()
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutTenant(ctx)
	if err != nil {
		tc.t.Fatalf("failed to create tenant scope: %v", err)
	}
	ctx = database.SetTenantScope(ctx, scope)
	return ctx, func() { scope.Close() }
}

// testDefinition builds a small but representative report definition.
func testDefinition(name string) *models.ReportDefinition {
	return &models.ReportDefinition{
		ID:        "rpt-" + name,
		Name:      name,
		Theme:     models.DefaultReportTheme,
		DateRange: models.DateRange{Type: models.PeriodLast30},
		Sections: []models.ReportSection{
			{
				Type:  models.SectionTypeHero,
				Title: "Total Loads",
				Config: models.SectionConfig{
					Metric:      "load_id",
					Aggregation: "count",
				},
			},
			{
				Type:  models.SectionTypeChart,
				Title: "Loads by Carrier",
				Config: models.SectionConfig{
					GroupBy:     "carrier_name",
					Metric:      "load_id",
					Aggregation: "count",
					ChartType:   "bar",
				},
				Data: []models.NameValue{
					{Name: "Knight-Swift", Value: 120},
					{Name: "Schneider", Value: 88},
				},
			},
		},
		Summary: "Volume overview for the last 30 days",
	}
}

// createTestReport persists a report owned by the test customer.
func (tc *reportTestContext) createTestReport(ctx context.Context, name string) *models.StoredReport {
	tc.t.Helper()
	report := &models.StoredReport{
		CustomerID: tc.customerID,
		Name:       name,
		Definition: testDefinition(name),
	}
	if err := tc.repo.SaveReport(ctx, report); err != nil {
		tc.t.Fatalf("failed to create test report: %v", err)
	}
	return report
}

// ============================================================================
// SaveReport / GetReport Tests
// ============================================================================

func TestReportRepository_SaveReport_Insert(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	createdBy := "user-123"
	report := &models.StoredReport{
		CustomerID: tc.customerID,
		Name:       "Carrier Scorecard",
		Definition: testDefinition("Carrier Scorecard"),
		CreatedBy:  &createdBy,
	}

	err := tc.repo.SaveReport(ctx, report)
	if err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if report.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if report.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	retrieved, err := tc.repo.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected report, got nil")
	}
	if retrieved.Name != "Carrier Scorecard" {
		t.Errorf("expected name 'Carrier Scorecard', got %q", retrieved.Name)
	}
	if retrieved.CreatedBy == nil || *retrieved.CreatedBy != "user-123" {
		t.Errorf("expected created_by 'user-123', got %v", retrieved.CreatedBy)
	}
}

func TestReportRepository_SaveReport_DefinitionRoundTrip(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	report := tc.createTestReport(ctx, "Roundtrip")

	retrieved, err := tc.repo.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if retrieved.Definition == nil {
		t.Fatal("expected definition, got nil")
	}

	def := retrieved.Definition
	if def.Theme != models.DefaultReportTheme {
		t.Errorf("expected theme %q, got %q", models.DefaultReportTheme, def.Theme)
	}
	if def.DateRange.Type != models.PeriodLast30 {
		t.Errorf("expected dateRange last30, got %q", def.DateRange.Type)
	}
	if len(def.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(def.Sections))
	}
	if def.Sections[0].Type != models.SectionTypeHero {
		t.Errorf("expected hero section first, got %q", def.Sections[0].Type)
	}
	chart := def.Sections[1]
	if chart.Config.GroupBy != "carrier_name" {
		t.Errorf("expected groupBy carrier_name, got %q", chart.Config.GroupBy)
	}
	if len(chart.Data) != 2 || chart.Data[0].Name != "Knight-Swift" {
		t.Errorf("expected preview data to survive the round trip, got %+v", chart.Data)
	}
	if def.Summary != "Volume overview for the last 30 days" {
		t.Errorf("expected summary to survive, got %q", def.Summary)
	}
}

func TestReportRepository_SaveReport_Update(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	report := tc.createTestReport(ctx, "Before Rename")
	originalID := report.ID

	report.Name = "After Rename"
	report.Definition.Summary = "Updated summary"
	if err := tc.repo.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport update failed: %v", err)
	}

	retrieved, err := tc.repo.GetReport(ctx, originalID)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if retrieved.Name != "After Rename" {
		t.Errorf("expected updated name, got %q", retrieved.Name)
	}
	if retrieved.Definition.Summary != "Updated summary" {
		t.Errorf("expected updated summary, got %q", retrieved.Definition.Summary)
	}

	reports, err := tc.repo.ListReports(ctx, tc.customerID, 10)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(reports) != 1 {
		t.Errorf("expected 1 report after update, got %d", len(reports))
	}
}

func TestReportRepository_GetReport_NotFound(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	report, err := tc.repo.GetReport(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetReport should not error for not found: %v", err)
	}
	if report != nil {
		t.Errorf("expected nil for not found, got %+v", report)
	}
}

// ============================================================================
// ListReports Tests
// ============================================================================

func TestReportRepository_ListReports(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	tc.createTestReport(ctx, "First")
	tc.createTestReport(ctx, "Second")
	tc.createTestReport(ctx, "Third")

	other := &models.StoredReport{
		CustomerID: tc.otherID,
		Name:       "Not Mine",
		Definition: testDefinition("Not Mine"),
	}
	if err := tc.repo.SaveReport(ctx, other); err != nil {
		t.Fatalf("SaveReport for other customer failed: %v", err)
	}

	reports, err := tc.repo.ListReports(ctx, tc.customerID, 10)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(reports) != 3 {
		t.Errorf("expected 3 reports, got %d", len(reports))
	}
	for _, r := range reports {
		if r.CustomerID != tc.customerID {
			t.Errorf("expected only this customer's reports, got %v", r.CustomerID)
		}
	}
}

func TestReportRepository_ListReports_Limit(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	tc.createTestReport(ctx, "One")
	tc.createTestReport(ctx, "Two")
	tc.createTestReport(ctx, "Three")

	reports, err := tc.repo.ListReports(ctx, tc.customerID, 2)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(reports) != 2 {
		t.Errorf("expected limit of 2 to apply, got %d", len(reports))
	}
}

func TestReportRepository_ListReports_Empty(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	reports, err := tc.repo.ListReports(ctx, tc.customerID, 10)
	if err != nil {
		t.Fatalf("ListReports failed: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("expected 0 reports, got %d", len(reports))
	}
}

// ============================================================================
// DeleteReport Tests
// ============================================================================

func TestReportRepository_DeleteReport(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	report := tc.createTestReport(ctx, "Doomed")

	if err := tc.repo.DeleteReport(ctx, report.ID); err != nil {
		t.Fatalf("DeleteReport failed: %v", err)
	}

	retrieved, err := tc.repo.GetReport(ctx, report.ID)
	if err != nil {
		t.Fatalf("GetReport failed: %v", err)
	}
	if retrieved != nil {
		t.Error("expected report to be deleted")
	}
}

func TestReportRepository_DeleteReport_NotFound(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	err := tc.repo.DeleteReport(ctx, uuid.New())
	if err == nil {
		t.Fatal("expected error for non-existent report")
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Audit Record Tests
// ============================================================================

func TestReportRepository_SaveAuditRecord(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	userID := "user-456"
	reportID := "rpt-abc"
	record := &models.ReportAuditRecord{
		CustomerID:     tc.customerID,
		UserID:         &userID,
		Prompt:         "show me on-time performance by carrier",
		Success:        true,
		ReportID:       &reportID,
		ToolCallCount:  7,
		ViolationCount: 0,
		Model:          "claude-sonnet-4-5",
		DurationMs:     4200,
	}

	err := tc.repo.SaveAuditRecord(ctx, record)
	if err != nil {
		t.Fatalf("SaveAuditRecord failed: %v", err)
	}
	if record.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}

	records, err := tc.repo.ListAuditRecords(ctx, tc.customerID, 10)
	if err != nil {
		t.Fatalf("ListAuditRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	got := records[0]
	if got.Prompt != "show me on-time performance by carrier" {
		t.Errorf("unexpected prompt: %q", got.Prompt)
	}
	if !got.Success {
		t.Error("expected success to be true")
	}
	if got.ToolCallCount != 7 {
		t.Errorf("expected 7 tool calls, got %d", got.ToolCallCount)
	}
	if got.ReportID == nil || *got.ReportID != "rpt-abc" {
		t.Errorf("expected report_id 'rpt-abc', got %v", got.ReportID)
	}
}

func TestReportRepository_SaveAuditRecord_FailedRun(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	// Failed runs have no report and no user for service calls
	record := &models.ReportAuditRecord{
		CustomerID:     tc.customerID,
		Prompt:         "build a margin report",
		Success:        false,
		ToolCallCount:  3,
		ViolationCount: 2,
		Model:          "claude-sonnet-4-5",
		DurationMs:     1800,
	}

	if err := tc.repo.SaveAuditRecord(ctx, record); err != nil {
		t.Fatalf("SaveAuditRecord failed: %v", err)
	}

	records, err := tc.repo.ListAuditRecords(ctx, tc.customerID, 10)
	if err != nil {
		t.Fatalf("ListAuditRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	got := records[0]
	if got.Success {
		t.Error("expected success to be false")
	}
	if got.UserID != nil {
		t.Errorf("expected nil user_id, got %v", got.UserID)
	}
	if got.ReportID != nil {
		t.Errorf("expected nil report_id, got %v", got.ReportID)
	}
	if got.ViolationCount != 2 {
		t.Errorf("expected 2 violations, got %d", got.ViolationCount)
	}
}

func TestReportRepository_ListAuditRecords_ScopedToCustomer(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx, cleanup := tc.createTestContext()
	defer cleanup()

	mine := &models.ReportAuditRecord{
		CustomerID: tc.customerID,
		Prompt:     "mine",
		Success:    true,
		Model:      "claude-sonnet-4-5",
	}
	theirs := &models.ReportAuditRecord{
		CustomerID: tc.otherID,
		Prompt:     "theirs",
		Success:    true,
		Model:      "claude-sonnet-4-5",
	}
	if err := tc.repo.SaveAuditRecord(ctx, mine); err != nil {
		t.Fatalf("SaveAuditRecord failed: %v", err)
	}
	if err := tc.repo.SaveAuditRecord(ctx, theirs); err != nil {
		t.Fatalf("SaveAuditRecord failed: %v", err)
	}

	records, err := tc.repo.ListAuditRecords(ctx, tc.customerID, 10)
	if err != nil {
		t.Fatalf("ListAuditRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if records[0].Prompt != "mine" {
		t.Errorf("expected this customer's record, got %q", records[0].Prompt)
	}
}

// ============================================================================
// No Tenant Scope Tests (RLS Enforcement)
// ============================================================================

func TestReportRepository_NoTenantScope(t *testing.T) {
	tc := setupReportTest(t)
	tc.cleanup()

	ctx := context.Background() // No tenant scope

	report := &models.StoredReport{
		CustomerID: tc.customerID,
		Name:       "test",
		Definition: testDefinition("test"),
	}

	if err := tc.repo.SaveReport(ctx, report); err == nil {
		t.Error("expected error for SaveReport without tenant scope")
	}
	if _, err := tc.repo.GetReport(ctx, uuid.New()); err == nil {
		t.Error("expected error for GetReport without tenant scope")
	}
	if _, err := tc.repo.ListReports(ctx, tc.customerID, 10); err == nil {
		t.Error("expected error for ListReports without tenant scope")
	}
	if err := tc.repo.DeleteReport(ctx, uuid.New()); err == nil {
		t.Error("expected error for DeleteReport without tenant scope")
	}
	if err := tc.repo.SaveAuditRecord(ctx, &models.ReportAuditRecord{CustomerID: tc.customerID}); err == nil {
		t.Error("expected error for SaveAuditRecord without tenant scope")
	}
	if _, err := tc.repo.ListAuditRecords(ctx, tc.customerID, 10); err == nil {
		t.Error("expected error for ListAuditRecords without tenant scope")
	}
}
