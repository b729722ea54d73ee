// assess-report-quality evaluates stored report definitions for a customer
// using Claude as a judge plus deterministic structure checks.
//
// Focus areas:
// - Structural validity: sections present, config complete per section type
// - Prompt fit: does the report plausibly answer the audited prompt?
// - Layout quality: section variety, hero-first ordering, sane chart choices
// - Access hygiene: no cost/margin references in customer-facing reports
//
// Usage: go run ./scripts/assess-report-quality <customer-id>
//
// Database connection: Uses standard PG* environment variables.
// Requires ANTHROPIC_API_KEY for the judged assessment; without it only the
// deterministic checks run.
//
// NOTE: This standalone assessment script uses direct SQL queries rather than
// the repository layer. This is intentional to keep the script self-contained.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/liushuangls/go-anthropic/v2"
)

const judgeModel = "claude-sonnet-4-5-20250929"

// StoredReport is one engine_reports row joined with its audit prompt.
type StoredReport struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	Prompt     string          `json:"prompt"`
	CreatedAt  string          `json:"created_at"`
}

// reportDefinition mirrors the subset of the definition JSON the checks need.
type reportDefinition struct {
	Name     string `json:"name"`
	Sections []struct {
		Type   string         `json:"type"`
		Title  string         `json:"title"`
		Config map[string]any `json:"config"`
	} `json:"sections"`
}

// StructureCheck is the deterministic half of the assessment.
type StructureCheck struct {
	ReportID       uuid.UUID `json:"report_id"`
	SectionCount   int       `json:"section_count"`
	SectionTypes   []string  `json:"section_types"`
	MissingConfig  []string  `json:"missing_config"`
	RestrictedRefs []string  `json:"restricted_refs"`
	HeroFirst      bool      `json:"hero_first"`
	StructureScore int       `json:"structure_score"`
}

// JudgedAssessment is Claude's verdict on one report.
type JudgedAssessment struct {
	PromptFitScore int      `json:"prompt_fit_score"`
	LayoutScore    int      `json:"layout_score"`
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
}

// AssessmentResult is the final JSON printed to stdout.
type AssessmentResult struct {
	CustomerID      uuid.UUID          `json:"customer_id"`
	ReportsAssessed int                `json:"reports_assessed"`
	StructureChecks []StructureCheck   `json:"structure_checks"`
	Judged          []JudgedAssessment `json:"judged,omitempty"`
	FinalScore      int                `json:"final_score"`
	Summary         string             `json:"summary"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <customer-id>\n", os.Args[0])
		os.Exit(1)
	}

	customerID, err := uuid.Parse(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid customer ID: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	conn, err := pgx.Connect(ctx, buildConnString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(ctx)

	// RLS: scope the session to the audited customer.
	if _, err := conn.Exec(ctx, "SELECT set_config('app.current_customer_id', $1, false)", customerID.String()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set customer scope: %v\n", err)
		os.Exit(1)
	}

	reports, err := loadReports(ctx, conn, customerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load reports: %v\n", err)
		os.Exit(1)
	}
	if len(reports) == 0 {
		fmt.Fprintf(os.Stderr, "No reports found for customer %s\n", customerID)
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "Assessing %d reports...\n", len(reports))

	result := AssessmentResult{
		CustomerID:      customerID,
		ReportsAssessed: len(reports),
	}

	structureTotal := 0
	for _, r := range reports {
		check := checkStructure(r)
		result.StructureChecks = append(result.StructureChecks, check)
		structureTotal += check.StructureScore
	}
	structureAvg := structureTotal / len(reports)

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	judgedAvg := 0
	if apiKey == "" {
		fmt.Fprintf(os.Stderr, "ANTHROPIC_API_KEY not set, skipping judged assessment\n")
		result.FinalScore = structureAvg
	} else {
		client := anthropic.NewClient(apiKey)
		judgedTotal := 0
		for _, r := range reports {
			fmt.Fprintf(os.Stderr, "Judging report %s...\n", r.ID)
			judged := judgeReport(ctx, client, r)
			result.Judged = append(result.Judged, judged)
			judgedTotal += (judged.PromptFitScore + judged.LayoutScore) / 2
		}
		judgedAvg = judgedTotal / len(reports)

		// Weights: structure 40%, judged quality 60%
		result.FinalScore = int(float64(structureAvg)*0.40 + float64(judgedAvg)*0.60)
	}

	result.Summary = summarize(result.FinalScore, structureAvg, judgedAvg)

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func loadReports(ctx context.Context, conn *pgx.Conn, customerID uuid.UUID) ([]StoredReport, error) {
	rows, err := conn.Query(ctx, `
		SELECT r.id, r.name, r.definition, COALESCE(a.prompt, ''), r.created_at::text
		FROM engine_reports r
		LEFT JOIN engine_report_audit a ON a.report_id = r.id
		WHERE r.customer_id = $1
		ORDER BY r.created_at DESC
		LIMIT 25`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []StoredReport
	for rows.Next() {
		var r StoredReport
		if err := rows.Scan(&r.ID, &r.Name, &r.Definition, &r.Prompt, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// requiredConfigKeys mirrors the validator's per-type config requirements.
var requiredConfigKeys = map[string][]string{
	"chart":         {"groupBy", "metric"},
	"table":         {"columns"},
	"hero":          {"metric"},
	"stat-row":      {"metric"},
	"map":           {"groupBy"},
	"category-grid": {"groupBy"},
}

var restrictedFieldNames = []string{"cost", "margin", "avg_cost_per_mile"}

func checkStructure(r StoredReport) StructureCheck {
	check := StructureCheck{ReportID: r.ID}

	var def reportDefinition
	if err := json.Unmarshal(r.Definition, &def); err != nil {
		check.MissingConfig = append(check.MissingConfig, fmt.Sprintf("unparseable definition: %v", err))
		return check
	}

	check.SectionCount = len(def.Sections)
	for i, s := range def.Sections {
		check.SectionTypes = append(check.SectionTypes, s.Type)
		for _, key := range requiredConfigKeys[s.Type] {
			if _, ok := s.Config[key]; !ok {
				check.MissingConfig = append(check.MissingConfig,
					fmt.Sprintf("section %d (%s) missing %s", i, s.Type, key))
			}
		}
		configJSON, _ := json.Marshal(s.Config)
		lower := strings.ToLower(string(configJSON))
		for _, restricted := range restrictedFieldNames {
			if strings.Contains(lower, `"`+restricted+`"`) {
				check.RestrictedRefs = append(check.RestrictedRefs,
					fmt.Sprintf("section %d (%s) references %s", i, s.Title, restricted))
			}
		}
	}
	check.HeroFirst = len(def.Sections) > 0 && def.Sections[0].Type == "hero"

	// Score: start from full marks, deduct for each structural defect.
	score := 100
	if check.SectionCount == 0 {
		score = 0
	}
	score -= 15 * len(check.MissingConfig)
	score -= 25 * len(check.RestrictedRefs)
	if !check.HeroFirst && check.SectionCount > 1 {
		score -= 5
	}
	if score < 0 {
		score = 0
	}
	check.StructureScore = score
	return check
}

func judgeReport(ctx context.Context, client *anthropic.Client, r StoredReport) JudgedAssessment {
	prompt := fmt.Sprintf(`You are assessing a freight analytics report built by an AI agent.

The user asked:
%s

The agent produced this report definition (JSON):
%s

Rate the report on two axes, each 0-100:
- prompt_fit_score: does the report answer what the user asked for?
- layout_score: is the section mix sensible (summary metric first, appropriate chart types, no redundant sections)?

Also list up to 3 strengths and up to 3 weaknesses.

Return ONLY JSON: {"prompt_fit_score": N, "layout_score": N, "strengths": [...], "weaknesses": [...]}`,
		r.Prompt, string(r.Definition))

	resp, err := client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     judgeModel,
		MaxTokens: 1500,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return JudgedAssessment{
			PromptFitScore: 50,
			LayoutScore:    50,
			Weaknesses:     []string{fmt.Sprintf("Assessment failed: %v", err)},
		}
	}

	var judged JudgedAssessment
	responseText := extractJSON(extractTextFromResponse(resp))
	if err := json.Unmarshal([]byte(responseText), &judged); err != nil {
		return JudgedAssessment{
			PromptFitScore: 50,
			LayoutScore:    50,
			Weaknesses:     []string{fmt.Sprintf("Parse error: %v", err)},
		}
	}
	return judged
}

func summarize(finalScore, structureAvg, judgedAvg int) string {
	var grade string
	switch {
	case finalScore >= 90:
		grade = "Excellent: reports are well-formed and answer their prompts"
	case finalScore >= 75:
		grade = "Good: minor layout or completeness issues"
	case finalScore >= 50:
		grade = "Fair: noticeable gaps between prompts and produced reports"
	default:
		grade = "Poor: reports frequently malformed or off-target"
	}
	return fmt.Sprintf("%s (structure %d, judged %d)", grade, structureAvg, judgedAvg)
}

func buildConnString() string {
	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "postgres")
	password := os.Getenv("PGPASSWORD")
	dbname := getEnvOrDefault("PGDATABASE", "lanewise_engine")

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
	if password != "" {
		connStr += fmt.Sprintf(" password=%s", password)
	}
	return connStr
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func extractTextFromResponse(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
