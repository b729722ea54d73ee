package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
)

// Prompt rendering caps. The industry term list is shared vocabulary and can
// grow without bound; the customer's own entries always render in full.
const (
	MaxPromptIndustryTerms = 15
	DocumentPreviewChars   = 280
)

// KnowledgeContextService builds the per-request knowledge context: global
// rows merged with the customer's own, customer winning per (type, key).
type KnowledgeContextService interface {
	// Compile loads and merges knowledge for one customer. Non-admin callers
	// only receive entries flagged customer-visible.
	Compile(ctx context.Context, customerID uuid.UUID, isAdmin bool) (*models.KnowledgeContext, error)

	// FormatForPrompt renders the context as prompt text. Empty contexts
	// render to an empty string.
	FormatForPrompt(kc *models.KnowledgeContext) string
}

type knowledgeContextService struct {
	repo   repositories.KnowledgeRepository
	logger *zap.Logger
}

// NewKnowledgeContextService creates a new KnowledgeContextService.
func NewKnowledgeContextService(repo repositories.KnowledgeRepository, logger *zap.Logger) KnowledgeContextService {
	return &knowledgeContextService{
		repo:   repo,
		logger: logger.Named("knowledge_context"),
	}
}

var _ KnowledgeContextService = (*knowledgeContextService)(nil)

func (s *knowledgeContextService) Compile(ctx context.Context, customerID uuid.UUID, isAdmin bool) (*models.KnowledgeContext, error) {
	entries, err := s.repo.ListForCustomer(ctx, customerID)
	if err != nil {
		s.logger.Error("Failed to load knowledge entries",
			zap.String("customer_id", customerID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load knowledge: %w", err)
	}

	// A customer row shadows the global row with the same (type, key).
	// Keys compare case-insensitively: "OTD" and "otd" are the same term.
	customerOwned := make(map[string]bool)
	for _, e := range entries {
		if !e.IsGlobal() {
			customerOwned[mergeKey(e.KnowledgeType, e.Key)] = true
		}
	}

	kc := &models.KnowledgeContext{}
	for _, e := range entries {
		if e.IsGlobal() && customerOwned[mergeKey(e.KnowledgeType, e.Key)] {
			continue
		}
		if !isAdmin && !e.CustomerVisible {
			continue
		}
		switch e.KnowledgeType {
		case models.KnowledgeTypeTerminology:
			kc.Terms = append(kc.Terms, *e)
		case models.KnowledgeTypeCalculation:
			kc.Calculations = append(kc.Calculations, *e)
		case models.KnowledgeTypeProduct:
			kc.Products = append(kc.Products, *e)
		case models.KnowledgeTypeRule:
			kc.Rules = append(kc.Rules, *e)
		case models.KnowledgeTypeDocument:
			kc.Documents = append(kc.Documents, *e)
		case models.KnowledgeTypePreference:
			kc.Preferences = append(kc.Preferences, *e)
		default:
			s.logger.Warn("Skipping knowledge entry with unknown type",
				zap.String("knowledge_type", e.KnowledgeType),
				zap.String("key", e.Key))
		}
	}

	s.logger.Debug("Knowledge context compiled",
		zap.String("customer_id", customerID.String()),
		zap.Int("entries", kc.TotalEntries()))

	return kc, nil
}

func (s *knowledgeContextService) FormatForPrompt(kc *models.KnowledgeContext) string {
	if kc == nil || kc.IsEmpty() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("# Customer Knowledge\n\n")

	customerTerms, industryTerms := splitByScope(kc.Terms)
	if len(customerTerms) > 0 {
		sb.WriteString("## This customer's terminology\n")
		for _, t := range customerTerms {
			writeTermLine(&sb, t)
		}
		sb.WriteString("\n")
	}
	if len(industryTerms) > 0 {
		sb.WriteString("## Industry terminology\n")
		capped := industryTerms
		if len(capped) > MaxPromptIndustryTerms {
			capped = capped[:MaxPromptIndustryTerms]
		}
		for _, t := range capped {
			writeTermLine(&sb, t)
		}
		sb.WriteString("\n")
	}

	if len(kc.Products) > 0 {
		sb.WriteString("## Products and services\n")
		sb.WriteString("When the user names one of these, filter or search using the mapping:\n")
		for _, p := range kc.Products {
			if p.MapsToField != nil && *p.MapsToField != "" {
				fmt.Fprintf(&sb, "- %s: %s (field: %s)\n", p.Key, p.Value, *p.MapsToField)
			} else {
				fmt.Fprintf(&sb, "- %s: %s\n", p.Key, p.Value)
			}
		}
		sb.WriteString("\n")
	}

	if len(kc.Calculations) > 0 {
		sb.WriteString("## Calculations\n")
		sb.WriteString("Use these formulas when the user asks for the named metric:\n")
		for _, c := range kc.Calculations {
			fmt.Fprintf(&sb, "- %s = %s\n", c.Key, c.Value)
		}
		sb.WriteString("\n")
	}

	if len(kc.Rules) > 0 {
		sb.WriteString("## Business rules\n")
		for _, r := range kc.Rules {
			fmt.Fprintf(&sb, "- %s\n", r.Value)
		}
		sb.WriteString("\n")
	}

	if len(kc.Preferences) > 0 {
		sb.WriteString("## Presentation preferences\n")
		for _, p := range kc.Preferences {
			fmt.Fprintf(&sb, "- %s: %s\n", p.Key, p.Value)
		}
		sb.WriteString("\n")
	}

	if len(kc.Documents) > 0 {
		sb.WriteString("## Reference documents\n")
		for _, d := range kc.Documents {
			preview := truncateOnRuneBoundary(d.Value, DocumentPreviewChars)
			fmt.Fprintf(&sb, "### %s\n%s\n", d.Key, preview)
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// truncateOnRuneBoundary shortens s to at most max bytes without splitting
// a multi-byte rune, appending an ellipsis when anything was cut.
func truncateOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func mergeKey(knowledgeType, key string) string {
	return knowledgeType + "\x00" + strings.ToLower(key)
}

func splitByScope(entries []models.KnowledgeEntry) (customer, global []models.KnowledgeEntry) {
	for _, e := range entries {
		if e.IsGlobal() {
			global = append(global, e)
		} else {
			customer = append(customer, e)
		}
	}
	return customer, global
}

func writeTermLine(sb *strings.Builder, t models.KnowledgeEntry) {
	if t.MapsToField != nil && *t.MapsToField != "" {
		fmt.Fprintf(sb, "- %q means %s (data field: %s)\n", t.Key, t.Value, *t.MapsToField)
	} else {
		fmt.Fprintf(sb, "- %q means %s\n", t.Key, t.Value)
	}
}
