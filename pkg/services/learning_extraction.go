package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/llm"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
)

// Extraction patterns. Each fires on user-authored text only; the agent's
// own words never become knowledge.
var (
	// "OTD means on-time delivery", "'reefer loads' means refrigerated freight"
	termMeansRe = regexp.MustCompile(`(?i)["']?([A-Za-z][\w /-]{0,40}?)["']?\s+means\s+(.+?)(?:[.!?;]|$)`)

	// "when I say hot loads, I mean expedited shipments"
	whenISayRe = regexp.MustCompile(`(?i)\bwhen\s+(?:I|we)\s+say\s+["']?([A-Za-z][\w /-]{0,40}?)["']?\s*,?\s+(?:I|we)\s+mean\s+(.+?)(?:[.!?;]|$)`)

	// "by lanes I mean origin-destination pairs"
	byXIMeanRe = regexp.MustCompile(`(?i)\bby\s+["']?([A-Za-z][\w /-]{0,40}?)["']?\s*,?\s+(?:I|we)\s+mean\s+(.+?)(?:[.!?;]|$)`)

	// "we ship frozen food, produce and dry goods"
	weSellRe = regexp.MustCompile(`(?i)\bwe\s+(?:sell|ship|move|haul|offer|handle)\s+(.+?)(?:[.!?;]|$)`)

	// "I prefer pie charts", "always use line charts"
	chartPrefRe = regexp.MustCompile(`(?i)\b(?:(?:I|we)\s+(?:prefer|like|want)|always\s+use)\s+(\w+)\s+charts?\b`)

	// correction openers
	correctionRe = regexp.MustCompile(`(?i)\b(?:that'?s\s+(?:wrong|incorrect|not\s+right)|no,\s+not\b|actually\s+(?:it|the|that)\b|actually\s+(?:i|we)\s+meant\b)`)

	productSplitRe = regexp.MustCompile(`(?i)\s*(?:,|\band\b)\s*`)
)

// LearningExtractionService finds durable facts in conversation text and
// persists them as knowledge. High-confidence extractions become active
// immediately; low-confidence ones are stored inactive for review.
// Corrections are never written to knowledge, they become pending feedback
// rows.
type LearningExtractionService interface {
	// Extract scans user messages for terminology, product, preference, and
	// correction signals. Preference extraction only fires when a report is
	// actually in progress, so "I prefer bar charts" in an unrelated aside
	// does not become a standing rule. Duplicates by (type, key) within one
	// pass collapse to the first occurrence.
	Extract(messages []models.ConversationMessage, reportInProgress bool) []models.LearningExtraction

	// ParseLearningFlags decodes the learnings the model itself flagged in
	// its final response, if any.
	ParseLearningFlags(response string) []models.LearningExtraction

	// Persist writes extractions for one customer. Returns the number of
	// knowledge rows written (corrections excluded).
	Persist(ctx context.Context, customerID uuid.UUID, learnings []models.LearningExtraction) (int, error)
}

type learningExtractionService struct {
	knowledge repositories.KnowledgeRepository
	feedback  repositories.FeedbackRepository
	logger    *zap.Logger
}

// NewLearningExtractionService creates a new LearningExtractionService.
func NewLearningExtractionService(
	knowledge repositories.KnowledgeRepository,
	feedback repositories.FeedbackRepository,
	logger *zap.Logger,
) LearningExtractionService {
	return &learningExtractionService{
		knowledge: knowledge,
		feedback:  feedback,
		logger:    logger.Named("learning_extraction"),
	}
}

var _ LearningExtractionService = (*learningExtractionService)(nil)

func (s *learningExtractionService) Extract(messages []models.ConversationMessage, reportInProgress bool) []models.LearningExtraction {
	var out []models.LearningExtraction
	seen := make(map[string]bool)

	add := func(l models.LearningExtraction) {
		l.Key = strings.TrimSpace(l.Key)
		l.Value = strings.TrimSpace(l.Value)
		if l.Key == "" || l.Value == "" {
			return
		}
		if seen[l.DedupKey()] {
			return
		}
		seen[l.DedupKey()] = true
		out = append(out, l)
	}

	for _, msg := range messages {
		if msg.Role != models.RoleUser {
			continue
		}
		text := msg.Content

		for _, re := range []*regexp.Regexp{whenISayRe, byXIMeanRe, termMeansRe} {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				add(models.LearningExtraction{
					Type:       models.LearningTypeTerminology,
					Key:        strings.ToLower(m[1]),
					Value:      m[2],
					Confidence: models.LearningConfidenceDefault,
					Source:     models.LearningSourceExplicit,
				})
			}
		}

		for _, m := range weSellRe.FindAllStringSubmatch(text, -1) {
			for _, product := range productSplitRe.Split(m[1], -1) {
				add(models.LearningExtraction{
					Type:       models.LearningTypeProduct,
					Key:        strings.ToLower(strings.TrimSpace(product)),
					Value:      strings.TrimSpace(product),
					Confidence: models.LearningConfidenceDefault,
					Source:     models.LearningSourceExplicit,
				})
			}
		}

		if reportInProgress {
			for _, m := range chartPrefRe.FindAllStringSubmatch(text, -1) {
				add(models.LearningExtraction{
					Type:       models.LearningTypePreference,
					Key:        "chart_type",
					Value:      strings.ToLower(m[1]),
					Confidence: models.LearningConfidenceInferred,
					Source:     models.LearningSourceInferred,
				})
			}
		}

		if correctionRe.MatchString(text) {
			add(models.LearningExtraction{
				Type:       models.LearningTypeCorrection,
				Key:        correctionKey(text),
				Value:      strings.TrimSpace(text),
				Confidence: models.LearningConfidenceDefault,
				Source:     models.LearningSourceExplicit,
			})
		}
	}

	return out
}

// correctionKey dedups repeated corrections within one conversation.
func correctionKey(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if len(t) > 60 {
		t = t[:60]
	}
	return t
}

func (s *learningExtractionService) ParseLearningFlags(response string) []models.LearningExtraction {
	block, ok := llm.ExtractTagBlock(response, "learning_flag")
	if !ok {
		return nil
	}

	var flagged []models.LearningExtraction
	if err := json.Unmarshal([]byte(block), &flagged); err != nil {
		// Single object instead of an array is also accepted.
		var one models.LearningExtraction
		if err := json.Unmarshal([]byte(block), &one); err != nil {
			s.logger.Debug("unparseable learning_flag block", zap.Error(err))
			return nil
		}
		flagged = []models.LearningExtraction{one}
	}

	out := flagged[:0]
	for _, l := range flagged {
		if l.Key == "" || l.Value == "" {
			continue
		}
		if l.Confidence == 0 {
			l.Confidence = models.LearningConfidenceDefault
		}
		if l.Source == "" {
			l.Source = models.LearningSourceExplicit
		}
		out = append(out, l)
	}
	return out
}

func (s *learningExtractionService) Persist(ctx context.Context, customerID uuid.UUID, learnings []models.LearningExtraction) (int, error) {
	written := 0
	for _, l := range learnings {
		if l.Type == models.LearningTypeCorrection {
			fb := &models.ReportFeedback{
				CustomerID: customerID,
				Text:       l.Value,
				Status:     models.FeedbackStatusPending,
			}
			if err := s.feedback.Create(ctx, fb); err != nil {
				return written, fmt.Errorf("failed to record correction: %w", err)
			}
			continue
		}

		knowledgeType, ok := learningKnowledgeType(l.Type)
		if !ok {
			s.logger.Warn("skipping learning with unknown type", zap.String("type", l.Type))
			continue
		}

		active := l.Confidence >= models.LearningConfidenceActiveThreshold
		cid := customerID
		entry := &models.KnowledgeEntry{
			CustomerID:      &cid,
			Scope:           models.KnowledgeScopeCustomer,
			KnowledgeType:   knowledgeType,
			Key:             l.Key,
			Value:           l.Value,
			Confidence:      l.Confidence,
			Source:          models.KnowledgeSourceLearned,
			Active:          active,
			NeedsReview:     !active,
			CustomerVisible: true,
		}
		if l.MapsTo != "" {
			entry.MapsToField = &l.MapsTo
		}
		if err := s.knowledge.Upsert(ctx, entry); err != nil {
			return written, fmt.Errorf("failed to persist learning %q: %w", l.Key, err)
		}
		written++
	}

	if written > 0 {
		s.logger.Info("persisted conversation learnings",
			zap.String("customer_id", customerID.String()),
			zap.Int("count", written))
	}
	return written, nil
}

func learningKnowledgeType(learningType string) (string, bool) {
	switch learningType {
	case models.LearningTypeTerminology:
		return models.KnowledgeTypeTerminology, true
	case models.LearningTypeProduct:
		return models.KnowledgeTypeProduct, true
	case models.LearningTypePreference:
		return models.KnowledgeTypePreference, true
	}
	return "", false
}
