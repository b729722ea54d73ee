package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// recordingKnowledgeRepo captures upserted entries.
type recordingKnowledgeRepo struct {
	fakeKnowledgeRepo
	upserted []*models.KnowledgeEntry
}

func (r *recordingKnowledgeRepo) Upsert(_ context.Context, entry *models.KnowledgeEntry) error {
	r.upserted = append(r.upserted, entry)
	return nil
}

// recordingFeedbackRepo captures created feedback rows.
type recordingFeedbackRepo struct {
	created []*models.ReportFeedback
}

func (r *recordingFeedbackRepo) Create(_ context.Context, fb *models.ReportFeedback) error {
	r.created = append(r.created, fb)
	return nil
}
func (r *recordingFeedbackRepo) Get(context.Context, uuid.UUID) (*models.ReportFeedback, error) {
	return nil, nil
}
func (r *recordingFeedbackRepo) ListByStatus(context.Context, uuid.UUID, string) ([]*models.ReportFeedback, error) {
	return nil, nil
}
func (r *recordingFeedbackRepo) UpdateStatus(context.Context, uuid.UUID, string) error { return nil }

func newLearningService() (LearningExtractionService, *recordingKnowledgeRepo, *recordingFeedbackRepo) {
	knowledge := &recordingKnowledgeRepo{}
	feedback := &recordingFeedbackRepo{}
	return NewLearningExtractionService(knowledge, feedback, zap.NewNop()), knowledge, feedback
}

func userMsg(content string) models.ConversationMessage {
	return models.ConversationMessage{Role: models.RoleUser, Content: content}
}

func TestExtract_TerminologyPatterns(t *testing.T) {
	svc, _, _ := newLearningService()

	tests := []struct {
		name      string
		text      string
		wantKey   string
		wantValue string
	}{
		{
			name:      "X means Y",
			text:      "OTD means on-time delivery percentage.",
			wantKey:   "otd",
			wantValue: "on-time delivery percentage",
		},
		{
			name:      "quoted term means",
			text:      `"hot load" means a shipment needing expedited handling.`,
			wantKey:   "hot load",
			wantValue: "a shipment needing expedited handling",
		},
		{
			name:      "when I say",
			text:      "When I say reefer loads, I mean refrigerated freight.",
			wantKey:   "reefer loads",
			wantValue: "refrigerated freight",
		},
		{
			name:      "by X we mean",
			text:      "By lanes we mean origin-destination state pairs.",
			wantKey:   "lanes",
			wantValue: "origin-destination state pairs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := svc.Extract([]models.ConversationMessage{userMsg(tt.text)}, false)
			require.NotEmpty(t, out)
			found := false
			for _, l := range out {
				if l.Type == models.LearningTypeTerminology && l.Key == tt.wantKey {
					assert.Equal(t, tt.wantValue, l.Value)
					assert.Equal(t, models.LearningSourceExplicit, l.Source)
					assert.Equal(t, models.LearningConfidenceDefault, l.Confidence)
					found = true
				}
			}
			assert.True(t, found, "expected terminology extraction for %q", tt.wantKey)
		})
	}
}

func TestExtract_Products(t *testing.T) {
	svc, _, _ := newLearningService()

	out := svc.Extract([]models.ConversationMessage{
		userMsg("We ship frozen food, produce and dry goods."),
	}, false)

	keys := make([]string, 0, len(out))
	for _, l := range out {
		if l.Type == models.LearningTypeProduct {
			keys = append(keys, l.Key)
		}
	}
	assert.ElementsMatch(t, []string{"frozen food", "produce", "dry goods"}, keys)
}

func TestExtract_ChartPreferenceGatedOnReportInProgress(t *testing.T) {
	svc, _, _ := newLearningService()
	msgs := []models.ConversationMessage{userMsg("I prefer pie charts for breakdowns.")}

	out := svc.Extract(msgs, false)
	for _, l := range out {
		assert.NotEqual(t, models.LearningTypePreference, l.Type,
			"preferences must not fire outside a report build")
	}

	out = svc.Extract(msgs, true)
	require.Len(t, out, 1)
	assert.Equal(t, models.LearningTypePreference, out[0].Type)
	assert.Equal(t, "chart_type", out[0].Key)
	assert.Equal(t, "pie", out[0].Value)
	assert.Equal(t, models.LearningConfidenceInferred, out[0].Confidence)
	assert.Equal(t, models.LearningSourceInferred, out[0].Source)
}

func TestExtract_Corrections(t *testing.T) {
	svc, _, _ := newLearningService()

	out := svc.Extract([]models.ConversationMessage{
		userMsg("That's wrong, detention starts after two hours, not one."),
	}, false)

	var corrections []models.LearningExtraction
	for _, l := range out {
		if l.Type == models.LearningTypeCorrection {
			corrections = append(corrections, l)
		}
	}
	require.Len(t, corrections, 1)
	assert.Contains(t, corrections[0].Value, "detention starts after two hours")
}

func TestExtract_CorrectionsMeantPhrasing(t *testing.T) {
	svc, _, _ := newLearningService()

	out := svc.Extract([]models.ConversationMessage{
		userMsg("Actually I meant carriers, not customers."),
	}, false)

	var corrections []models.LearningExtraction
	for _, l := range out {
		if l.Type == models.LearningTypeCorrection {
			corrections = append(corrections, l)
		}
	}
	require.Len(t, corrections, 1)
	assert.Contains(t, corrections[0].Value, "carriers, not customers")
}

func TestExtract_IgnoresAssistantMessages(t *testing.T) {
	svc, _, _ := newLearningService()

	out := svc.Extract([]models.ConversationMessage{
		{Role: models.RoleAssistant, Content: "Deadhead means miles driven without a load."},
	}, false)
	assert.Empty(t, out, "the agent's own words never become knowledge")
}

func TestExtract_DedupsWithinPass(t *testing.T) {
	svc, _, _ := newLearningService()

	out := svc.Extract([]models.ConversationMessage{
		userMsg("OTD means on-time delivery."),
		userMsg("Remember, OTD means on-time delivery rate."),
	}, false)

	count := 0
	for _, l := range out {
		if l.Type == models.LearningTypeTerminology && l.Key == "otd" {
			count++
			assert.Equal(t, "on-time delivery", l.Value, "first occurrence wins")
		}
	}
	assert.Equal(t, 1, count)
}

func TestParseLearningFlags(t *testing.T) {
	svc, _, _ := newLearningService()

	t.Run("array block", func(t *testing.T) {
		response := `Here is your report. <learning_flag>[{"type":"terminology","key":"drop trailer","value":"trailer left at the shipper for loading"}]</learning_flag>`
		out := svc.ParseLearningFlags(response)
		require.Len(t, out, 1)
		assert.Equal(t, "drop trailer", out[0].Key)
		assert.Equal(t, models.LearningConfidenceDefault, out[0].Confidence, "zero confidence gets the default")
		assert.Equal(t, models.LearningSourceExplicit, out[0].Source)
	})

	t.Run("single object block", func(t *testing.T) {
		response := `<learning_flag>{"type":"product","key":"expedited","value":"guaranteed service","confidence":0.7}</learning_flag>`
		out := svc.ParseLearningFlags(response)
		require.Len(t, out, 1)
		assert.Equal(t, 0.7, out[0].Confidence)
	})

	t.Run("missing block", func(t *testing.T) {
		assert.Nil(t, svc.ParseLearningFlags("no flags here"))
	})

	t.Run("garbage block", func(t *testing.T) {
		assert.Nil(t, svc.ParseLearningFlags("<learning_flag>not json</learning_flag>"))
	})

	t.Run("entries without key or value are dropped", func(t *testing.T) {
		response := `<learning_flag>[{"type":"terminology","key":"","value":"orphan"},{"type":"terminology","key":"good","value":"kept"}]</learning_flag>`
		out := svc.ParseLearningFlags(response)
		require.Len(t, out, 1)
		assert.Equal(t, "good", out[0].Key)
	})
}

func TestPersist_KnowledgeAndConfidenceGating(t *testing.T) {
	svc, knowledge, feedback := newLearningService()
	customerID := uuid.New()

	written, err := svc.Persist(context.Background(), customerID, []models.LearningExtraction{
		{Type: models.LearningTypeTerminology, Key: "otd", Value: "on-time delivery", Confidence: 0.9, Source: models.LearningSourceExplicit},
		{Type: models.LearningTypePreference, Key: "chart_type", Value: "pie", Confidence: 0.6, Source: models.LearningSourceInferred},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Empty(t, feedback.created)

	require.Len(t, knowledge.upserted, 2)

	high := knowledge.upserted[0]
	assert.True(t, high.Active)
	assert.False(t, high.NeedsReview)
	assert.Equal(t, models.KnowledgeSourceLearned, high.Source)
	assert.Equal(t, models.KnowledgeScopeCustomer, high.Scope)
	require.NotNil(t, high.CustomerID)
	assert.Equal(t, customerID, *high.CustomerID)

	low := knowledge.upserted[1]
	assert.False(t, low.Active, "below-threshold learnings stay inactive")
	assert.True(t, low.NeedsReview)
}

func TestPersist_CorrectionsBecomeFeedback(t *testing.T) {
	svc, knowledge, feedback := newLearningService()
	customerID := uuid.New()

	written, err := svc.Persist(context.Background(), customerID, []models.LearningExtraction{
		{Type: models.LearningTypeCorrection, Key: "that's wrong", Value: "That's wrong, use delivered loads only.", Confidence: 0.9},
	})
	require.NoError(t, err)
	assert.Zero(t, written, "corrections do not count as knowledge writes")
	assert.Empty(t, knowledge.upserted)

	require.Len(t, feedback.created, 1)
	assert.Equal(t, models.FeedbackStatusPending, feedback.created[0].Status)
	assert.Equal(t, customerID, feedback.created[0].CustomerID)
}

func TestPersist_SkipsUnknownTypes(t *testing.T) {
	svc, knowledge, _ := newLearningService()

	written, err := svc.Persist(context.Background(), uuid.New(), []models.LearningExtraction{
		{Type: "premonition", Key: "q4", Value: "volume doubles", Confidence: 0.9},
	})
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Empty(t, knowledge.upserted)
}

func TestPersist_MapsToField(t *testing.T) {
	svc, knowledge, _ := newLearningService()

	_, err := svc.Persist(context.Background(), uuid.New(), []models.LearningExtraction{
		{Type: models.LearningTypeProduct, Key: "reefer service", Value: "refrigerated freight", Confidence: 0.9, MapsTo: "equipment_type"},
	})
	require.NoError(t, err)
	require.Len(t, knowledge.upserted, 1)
	require.NotNil(t, knowledge.upserted[0].MapsToField)
	assert.Equal(t, "equipment_type", *knowledge.upserted[0].MapsToField)
}
