package services

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
	"github.com/lanewise-ai/lanewise-engine/pkg/repositories"
	"github.com/lanewise-ai/lanewise-engine/pkg/warehouse"
)

//go:embed schema_defaults.yaml
var schemaDefaultsYAML []byte

// schemaCacheKey builds the Redis key holding a customer's last-known-good
// field list.
func schemaCacheKey(customerID uuid.UUID) string {
	return fmt.Sprintf("engine:schema:%s", customerID)
}

// SchemaContextService resolves the reportable field list and the tenant
// data profile into one bundle the agent prompt is built from.
type SchemaContextService interface {
	// Compile resolves fields and the data profile for one customer. Fields
	// walk the metadata tiers in order; a live hit refreshes the Redis
	// last-known-good copy. Profile failures degrade to an uncomputed
	// profile instead of failing the request.
	Compile(ctx context.Context, customerID uuid.UUID) (*models.SchemaContext, error)

	// ResolveFields resolves only the field list (no warehouse profiling).
	ResolveFields(ctx context.Context, customerID uuid.UUID) ([]models.SchemaField, models.SchemaSource, error)

	// FormatForPrompt renders the schema context as system-prompt markdown,
	// filtered to the fields the caller may see.
	FormatForPrompt(sc *models.SchemaContext, isAdmin bool) string
}

type schemaContextService struct {
	metadata repositories.SchemaMetadataRepository
	profiler *warehouse.Profiler
	redis    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewSchemaContextService creates a new SchemaContextService. redisClient may
// be nil; the cache tier is skipped in that case.
func NewSchemaContextService(
	metadata repositories.SchemaMetadataRepository,
	profiler *warehouse.Profiler,
	redisClient *redis.Client,
	cacheTTL time.Duration,
	logger *zap.Logger,
) SchemaContextService {
	return &schemaContextService{
		metadata: metadata,
		profiler: profiler,
		redis:    redisClient,
		cacheTTL: cacheTTL,
		logger:   logger.Named("schema_context"),
	}
}

var _ SchemaContextService = (*schemaContextService)(nil)

func (s *schemaContextService) Compile(ctx context.Context, customerID uuid.UUID) (*models.SchemaContext, error) {
	var (
		wg         sync.WaitGroup
		fields     []models.SchemaField
		source     models.SchemaSource
		fieldsErr  error
		profile    *models.DataProfile
		profileErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		fields, source, fieldsErr = s.ResolveFields(ctx, customerID)
	}()
	go func() {
		defer wg.Done()
		profile, profileErr = s.profiler.Profile(ctx, customerID)
	}()
	wg.Wait()

	if fieldsErr != nil {
		return nil, fieldsErr
	}

	sc := &models.SchemaContext{Fields: fields, Source: source}
	if profileErr != nil {
		s.logger.Warn("data profiling failed, continuing without profile",
			zap.String("customer_id", customerID.String()),
			zap.Error(profileErr))
		sc.Profile = models.DataProfile{Computed: false}
	} else {
		sc.Profile = *profile
	}
	return sc, nil
}

// schemaProvider is one live metadata tier. Tiers that return no rows are
// skipped, not treated as errors.
type schemaProvider struct {
	source models.SchemaSource
	fetch  func(ctx context.Context) ([]models.SchemaField, error)
}

func (s *schemaContextService) ResolveFields(ctx context.Context, customerID uuid.UUID) ([]models.SchemaField, models.SchemaSource, error) {
	providers := []schemaProvider{
		{models.SchemaSourceCatalog, s.metadata.FieldCatalog},
		{models.SchemaSourceLegacy, s.metadata.LegacyColumns},
		{models.SchemaSourceProcedure, s.metadata.ProcedureFields},
	}

	for _, p := range providers {
		fields, err := p.fetch(ctx)
		if err != nil {
			s.logger.Debug("schema tier unavailable",
				zap.String("tier", string(p.source)),
				zap.Error(err))
			continue
		}
		if len(fields) == 0 {
			continue
		}
		s.cacheFields(ctx, customerID, fields)
		return fields, p.source, nil
	}

	if fields := s.cachedFields(ctx, customerID); len(fields) > 0 {
		s.logger.Warn("all live schema tiers failed, using cached fields",
			zap.String("customer_id", customerID.String()))
		return fields, models.SchemaSourceCache, nil
	}

	fields, err := defaultSchemaFields()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load default schema fields: %w", err)
	}
	s.logger.Warn("all schema tiers failed, using embedded defaults",
		zap.String("customer_id", customerID.String()))
	return fields, models.SchemaSourceDefaults, nil
}

func (s *schemaContextService) cacheFields(ctx context.Context, customerID uuid.UUID, fields []models.SchemaField) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, schemaCacheKey(customerID), payload, s.cacheTTL).Err(); err != nil {
		s.logger.Debug("failed to cache schema fields", zap.Error(err))
	}
}

func (s *schemaContextService) cachedFields(ctx context.Context, customerID uuid.UUID) []models.SchemaField {
	if s.redis == nil {
		return nil
	}
	payload, err := s.redis.Get(ctx, schemaCacheKey(customerID)).Bytes()
	if err != nil {
		return nil
	}
	var fields []models.SchemaField
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	return fields
}

func defaultSchemaFields() ([]models.SchemaField, error) {
	var doc struct {
		Fields []models.SchemaField `yaml:"fields"`
	}
	if err := yaml.Unmarshal(schemaDefaultsYAML, &doc); err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

func (s *schemaContextService) FormatForPrompt(sc *models.SchemaContext, isAdmin bool) string {
	var b strings.Builder

	b.WriteString("## Available Report Fields\n\n")
	b.WriteString("| Field | Type | Groupable | Aggregatable | Meaning |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, f := range sc.VisibleFields(isAdmin) {
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			f.Name, f.DataType, yesNo(f.Groupable), yesNo(f.Aggregatable), f.AIContext))
	}
	b.WriteString("\nOnly the fields listed above exist. Never reference or invent a field that is not listed.\n")

	p := sc.Profile
	if p.Computed {
		b.WriteString("\n## Customer Data Profile\n\n")
		b.WriteString(fmt.Sprintf("- %d total loads, %d delivered\n", p.TotalLoads, p.DeliveredLoads))
		b.WriteString(fmt.Sprintf("- %d carriers used\n", p.CarrierCount))
		if len(p.TopCarriers) > 0 {
			b.WriteString(fmt.Sprintf("- Top carriers by volume: %s\n", strings.Join(p.TopCarriers, ", ")))
		}
		if len(p.OriginStates) > 0 {
			b.WriteString(fmt.Sprintf("- Origin states: %s\n", strings.Join(p.OriginStates, ", ")))
		}
		if p.EarliestPickup != nil && p.LatestPickup != nil {
			b.WriteString(fmt.Sprintf("- Pickup dates span %s to %s\n",
				p.EarliestPickup.Format("2006-01-02"), p.LatestPickup.Format("2006-01-02")))
		}
	}

	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
