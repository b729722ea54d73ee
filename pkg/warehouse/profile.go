package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// Profiler assembles per-customer data profiles from builder queries.
// Profiles never touch restricted columns, so one profile serves every
// caller.
type Profiler struct {
	exec    Executor
	builder *Builder
}

// NewProfiler creates a profiler over the given executor and catalog.
func NewProfiler(exec Executor, catalog *Catalog) *Profiler {
	return &Profiler{exec: exec, builder: NewBuilder(catalog, exec)}
}

// Profile collects the data profile for one customer: load and carrier
// volume, pickup date coverage, top carriers, and origin states. The
// report agent uses it to ground section ideas in data that exists
// instead of proposing charts over empty tables.
func (p *Profiler) Profile(ctx context.Context, customerID uuid.UUID) (*models.DataProfile, error) {
	profile := &models.DataProfile{
		TopCarriers:  []string{},
		OriginStates: []string{},
	}

	// Load totals and pickup range in one pass.
	res, err := p.run(ctx, customerID, &QuerySpec{
		Table: TableLoads,
		Aggregations: []Aggregation{
			{Func: "count", Field: "*", Alias: "total_loads"},
			{Func: "min", Field: "pickup_date", Alias: "first_pickup"},
			{Func: "max", Field: "pickup_date", Alias: "last_pickup"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to profile loads: %w", err)
	}
	if len(res.Rows) > 0 {
		row := res.Rows[0]
		profile.TotalLoads = asInt64(row["total_loads"])
		profile.EarliestPickup = asTimePtr(row["first_pickup"])
		profile.LatestPickup = asTimePtr(row["last_pickup"])
	}

	res, err = p.run(ctx, customerID, &QuerySpec{
		Table: TableCarriers,
		Aggregations: []Aggregation{
			{Func: "count", Field: "*", Alias: "carrier_count"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to profile carriers: %w", err)
	}
	if len(res.Rows) > 0 {
		profile.CarrierCount = asInt64(res.Rows[0]["carrier_count"])
	}

	res, err = p.run(ctx, customerID, &QuerySpec{
		Table:   TableLoads,
		GroupBy: []string{"carrier_name"},
		Aggregations: []Aggregation{
			{Func: "count", Field: "*", Alias: "loads"},
		},
		OrderBy:   "loads",
		OrderDesc: true,
		Limit:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to profile top carriers: %w", err)
	}
	for _, row := range res.Rows {
		if name := asString(row["carrier_name"]); name != "" {
			profile.TopCarriers = append(profile.TopCarriers, name)
		}
	}

	res, err = p.run(ctx, customerID, &QuerySpec{
		Table:   TableLoads,
		GroupBy: []string{"origin_state"},
		OrderBy: "origin_state",
		Limit:   25,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to profile origin states: %w", err)
	}
	for _, row := range res.Rows {
		if state := asString(row["origin_state"]); state != "" {
			profile.OriginStates = append(profile.OriginStates, state)
		}
	}

	res, err = p.run(ctx, customerID, &QuerySpec{
		Table: TableLoads,
		Filters: []Filter{
			{Field: "status", Op: "eq", Value: "delivered"},
		},
		Aggregations: []Aggregation{
			{Func: "count", Field: "*", Alias: "delivered_loads"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to profile delivered loads: %w", err)
	}
	if len(res.Rows) > 0 {
		profile.DeliveredLoads = asInt64(res.Rows[0]["delivered_loads"])
	}

	profile.Computed = true
	return profile, nil
}

func (p *Profiler) run(ctx context.Context, customerID uuid.UUID, spec *QuerySpec) (*QueryResult, error) {
	query, params, err := p.builder.Build(customerID, false, spec)
	if err != nil {
		return nil, err
	}
	return p.exec.QueryWithParams(ctx, query, params)
}

// asInt64 converts driver-dependent numeric values. COUNT comes back as
// int64 from both drivers, but aggregates over typed columns can vary.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asTimePtr(v any) *time.Time {
	if t, ok := v.(time.Time); ok && !t.IsZero() {
		return &t
	}
	return nil
}
