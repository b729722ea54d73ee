package warehouse

// Warehouse table names exposed to report tools.
const (
	TableLoads        = "loads"
	TableCarriers     = "carriers"
	TableAccessorials = "accessorials"
)

// Logical field types used for query validation and prompt rendering.
const (
	FieldTypeText    = "text"
	FieldTypeNumeric = "numeric"
	FieldTypeDate    = "date"
	FieldTypeBoolean = "boolean"
)

// JoinDef describes one valid join path from a table to a related table.
// Joins outside this list do not exist as far as query building is
// concerned.
type JoinDef struct {
	Table         string // the table being joined in
	LocalColumn   string // column on the owning table
	ForeignColumn string // column on the joined table
	Description   string
}

// FieldDef describes a queryable warehouse column.
type FieldDef struct {
	Name        string
	DisplayName string
	Type        string
	Description string

	// Restricted fields carry margin-sensitive amounts and are only
	// visible to admin users.
	Restricted bool
}

// TableDef describes a queryable warehouse table. Every table carries the
// scope column; it is not listed in Fields, so tool arguments can never
// select or filter on it directly.
type TableDef struct {
	Name        string
	Description string
	ScopeColumn string
	DateColumn  string // default column for period filtering, empty if none
	fields      []FieldDef
	fieldIndex  map[string]int
	joins       []JoinDef
}

// Join looks up the join path to the named table.
func (t *TableDef) Join(table string) (*JoinDef, bool) {
	for i := range t.joins {
		if t.joins[i].Table == table {
			return &t.joins[i], true
		}
	}
	return nil, false
}

// Joins returns the table's join paths in declaration order.
func (t *TableDef) Joins() []JoinDef {
	return t.joins
}

// Field looks up a column definition by name.
func (t *TableDef) Field(name string) (*FieldDef, bool) {
	idx, ok := t.fieldIndex[name]
	if !ok {
		return nil, false
	}
	return &t.fields[idx], true
}

// Fields returns the table's columns in declaration order, skipping
// restricted columns unless includeRestricted is set.
func (t *TableDef) Fields(includeRestricted bool) []FieldDef {
	out := make([]FieldDef, 0, len(t.fields))
	for _, f := range t.fields {
		if f.Restricted && !includeRestricted {
			continue
		}
		out = append(out, f)
	}
	return out
}

// FieldNames returns the names of the table's columns in declaration
// order, skipping restricted columns unless includeRestricted is set.
func (t *TableDef) FieldNames(includeRestricted bool) []string {
	fields := t.Fields(includeRestricted)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Catalog is the allowlist of warehouse tables and columns that report
// tools may touch. Anything not in the catalog does not exist as far as
// query building is concerned.
type Catalog struct {
	tables map[string]*TableDef
	order  []string
}

// Table looks up a table definition by name.
func (c *Catalog) Table(name string) (*TableDef, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns all table definitions in declaration order.
func (c *Catalog) Tables() []*TableDef {
	out := make([]*TableDef, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tables[name])
	}
	return out
}

// NewCatalog returns the freight warehouse catalog.
func NewCatalog() *Catalog {
	c := &Catalog{tables: make(map[string]*TableDef)}
	c.add(&TableDef{
		Name:        TableLoads,
		Description: "One row per shipment. The primary table for volume, spend, lane, and service analysis.",
		ScopeColumn: "customer_id",
		DateColumn:  "pickup_date",
		fields: []FieldDef{
			{Name: "load_id", DisplayName: "Load ID", Type: FieldTypeText, Description: "Unique load reference, e.g. LD-2026-004421"},
			{Name: "reference_number", DisplayName: "Reference Number", Type: FieldTypeText, Description: "Customer PO or shipment reference"},
			{Name: "status", DisplayName: "Status", Type: FieldTypeText, Description: "booked, dispatched, in_transit, delivered, or cancelled"},
			{Name: "mode", DisplayName: "Mode", Type: FieldTypeText, Description: "truckload, ltl, intermodal, or drayage"},
			{Name: "equipment_type", DisplayName: "Equipment", Type: FieldTypeText, Description: "dry_van, reefer, flatbed, or stepdeck"},
			{Name: "carrier_name", DisplayName: "Carrier", Type: FieldTypeText, Description: "Name of the carrier that moved the load"},
			{Name: "carrier_scac", DisplayName: "Carrier SCAC", Type: FieldTypeText, Description: "Standard Carrier Alpha Code"},
			{Name: "origin_city", DisplayName: "Origin City", Type: FieldTypeText, Description: "Pickup city"},
			{Name: "origin_state", DisplayName: "Origin State", Type: FieldTypeText, Description: "Pickup state, two-letter code"},
			{Name: "dest_city", DisplayName: "Destination City", Type: FieldTypeText, Description: "Delivery city"},
			{Name: "dest_state", DisplayName: "Destination State", Type: FieldTypeText, Description: "Delivery state, two-letter code"},
			{Name: "pickup_date", DisplayName: "Pickup Date", Type: FieldTypeDate, Description: "Actual or scheduled pickup date"},
			{Name: "delivery_date", DisplayName: "Delivery Date", Type: FieldTypeDate, Description: "Actual or scheduled delivery date"},
			{Name: "weight_lbs", DisplayName: "Weight (lbs)", Type: FieldTypeNumeric, Description: "Total shipment weight in pounds"},
			{Name: "miles", DisplayName: "Miles", Type: FieldTypeNumeric, Description: "Practical route miles"},
			{Name: "retail", DisplayName: "Retail", Type: FieldTypeNumeric, Description: "Amount billed to the customer for the load"},
			{Name: "cost", DisplayName: "Cost", Type: FieldTypeNumeric, Description: "Amount paid to the carrier", Restricted: true},
			{Name: "margin", DisplayName: "Margin", Type: FieldTypeNumeric, Description: "Retail minus carrier cost", Restricted: true},
			{Name: "on_time_pickup", DisplayName: "On-Time Pickup", Type: FieldTypeBoolean, Description: "Picked up within the appointment window"},
			{Name: "on_time_delivery", DisplayName: "On-Time Delivery", Type: FieldTypeBoolean, Description: "Delivered within the appointment window"},
		},
		joins: []JoinDef{
			{Table: TableCarriers, LocalColumn: "carrier_scac", ForeignColumn: "scac", Description: "Carrier service stats for each load"},
			{Table: TableAccessorials, LocalColumn: "load_id", ForeignColumn: "load_id", Description: "Accessorial charges billed on each load"},
		},
	})
	c.add(&TableDef{
		Name:        TableCarriers,
		Description: "One row per carrier in the customer's network, with rolling service stats.",
		ScopeColumn: "customer_id",
		fields: []FieldDef{
			{Name: "carrier_name", DisplayName: "Carrier", Type: FieldTypeText, Description: "Carrier legal name"},
			{Name: "scac", DisplayName: "SCAC", Type: FieldTypeText, Description: "Standard Carrier Alpha Code"},
			{Name: "mc_number", DisplayName: "MC Number", Type: FieldTypeText, Description: "FMCSA motor carrier number"},
			{Name: "dot_number", DisplayName: "DOT Number", Type: FieldTypeText, Description: "USDOT number"},
			{Name: "status", DisplayName: "Status", Type: FieldTypeText, Description: "active or inactive"},
			{Name: "on_time_pct", DisplayName: "On-Time %", Type: FieldTypeNumeric, Description: "Rolling on-time delivery percentage"},
			{Name: "load_count", DisplayName: "Load Count", Type: FieldTypeNumeric, Description: "Loads moved for this customer"},
			{Name: "avg_cost_per_mile", DisplayName: "Avg Cost/Mile", Type: FieldTypeNumeric, Description: "Average amount paid to this carrier per mile", Restricted: true},
		},
		joins: []JoinDef{
			{Table: TableLoads, LocalColumn: "scac", ForeignColumn: "carrier_scac", Description: "Loads moved by each carrier"},
		},
	})
	c.add(&TableDef{
		Name:        TableAccessorials,
		Description: "One row per accessorial charge billed on a load.",
		ScopeColumn: "customer_id",
		DateColumn:  "charge_date",
		fields: []FieldDef{
			{Name: "load_id", DisplayName: "Load ID", Type: FieldTypeText, Description: "Load the charge was billed on"},
			{Name: "charge_type", DisplayName: "Charge Type", Type: FieldTypeText, Description: "detention, lumper, layover, liftgate, fuel_surcharge, or redelivery"},
			{Name: "charge_amount", DisplayName: "Amount", Type: FieldTypeNumeric, Description: "Accessorial amount billed to the customer"},
			{Name: "charge_date", DisplayName: "Charge Date", Type: FieldTypeDate, Description: "Date the charge was incurred"},
			{Name: "approved", DisplayName: "Approved", Type: FieldTypeBoolean, Description: "Charge has been approved for invoicing"},
		},
		joins: []JoinDef{
			{Table: TableLoads, LocalColumn: "load_id", ForeignColumn: "load_id", Description: "The load each charge was billed on"},
		},
	})
	return c
}

func (c *Catalog) add(t *TableDef) {
	t.fieldIndex = make(map[string]int, len(t.fields))
	for i, f := range t.fields {
		t.fieldIndex[f.Name] = i
	}
	c.tables[t.Name] = t
	c.order = append(c.order, t.Name)
}
