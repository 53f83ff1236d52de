package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var (
	ErrUnknownSubtype = errors.New("catalog: unknown report subtype")
	ErrUnknownFamily  = errors.New("catalog: unknown report family")
	ErrUnknownField   = errors.New("catalog: unknown field")
)

type StorageType int

const (
	Text StorageType = iota
	Integer
	Real
)

func (t StorageType) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

type ConstraintKind int

const (
	NotNull ConstraintKind = iota
	NonEmpty
	AtLeast
	Positive
	Between
)

// Constraint is a column-level SQL check. Min and Max are only read by
// AtLeast and Between.
type Constraint struct {
	Kind ConstraintKind
	Min  int64
	Max  int64
}

type FieldDescriptor struct {
	Name        string
	Type        StorageType
	Constraints []Constraint
	Subtypes    []Subtype
}

// Required reports whether the field rejects empty values.
func (f FieldDescriptor) Required() bool {
	return lo.ContainsBy(f.Constraints, func(c Constraint) bool { return c.Kind == NonEmpty })
}

func (f FieldDescriptor) appliesTo(subtype Subtype) bool {
	return len(f.Subtypes) == 0 || lo.Contains(f.Subtypes, subtype)
}

type Family string

const (
	Database Family = "database"
	Item     Family = "item"
	Platform Family = "platform"
	Title    Family = "title"
)

// Subtype is a COUNTER 5 report identifier such as TR_J1.
type Subtype string

const (
	PR    Subtype = "PR"
	PR_P1 Subtype = "PR_P1"
	DR    Subtype = "DR"
	DR_D1 Subtype = "DR_D1"
	DR_D2 Subtype = "DR_D2"
	TR    Subtype = "TR"
	TR_B1 Subtype = "TR_B1"
	TR_B2 Subtype = "TR_B2"
	TR_B3 Subtype = "TR_B3"
	TR_J1 Subtype = "TR_J1"
	TR_J2 Subtype = "TR_J2"
	TR_J3 Subtype = "TR_J3"
	TR_J4 Subtype = "TR_J4"
	IR    Subtype = "IR"
	IR_A1 Subtype = "IR_A1"
	IR_M1 Subtype = "IR_M1"
)

// Table is the base table name; views and cost tables derive from it.
func (s Subtype) Table() string { return strings.ToLower(string(s)) }

func (s Subtype) View() string { return s.Table() + ViewSuffix }

func (s Subtype) Family() Family {
	family, _ := FamilyOf(s)
	return family
}

const (
	ViewSuffix      = "_view"
	CostTableSuffix = "_costs"

	// InvestigationsMetric is the primary investigations metric type shared
	// by every family; it drives the legacy merge tie-break.
	InvestigationsMetric = "Total_Item_Investigations"
)

type familyInfo struct {
	family   Family
	subtypes []Subtype
}

var families = []familyInfo{
	{family: Database, subtypes: []Subtype{DR, DR_D1, DR_D2}},
	{family: Item, subtypes: []Subtype{IR, IR_A1, IR_M1}},
	{family: Platform, subtypes: []Subtype{PR, PR_P1}},
	{family: Title, subtypes: []Subtype{TR, TR_B1, TR_B2, TR_B3, TR_J1, TR_J2, TR_J3, TR_J4}},
}

var subtypeNames = map[Subtype]string{
	PR:    "Platform Master Report",
	PR_P1: "Platform Usage",
	DR:    "Database Master Report",
	DR_D1: "Database Search and Item Usage",
	DR_D2: "Database Access Denied",
	TR:    "Title Master Report",
	TR_B1: "Book Requests (Excluding OA_Gold)",
	TR_B2: "Book Access Denied",
	TR_B3: "Book Usage by Access Type",
	TR_J1: "Journal Requests (Excluding OA_Gold)",
	TR_J2: "Journal Access Denied",
	TR_J3: "Journal Usage by Access Type",
	TR_J4: "Journal Requests by YOP (Excluding OA_Gold)",
	IR:    "Item Master Report",
	IR_A1: "Journal Article Requests",
	IR_M1: "Multimedia Item Requests",
}

// Name is the human readable COUNTER report name.
func (s Subtype) Name() string { return subtypeNames[s] }

func Families() []Family {
	return lo.Map(families, func(f familyInfo, _ int) Family { return f.family })
}

// Subtypes returns every subtype grouped by family in declared order.
func Subtypes() []Subtype {
	return lo.FlatMap(families, func(f familyInfo, _ int) []Subtype { return f.subtypes })
}

func SubtypesOf(family Family) []Subtype {
	info, ok := lo.Find(families, func(f familyInfo) bool { return f.family == family })
	if !ok {
		return nil
	}
	return append([]Subtype(nil), info.subtypes...)
}

func FamilyOf(subtype Subtype) (Family, error) {
	for _, f := range families {
		if lo.Contains(f.subtypes, subtype) {
			return f.family, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSubtype, subtype)
}

func ParseSubtype(s string) (Subtype, error) {
	candidate := Subtype(strings.ToUpper(strings.TrimSpace(s)))
	if _, err := FamilyOf(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

func ParseFamily(s string) (Family, error) {
	candidate := Family(strings.ToLower(strings.TrimSpace(s)))
	if !lo.Contains(Families(), candidate) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
	return candidate, nil
}

// CostTable is the name of the family's cost table, e.g. title_costs.
func (f Family) CostTable() string { return string(f) + CostTableSuffix }

// EntityFieldFor returns the family's entity name field (database, item,
// platform or title).
func EntityFieldFor(family Family) FieldDescriptor {
	for _, f := range familyFields[family] {
		if f.Name == string(family) {
			return f
		}
	}
	panic(fmt.Sprintf("catalog: family %q has no entity field", family))
}

// FieldsFor returns the subtype's own fields followed by the universal
// fields. The order is the column order of tables and report files.
func FieldsFor(subtype Subtype) ([]FieldDescriptor, error) {
	family, err := FamilyOf(subtype)
	if err != nil {
		return nil, err
	}
	own := lo.Filter(familyFields[family], func(f FieldDescriptor, _ int) bool {
		return f.appliesTo(subtype)
	})
	return append(own, universalFields...), nil
}

// ReportFields returns only the subtype-specific fields.
func ReportFields(subtype Subtype) ([]FieldDescriptor, error) {
	fields, err := FieldsFor(subtype)
	if err != nil {
		return nil, err
	}
	return fields[:len(fields)-len(universalFields)], nil
}

func FieldNames(fields []FieldDescriptor) []string {
	return lo.Map(fields, func(f FieldDescriptor, _ int) string { return f.Name })
}

// KeyFields returns every field of the subtype except metric and updated_on.
func KeyFields(subtype Subtype) ([]FieldDescriptor, error) {
	fields, err := FieldsFor(subtype)
	if err != nil {
		return nil, err
	}
	return lo.Filter(fields, func(f FieldDescriptor, _ int) bool {
		return !lo.Contains(nonKeyFields, f.Name)
	}), nil
}

// RequiredFields returns the fields that must be non-empty on every row.
func RequiredFields(subtype Subtype) ([]FieldDescriptor, error) {
	fields, err := FieldsFor(subtype)
	if err != nil {
		return nil, err
	}
	return lo.Filter(fields, func(f FieldDescriptor, _ int) bool { return f.Required() }), nil
}

func Field(subtype Subtype, name string) (FieldDescriptor, error) {
	fields, err := FieldsFor(subtype)
	if err != nil {
		return FieldDescriptor{}, err
	}
	field, ok := lo.Find(fields, func(f FieldDescriptor) bool { return f.Name == name })
	if !ok {
		return FieldDescriptor{}, fmt.Errorf("%w: %q in %s", ErrUnknownField, name, subtype)
	}
	return field, nil
}

func UniversalFields() []FieldDescriptor {
	return append([]FieldDescriptor(nil), universalFields...)
}

func CostFields() []FieldDescriptor {
	return append([]FieldDescriptor(nil), costFields...)
}

// CostKeyFields returns the key columns of a family's cost table.
func CostKeyFields(family Family) []FieldDescriptor {
	return []FieldDescriptor{
		EntityFieldFor(family),
		universalField("vendor"),
		universalField("year"),
		universalField("month"),
	}
}

func universalField(name string) FieldDescriptor {
	field, ok := lo.Find(universalFields, func(f FieldDescriptor) bool { return f.Name == name })
	if !ok {
		panic("catalog: missing universal field " + name)
	}
	return field
}

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// MonthNames returns the pivoted view column names, january first.
func MonthNames() []string {
	return append([]string(nil), monthNames...)
}
