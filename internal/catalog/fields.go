package catalog

var (
	notNull  = Constraint{Kind: NotNull}
	nonEmpty = Constraint{Kind: NonEmpty}
	atLeast0 = Constraint{Kind: AtLeast, Min: 0}
)

func text(name string, subtypes ...Subtype) FieldDescriptor {
	return FieldDescriptor{Name: name, Type: Text, Constraints: []Constraint{notNull}, Subtypes: subtypes}
}

func entity(name string, subtypes ...Subtype) FieldDescriptor {
	return FieldDescriptor{Name: name, Type: Text, Constraints: []Constraint{notNull, nonEmpty}, Subtypes: subtypes}
}

// yop is stored as text so the 0001 (unknown) and 9999 (in press) markers
// keep their leading zeros.
func yop(subtypes ...Subtype) FieldDescriptor {
	return text("yop", subtypes...)
}

var (
	allTitle  = []Subtype{TR, TR_B1, TR_B2, TR_B3, TR_J1, TR_J2, TR_J3, TR_J4}
	titleBook = []Subtype{TR, TR_B1, TR_B2, TR_B3}
	titleYOP  = []Subtype{TR, TR_B1, TR_B2, TR_B3, TR_J4}
	titleAT   = []Subtype{TR, TR_B3, TR_J3}

	allItem     = []Subtype{IR, IR_A1, IR_M1}
	itemArticle = []Subtype{IR, IR_A1}

	allDatabase = []Subtype{DR, DR_D1, DR_D2}
	allPlatform = []Subtype{PR, PR_P1}
)

// familyFields lists each family's fields in file column order. A field
// applies to the subtypes it names.
var familyFields = map[Family][]FieldDescriptor{
	Database: {
		entity("database", allDatabase...),
		text("publisher", allDatabase...),
		text("publisher_id", allDatabase...),
		text("platform", allDatabase...),
		text("proprietary_id", allDatabase...),
		text("data_type", DR),
		text("access_method", DR),
	},
	Item: {
		entity("item", allItem...),
		text("publisher", allItem...),
		text("publisher_id", allItem...),
		text("platform", allItem...),
		text("authors", itemArticle...),
		text("publication_date", itemArticle...),
		text("article_version", itemArticle...),
		text("doi", allItem...),
		text("proprietary_id", allItem...),
		text("isbn", IR),
		text("print_issn", itemArticle...),
		text("online_issn", itemArticle...),
		text("uri", allItem...),
		text("parent_title", itemArticle...),
		text("parent_authors", itemArticle...),
		text("parent_publication_date", IR),
		text("parent_article_version", itemArticle...),
		text("parent_data_type", IR),
		text("parent_doi", itemArticle...),
		text("parent_proprietary_id", itemArticle...),
		text("parent_isbn", IR),
		text("parent_print_issn", itemArticle...),
		text("parent_online_issn", itemArticle...),
		text("parent_uri", itemArticle...),
		text("component_title", IR),
		text("component_authors", IR),
		text("component_publication_date", IR),
		text("component_data_type", IR),
		text("component_doi", IR),
		text("component_proprietary_id", IR),
		text("component_isbn", IR),
		text("component_print_issn", IR),
		text("component_online_issn", IR),
		text("component_uri", IR),
		text("data_type", IR),
		yop(IR),
		text("access_type", itemArticle...),
		text("access_method", IR),
	},
	Platform: {
		entity("platform", allPlatform...),
		text("data_type", PR),
		text("access_method", PR),
	},
	Title: {
		entity("title", allTitle...),
		text("publisher", allTitle...),
		text("publisher_id", allTitle...),
		text("platform", allTitle...),
		text("doi", allTitle...),
		text("proprietary_id", allTitle...),
		text("isbn", titleBook...),
		text("print_issn", allTitle...),
		text("online_issn", allTitle...),
		text("uri", allTitle...),
		text("data_type", TR),
		text("section_type", TR),
		yop(titleYOP...),
		text("access_type", titleAT...),
		text("access_method", TR),
	},
}

var universalFields = []FieldDescriptor{
	{Name: "metric_type", Type: Text, Constraints: []Constraint{notNull, nonEmpty}},
	{Name: "vendor", Type: Text, Constraints: []Constraint{notNull, nonEmpty}},
	{Name: "year", Type: Integer, Constraints: []Constraint{notNull, {Kind: Between, Min: 1000, Max: 9999}}},
	{Name: "month", Type: Integer, Constraints: []Constraint{notNull, {Kind: Between, Min: 1, Max: 12}}},
	{Name: "metric", Type: Integer, Constraints: []Constraint{notNull, {Kind: Positive}}},
	{Name: "updated_on", Type: Text, Constraints: []Constraint{notNull}},
	{Name: "file", Type: Text, Constraints: []Constraint{notNull}},
}

// nonKeyFields are excluded from base table primary keys so a re-import of
// the same observation replaces the count.
var nonKeyFields = []string{"metric", "updated_on"}

var costFields = []FieldDescriptor{
	{Name: "cost_in_original_currency", Type: Real, Constraints: []Constraint{notNull, atLeast0}},
	{Name: "original_currency", Type: Text, Constraints: []Constraint{notNull, nonEmpty}},
	{Name: "cost_in_local_currency", Type: Real, Constraints: []Constraint{notNull, atLeast0}},
	{Name: "cost_in_local_currency_with_tax", Type: Real, Constraints: []Constraint{notNull, atLeast0}},
}
