package schema

// TableSpec declares one table of the tenant schema domain. The metadata
// provider supplies these; the manager only compares them against the live
// catalog and renders DDL.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
}

// ColumnSpec declares one column. Type is the engine-level SQL type text and
// is passed through verbatim.
type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
	Default  string
}

// MetadataProvider supplies the declared entity metadata for the tenant
// schema domain. The caller wires a concrete provider; the manager treats it
// as an opaque input.
type MetadataProvider interface {
	Tables() []TableSpec
}

// StaticMetadata is a fixed table set, useful when the tenant schema is
// declared in code.
type StaticMetadata []TableSpec

func (m StaticMetadata) Tables() []TableSpec { return m }
