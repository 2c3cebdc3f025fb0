package schemadiff

import (
	"context"

	"github.com/datakeel/migrec/internal/database"
)

// IntrospectProvider adapts a database.DB into an ActualProvider by
// flattening its introspected schema into a Description.
type IntrospectProvider struct {
	db database.DB
}

// NewIntrospectProvider creates an IntrospectProvider over the given store.
func NewIntrospectProvider(db database.DB) *IntrospectProvider {
	return &IntrospectProvider{db: db}
}

// ActualSchema implements ActualProvider. Constraint details (keys, unique,
// nullability) are dropped — the diff covers structure and types only.
func (p *IntrospectProvider) ActualSchema(ctx context.Context) (Description, error) {
	schema, err := p.db.InspectSchema(ctx)
	if err != nil {
		return Description{}, err
	}

	desc := Description{Tables: make(map[string]Table, len(schema.Tables))}
	for name, info := range schema.Tables {
		cols := make(map[string]string, len(info.Columns))
		for _, col := range info.Columns {
			cols[col.Name] = col.DataType
		}
		desc.Tables[name] = Table{Columns: cols}
	}
	return desc, nil
}
