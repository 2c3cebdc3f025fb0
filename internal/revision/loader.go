package revision

import (
	"context"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Definition is a single raw revision manifest as produced by a Source.
// Err is set when the source could read the name but not the payload
// (permission problem, truncated object, …); the loader turns it into a
// warning instead of failing the whole load.
type Definition struct {
	Ref  string // file path or object key, kept for diagnostics
	Data []byte
	Err  error
}

// Source yields raw revision definitions. Implementations: DirSource for a
// local directory, BucketSource for an object-store prefix.
type Source interface {
	Definitions(ctx context.Context) ([]Definition, error)
}

// LoadWarning records a definition that was skipped during loading.
// Skipped definitions never appear in the resulting graph.
type LoadWarning struct {
	Ref    string
	Reason string
}

func (w LoadWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Ref, w.Reason)
}

// manifest is the on-disk shape of a revision definition.
type manifest struct {
	ID          string   `yaml:"id"`
	Parent      *string  `yaml:"parent"`
	Description string   `yaml:"description"`
	Up          []string `yaml:"up"`
	Down        []string `yaml:"down"`
}

// Load reads every definition the source yields and builds a Graph from the
// id→parent relation. Malformed definitions are skipped with a warning —
// one bad manifest never aborts the load. The returned error covers source
// failures only (directory unreadable, bucket unreachable).
func Load(ctx context.Context, src Source) (*Graph, []LoadWarning, error) {
	defs, err := src.Definitions(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		records  []*Record
		warnings []LoadWarning
		seen     = make(map[string]string) // id → ref of first definition
	)

	for _, def := range defs {
		if def.Err != nil {
			warnings = append(warnings, LoadWarning{
				Ref:    def.Ref,
				Reason: fmt.Sprintf("unreadable: %v", def.Err),
			})
			continue
		}

		var m manifest
		if err := yaml.Unmarshal(def.Data, &m); err != nil {
			warnings = append(warnings, LoadWarning{
				Ref:    def.Ref,
				Reason: fmt.Sprintf("not a valid revision manifest: %v", err),
			})
			continue
		}

		id := strings.TrimSpace(m.ID)
		if id == "" {
			warnings = append(warnings, LoadWarning{
				Ref:    def.Ref,
				Reason: "manifest has no id",
			})
			continue
		}
		if first, dup := seen[id]; dup {
			warnings = append(warnings, LoadWarning{
				Ref:    def.Ref,
				Reason: fmt.Sprintf("duplicate id %q, first defined in %s", id, first),
			})
			continue
		}
		seen[id] = def.Ref

		parent := ""
		if m.Parent != nil {
			parent = strings.TrimSpace(*m.Parent)
		}

		records = append(records, &Record{
			ID:          id,
			ParentID:    parent,
			SourceRef:   def.Ref,
			Description: strings.TrimSpace(m.Description),
			Up:          m.Up,
			Down:        m.Down,
		})
	}

	return NewGraph(records), warnings, nil
}

// MarshalManifest renders a Record back into manifest YAML. Used by runners
// that materialize new revision definitions.
func MarshalManifest(r *Record) ([]byte, error) {
	m := manifest{
		ID:          r.ID,
		Description: r.Description,
		Up:          r.Up,
		Down:        r.Down,
	}
	if r.ParentID != "" {
		m.Parent = &r.ParentID
	}
	return yaml.Marshal(&m)
}
