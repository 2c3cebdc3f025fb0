package revision

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datakeel/migrec/internal/errs"
)

// DirSource reads revision manifests (*.yaml, *.yml) from a local directory.
// Non-manifest files are ignored; unreadable manifests surface as
// per-definition errors so the loader can warn and continue.
type DirSource struct {
	Dir string
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

// Definitions lists and reads every manifest in the directory.
// The returned order is by file name, but callers must not rely on it —
// graph construction uses only the id/parent relation.
func (s *DirSource) Definitions(ctx context.Context) ([]Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "listing revision directory", err)
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindNotFound, "revision directory unreadable", err)
	}

	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() || !isManifestName(entry.Name()) {
			continue
		}
		path := filepath.Join(s.Dir, entry.Name())
		data, err := os.ReadFile(path)
		defs = append(defs, Definition{Ref: path, Data: data, Err: err})
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Ref < defs[j].Ref })
	return defs, nil
}

func isManifestName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
