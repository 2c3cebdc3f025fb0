package schemadiff

import (
	"context"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/datakeel/migrec/internal/errs"
)

// FileProvider reads the declared schema from a YAML model declaration:
//
//	tables:
//	  users:
//	    columns:
//	      id: uuid
//	      email: varchar(255)
//
// The file is re-read on every call so long-running processes pick up
// redeployed declarations without a restart.
type FileProvider struct {
	Path string
}

// NewFileProvider creates a FileProvider for the given declaration file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

type declarationFile struct {
	Tables map[string]struct {
		Columns map[string]string `yaml:"columns"`
	} `yaml:"tables"`
}

// DeclaredSchema implements DeclaredProvider.
func (p *FileProvider) DeclaredSchema(ctx context.Context) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, errs.Wrap(errs.ErrKindTimeout, "reading schema declaration", err)
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return Description{}, errs.Wrap(errs.ErrKindNotFound, "schema declaration unreadable", err)
	}

	var decl declarationFile
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return Description{}, errs.Wrap(errs.ErrKindInvalidInput, "schema declaration is not valid YAML", err)
	}

	desc := Description{Tables: make(map[string]Table, len(decl.Tables))}
	for name, t := range decl.Tables {
		cols := make(map[string]string, len(t.Columns))
		for col, typ := range t.Columns {
			cols[col] = typ
		}
		desc.Tables[name] = Table{Columns: cols}
	}
	return desc, nil
}
