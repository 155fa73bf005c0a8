package categ

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Provider yields a fresh categorization snapshot during a refresh run. The
// source of truth for which admin channel belongs to which business line is
// maintained outside this process.
type Provider interface {
	Fetch(ctx context.Context) (Lists, error)
}

// FileProvider reads the snapshot from a JSON file kept up to date by an
// operator or an external sync job. A missing file yields empty lists, which
// leaves admin channels uncategorized rather than failing the refresh.
type FileProvider struct {
	Path string
}

// Fetch implements Provider.
func (p FileProvider) Fetch(ctx context.Context) (Lists, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Lists{}, nil
		}
		return Lists{}, fmt.Errorf("read %s: %w", p.Path, err)
	}
	var lists Lists
	if err := json.Unmarshal(data, &lists); err != nil {
		return Lists{}, fmt.Errorf("parse %s: %w", p.Path, err)
	}
	return lists, nil
}
