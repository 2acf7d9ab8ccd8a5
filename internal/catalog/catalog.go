// Package catalog loads the integration catalog from a JSON file and
// exposes it through domain.AppCatalog. A built-in catalog is embedded for
// deployments that do not ship their own.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
)

//go:embed default_catalog.json
var defaultCatalog []byte

type entry struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug,omitempty"`
	Description string   `json:"description,omitempty"`
	LogoURL     string   `json:"logo_url,omitempty"`
	Categories  []string `json:"categories,omitempty"`
}

// Catalog is an immutable, in-memory app catalog.
type Catalog struct {
	apps   []domain.App
	bySlug map[string]domain.App
}

var _ domain.AppCatalog = (*Catalog)(nil)

// Load reads the catalog from path, or the embedded default when path is
// empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{bySlug: make(map[string]domain.App, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry without a name")
		}

		slug := e.Slug
		if slug == "" {
			slug = e.Name
		}
		slug = domain.NormalizeSlug(slug)
		if !domain.IsValidSlug(slug) {
			return nil, fmt.Errorf("catalog entry %q yields invalid slug %q", e.Name, slug)
		}
		if _, dup := c.bySlug[slug]; dup {
			return nil, fmt.Errorf("duplicate catalog slug %q", slug)
		}

		description := e.Description
		if description == "" {
			description = fmt.Sprintf("Integration with %s", e.Name)
		}

		categories := e.Categories
		if len(categories) == 0 {
			categories = []string{domain.CategoryOther}
		}

		app := domain.App{
			Slug:        slug,
			Name:        e.Name,
			Description: description,
			LogoURL:     e.LogoURL,
			Categories:  categories,
		}
		c.apps = append(c.apps, app)
		c.bySlug[slug] = app
	}

	return c, nil
}

// All returns every catalog entry in file order.
func (c *Catalog) All(_ context.Context) ([]domain.App, error) {
	out := make([]domain.App, len(c.apps))
	copy(out, c.apps)
	return out, nil
}

// Lookup finds an app by canonical slug. The slug is normalized before the
// lookup so loosely formatted input still resolves.
func (c *Catalog) Lookup(_ context.Context, slug string) (*domain.App, error) {
	app, ok := c.bySlug[domain.NormalizeSlug(slug)]
	if !ok {
		return nil, domain.ErrAppNotFound
	}
	return &app, nil
}
