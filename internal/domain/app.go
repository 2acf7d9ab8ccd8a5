package domain

import "context"

// CategoryOther is the sentinel category assigned to catalog entries that
// declare no category of their own.
const CategoryOther = "Other"

// App is a single entry in the integration catalog.
type App struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	LogoURL     string   `json:"logo_url,omitempty"`
	Categories  []string `json:"categories"`
}

// AppListing is an App annotated with the caller's derived connection state.
// IsConnected is never stored; it is computed against the active sessions of
// the requesting user.
type AppListing struct {
	App
	IsConnected bool `json:"is_connected"`
}

// AppCatalog provides the set of connectable apps.
type AppCatalog interface {
	All(ctx context.Context) ([]App, error)
	Lookup(ctx context.Context, slug string) (*App, error)
}
