package core

import (
	"context"
	"net/http"
)

// Feature represents a modular feature of the tracker
type Feature interface {
	// Name returns the unique name of the feature
	Name() string

	// Description returns a human-readable description
	Description() string

	// Enabled returns whether this feature is enabled
	Enabled() bool

	// Init runs migrations and starts background work
	Init(ctx context.Context) error

	// Routes returns the HTTP routes for this feature
	Routes() []Route

	// Shutdown stops background work and waits for it to drain
	Shutdown(ctx context.Context) error
}

// Access describes who may call a route
type Access int

const (
	// AccessPublic routes are open to everyone
	AccessPublic Access = iota
	// AccessPublicLimited routes are open but rate limited per client
	AccessPublicLimited
	// AccessAdmin routes require an admin bearer token
	AccessAdmin
)

// Route represents an HTTP route for a feature
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
	Access  Access
}

// BaseFeature provides common functionality for all features
type BaseFeature struct {
	name        string
	description string
	enabled     bool
	logger      *Logger
	db          *Database
}

// NewBaseFeature creates a new base feature
func NewBaseFeature(name, description string, enabled bool, logger *Logger, db *Database) *BaseFeature {
	return &BaseFeature{
		name:        name,
		description: description,
		enabled:     enabled,
		logger:      logger.ForFeature(name),
		db:          db,
	}
}

// Name returns the feature name
func (f *BaseFeature) Name() string {
	return f.name
}

// Description returns the feature description
func (f *BaseFeature) Description() string {
	return f.description
}

// Enabled returns whether the feature is enabled
func (f *BaseFeature) Enabled() bool {
	return f.enabled
}

// Logger returns the feature-specific logger
func (f *BaseFeature) Logger() *Logger {
	return f.logger
}

// DB returns the database connection
func (f *BaseFeature) DB() *Database {
	return f.db
}

func (f *BaseFeature) Init(ctx context.Context) error {
	f.logger.Info("Initializing feature", "name", f.name)
	return nil
}

func (f *BaseFeature) Routes() []Route {
	return []Route{}
}

func (f *BaseFeature) Shutdown(ctx context.Context) error {
	f.logger.Info("Shutting down feature", "name", f.name)
	return nil
}
