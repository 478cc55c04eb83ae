// Package storeguard re-exports the main types of pkg/storeguard so
// applications can import the module root.
package storeguard

import (
	"github.com/yourusername/storeguard/core"
	"github.com/yourusername/storeguard/pkg/storeguard"
)

// Re-export main types for convenience
type (
	Guard       = storeguard.Guard
	Config      = storeguard.Config
	Option      = storeguard.Option
	Policy      = core.Config
	Result      = core.Result
	LoadMetrics = core.LoadMetrics
)

var (
	// NewGuard creates a guard from options
	NewGuard = storeguard.NewGuard

	// NewConfig returns the default configuration
	NewConfig = storeguard.NewConfig

	// LoadConfig reads .env, a YAML file and STOREGUARD_* variables
	LoadConfig = storeguard.LoadConfig

	WithConfig     = storeguard.WithConfig
	WithConfigFile = storeguard.WithConfigFile
	WithStore      = storeguard.WithStore
	WithLogger     = storeguard.WithLogger
	WithKeyFunc    = storeguard.WithKeyFunc
)

// Preset returns a built-in policy by name: auth, api, graphql, forms,
// uploads, general or search.
func Preset(name string) (Policy, bool) {
	return core.Preset(name)
}
