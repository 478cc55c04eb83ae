package core

import (
	"sort"
	"time"
)

// Named presets, one per endpoint class. Tighter limits go to endpoints
// that are expensive or attractive to abuse.
var presets = map[string]Config{
	"auth": {
		Window:      15 * time.Minute,
		MaxRequests: 5,
		Identifier:  IdentifierIP,
		KeyPrefix:   "auth",
	},
	"api": {
		Window:      time.Minute,
		MaxRequests: 60,
		Identifier:  IdentifierIP,
		KeyPrefix:   "api",
	},
	"graphql": {
		Window:      time.Minute,
		MaxRequests: 100,
		Identifier:  IdentifierIP,
		KeyPrefix:   "graphql",
	},
	"forms": {
		Window:      time.Hour,
		MaxRequests: 10,
		Identifier:  IdentifierIP,
		KeyPrefix:   "forms",
	},
	"uploads": {
		Window:      time.Hour,
		MaxRequests: 20,
		Identifier:  IdentifierUser,
		KeyPrefix:   "uploads",
	},
	"general": {
		Window:      time.Minute,
		MaxRequests: 100,
		Identifier:  IdentifierIP,
		KeyPrefix:   "general",
	},
	"search": {
		Window:      time.Minute,
		MaxRequests: 30,
		Identifier:  IdentifierIP,
		KeyPrefix:   "search",
	},
}

// Preset returns the named preset and whether it exists
func Preset(name string) (Config, bool) {
	cfg, ok := presets[name]
	return cfg, ok
}

// Presets returns a copy of every named preset
func Presets() map[string]Config {
	out := make(map[string]Config, len(presets))
	for name, cfg := range presets {
		out[name] = cfg
	}
	return out
}

// PresetNames returns the preset names in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
