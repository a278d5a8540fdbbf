package mods

import (
	"fmt"
	"slices"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/schema"
)

// Manifest identifies an extension and names its requirements.
type Manifest struct {
	Name     string   `json:"name"`
	Version  string   `json:"version,omitempty"`
	Requires []string `json:"requires,omitempty"`
}

// ManifestOf snapshots an extension's identity.
func ManifestOf(ext Extension) Manifest {
	return Manifest{
		Name:     ext.Name(),
		Version:  ext.Version(),
		Requires: slices.Clone(ext.Requires()),
	}
}

// Validate checks the manifest shape. The name is mandatory and follows the
// event name grammar so lifecycle events can embed it; requirements must be
// named and an extension cannot require itself.
func (m Manifest) Validate() error {
	if m.Name == "" {
		return errs.ErrExtensionNameRequired
	}
	if !schema.ValidName(m.Name) {
		return fmt.Errorf("runebus: extension name %q is not a valid name", m.Name)
	}
	for _, req := range m.Requires {
		if req == "" {
			return fmt.Errorf("runebus: extension %q has an unnamed requirement", m.Name)
		}
		if req == m.Name {
			return fmt.Errorf("runebus: extension %q requires itself", m.Name)
		}
	}
	return nil
}
