package mods

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforged/runebus/internal/bus/errs"
)

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  string
	}{
		{
			name:     "minimal",
			manifest: Manifest{Name: "audit"},
		},
		{
			name:     "with requirements",
			manifest: Manifest{Name: "audit.sink", Version: "2.1.0", Requires: []string{"audit"}},
		},
		{
			name:     "invalid name",
			manifest: Manifest{Name: "audit sink"},
			wantErr:  "not a valid name",
		},
		{
			name:     "unnamed requirement",
			manifest: Manifest{Name: "audit", Requires: []string{""}},
			wantErr:  "unnamed requirement",
		},
		{
			name:     "requires itself",
			manifest: Manifest{Name: "audit", Requires: []string{"audit"}},
			wantErr:  "requires itself",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManifest_ValidateEmptyName(t *testing.T) {
	assert.ErrorIs(t, Manifest{}.Validate(), errs.ErrExtensionNameRequired)
}

func TestManifestOf_ClonesRequirements(t *testing.T) {
	ext := newTestExt(nil, "audit", "core")
	m := ManifestOf(ext)

	assert.Equal(t, "audit", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	require.Equal(t, []string{"core"}, m.Requires)

	m.Requires[0] = "mutated"
	assert.Equal(t, []string{"core"}, ext.Requires())
}
