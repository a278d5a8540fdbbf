// Package mods loads pluggable extensions into a running bus. An extension
// declares its identity and requirements through a manifest; the loader
// validates manifests, resolves a dependency-ordered activation sequence and
// drives the Register, Activate, Deactivate lifecycle. Extensions share
// long-running components through a Lifecycle and arbitrary services through
// a Locator.
package mods

import (
	"context"

	"github.com/runeforged/runebus/internal/bus/hooks"
	"github.com/runeforged/runebus/internal/bus/registry"
)

// Host is the bus surface an extension wires itself into during Register.
type Host interface {
	Dispatch(ctx context.Context, name string, payload map[string]any, mode string) error
	RegisterListener(pattern string, l registry.Listener, opts ...registry.Option) (string, error)
	UnregisterID(id string) bool
	HookRegistry() *hooks.Registry
}

// Extension is one pluggable unit. Register wires listeners, hooks and
// services into the host; Activate and Deactivate bracket the operational
// phase. Requires names the extensions that must be activated first.
type Extension interface {
	Name() string
	Version() string
	Requires() []string

	Register(ctx context.Context, host Host) error
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// Base carries an extension's identity and no-op lifecycle methods. Embed
// it and override the methods the extension actually needs.
type Base struct {
	manifest Manifest
}

// NewBase builds the embeddable identity part of an extension.
func NewBase(name, version string, requires ...string) Base {
	return Base{manifest: Manifest{Name: name, Version: version, Requires: requires}}
}

func (b Base) Name() string       { return b.manifest.Name }
func (b Base) Version() string    { return b.manifest.Version }
func (b Base) Requires() []string { return b.manifest.Requires }

func (Base) Register(context.Context, Host) error { return nil }
func (Base) Activate(context.Context) error       { return nil }
func (Base) Deactivate(context.Context) error     { return nil }
