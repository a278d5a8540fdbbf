package mods

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
)

func TestLoader_AddValidation(t *testing.T) {
	l := NewLoader(newFakeHost(), nil)

	assert.ErrorIs(t, l.Add(nil), errs.ErrExtensionRequired)
	assert.ErrorIs(t, l.Add(newTestExt(nil, "")), errs.ErrExtensionNameRequired)

	require.NoError(t, l.Add(newTestExt(nil, "audit")))
	err := l.Add(newTestExt(nil, "audit"))
	assert.ErrorIs(t, err, errs.ErrExtensionExists)
	assert.Contains(t, err.Error(), `"audit"`)
}

func TestLoader_ActivateRequirementFirst(t *testing.T) {
	rec := &recorder{}
	host := newFakeHost()
	l := NewLoader(host, nil)
	require.NoError(t, l.Add(newTestExt(rec, "c", "b")))
	require.NoError(t, l.Add(newTestExt(rec, "b", "a")))
	require.NoError(t, l.Add(newTestExt(rec, "a")))

	require.NoError(t, l.Activate(context.Background()))

	assert.True(t, l.Active())
	assert.Equal(t, []string{
		"register:a", "activate:a",
		"register:b", "activate:b",
		"register:c", "activate:c",
	}, rec.Labels())
	assert.Equal(t, []string{
		"extension.activated:a",
		"extension.activated:b",
		"extension.activated:c",
	}, host.Dispatched())
}

func TestLoader_ActivateIdempotent(t *testing.T) {
	rec := &recorder{}
	l := NewLoader(newFakeHost(), nil)
	require.NoError(t, l.Add(newTestExt(rec, "a")))

	require.NoError(t, l.Activate(context.Background()))
	require.NoError(t, l.Activate(context.Background()))

	assert.Equal(t, []string{"register:a", "activate:a"}, rec.Labels())
}

func TestLoader_ActivateNilContext(t *testing.T) {
	l := NewLoader(newFakeHost(), nil)
	require.NoError(t, l.Add(newTestExt(nil, "a")))

	require.NoError(t, l.Activate(nil))
	assert.True(t, l.Active())
}

func TestLoader_ActivateUnknownRequirement(t *testing.T) {
	rec := &recorder{}
	l := NewLoader(newFakeHost(), nil)
	require.NoError(t, l.Add(newTestExt(rec, "b", "a")))

	err := l.Activate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not loaded")
	assert.False(t, l.Active())
	assert.Empty(t, rec.Labels())
}

func TestLoader_RegisterFailureAborts(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	host := newFakeHost()
	l := NewLoader(host, nil)
	failing := newTestExt(rec, "a")
	failing.registerErr = boom
	require.NoError(t, l.Add(failing))

	err := l.Activate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `register extension "a"`)
	assert.False(t, l.Active())
	assert.Empty(t, host.Dispatched())
}

func TestLoader_ActivateFailureRollsBack(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	host := newFakeHost()
	l := NewLoader(host, nil)
	a := newTestExt(rec, "a")
	b := newTestExt(rec, "b", "a")
	b.activateErr = boom
	require.NoError(t, l.Add(a))
	require.NoError(t, l.Add(b))

	err := l.Activate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `activate extension "b"`)
	assert.False(t, l.Active())

	assert.Equal(t, []string{
		"register:a", "activate:a",
		"register:b", "activate:b",
		"deactivate:a",
	}, rec.Labels())
	assert.Equal(t, []string{"extension.activated:a"}, host.Dispatched())
}

func TestLoader_ReactivateSkipsRegisteredExtensions(t *testing.T) {
	rec := &recorder{}
	l := NewLoader(newFakeHost(), nil)
	a := newTestExt(rec, "a")
	b := newTestExt(rec, "b", "a")
	b.activateErr = errors.New("boom")
	require.NoError(t, l.Add(a))
	require.NoError(t, l.Add(b))

	require.Error(t, l.Activate(context.Background()))

	b.activateErr = nil
	require.NoError(t, l.Activate(context.Background()))

	assert.True(t, l.Active())
	assert.Equal(t, []string{
		"register:a", "activate:a",
		"register:b", "activate:b",
		"deactivate:a",
		"activate:a", "activate:b",
	}, rec.Labels())
}

func TestLoader_DeactivateReverseOrder(t *testing.T) {
	rec := &recorder{}
	host := newFakeHost()
	l := NewLoader(host, nil)
	require.NoError(t, l.Add(newTestExt(rec, "a")))
	require.NoError(t, l.Add(newTestExt(rec, "b", "a")))
	require.NoError(t, l.Activate(context.Background()))

	require.NoError(t, l.Deactivate(context.Background()))

	assert.False(t, l.Active())
	assert.Equal(t, []string{
		"register:a", "activate:a",
		"register:b", "activate:b",
		"deactivate:b", "deactivate:a",
	}, rec.Labels())
	assert.Equal(t, []string{
		"extension.activated:a",
		"extension.activated:b",
		"extension.deactivated:b",
		"extension.deactivated:a",
	}, host.Dispatched())

	require.NoError(t, l.Deactivate(context.Background()))
	assert.Equal(t, 6, len(rec.Labels()))
}

func TestLoader_DeactivateErrorsJoined(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	host := newFakeHost()
	l := NewLoader(host, nil)
	a := newTestExt(rec, "a")
	b := newTestExt(rec, "b", "a")
	b.deactivateErr = boom
	require.NoError(t, l.Add(a))
	require.NoError(t, l.Add(b))
	require.NoError(t, l.Activate(context.Background()))

	err := l.Deactivate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `deactivate extension "b"`)
	assert.False(t, l.Active())

	assert.Contains(t, rec.Labels(), "deactivate:a")
	assert.Equal(t, []string{
		"extension.activated:a",
		"extension.activated:b",
		"extension.deactivated:a",
	}, host.Dispatched())
}

func TestLoader_OrderDoesNotActivate(t *testing.T) {
	rec := &recorder{}
	l := NewLoader(newFakeHost(), nil)
	require.NoError(t, l.Add(newTestExt(rec, "b", "a")))
	require.NoError(t, l.Add(newTestExt(rec, "a")))

	order, err := l.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.False(t, l.Active())
	assert.Empty(t, rec.Labels())
}

func TestLoader_ManifestsSorted(t *testing.T) {
	l := NewLoader(newFakeHost(), nil)
	require.NoError(t, l.Add(newTestExt(nil, "zeta")))
	require.NoError(t, l.Add(newTestExt(nil, "alpha", "zeta")))

	manifests := l.Manifests()
	require.Len(t, manifests, 2)
	assert.Equal(t, "alpha", manifests[0].Name)
	assert.Equal(t, []string{"zeta"}, manifests[0].Requires)
	assert.Equal(t, "zeta", manifests[1].Name)
}

func TestLoader_ComponentsFollowActivation(t *testing.T) {
	rec := &recorder{}
	l := NewLoader(newFakeHost(), nil)
	ext := newTestExt(rec, "pump")
	ext.onRegister = func(context.Context, Host) error {
		l.Lifecycle().Register(&fakeComponent{name: "feed", rec: rec})
		return nil
	}
	require.NoError(t, l.Add(ext))

	require.NoError(t, l.Activate(context.Background()))
	require.NoError(t, l.Deactivate(context.Background()))

	assert.Equal(t, []string{
		"register:pump", "activate:pump", "start:feed",
		"stop:feed", "deactivate:pump",
	}, rec.Labels())
}

func TestLoader_ComponentStartFailureRollsBack(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	l := NewLoader(newFakeHost(), nil)
	ext := newTestExt(rec, "pump")
	ext.onRegister = func(context.Context, Host) error {
		l.Lifecycle().Register(&fakeComponent{name: "feed", rec: rec, startErr: boom})
		return nil
	}
	require.NoError(t, l.Add(ext))

	err := l.Activate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start components")
	assert.False(t, l.Active())
	assert.Equal(t, []string{
		"register:pump", "activate:pump", "start:feed", "deactivate:pump",
	}, rec.Labels())
}

func TestLoader_ExtensionsShareServices(t *testing.T) {
	l := NewLoader(newFakeHost(), nil)
	provider := newTestExt(nil, "provider")
	provider.onRegister = func(context.Context, Host) error {
		return l.Locator().Provide("greeting", "hello")
	}

	var got string
	consumer := newTestExt(nil, "consumer", "provider")
	consumer.onRegister = func(context.Context, Host) error {
		v, err := Resolve[string](l.Locator(), "greeting")
		got = v
		return err
	}
	require.NoError(t, l.Add(consumer))
	require.NoError(t, l.Add(provider))

	require.NoError(t, l.Activate(context.Background()))
	assert.Equal(t, "hello", got)
}

func TestLoader_ExtensionsWireListenersThroughHost(t *testing.T) {
	host := newFakeHost()
	l := NewLoader(host, nil)

	var id string
	ext := newTestExt(nil, "audit")
	ext.onRegister = func(_ context.Context, h Host) error {
		var err error
		id, err = h.RegisterListener("audit.*", func(context.Context, *event.Event) error {
			return nil
		})
		return err
	}
	require.NoError(t, l.Add(ext))

	require.NoError(t, l.Activate(context.Background()))
	require.NotEmpty(t, id)
	assert.True(t, host.UnregisterID(id))
}
