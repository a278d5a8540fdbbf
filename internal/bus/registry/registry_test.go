package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
)

func nopListener(ctx context.Context, evt *event.Event) error { return nil }

func entryIDs(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestRegisterValidation(t *testing.T) {
	r := New()

	_, err := r.Register("", nopListener)
	require.ErrorIs(t, err, errs.ErrPatternRequired)

	_, err = r.Register("tick", nil)
	require.ErrorIs(t, err, errs.ErrListenerRequired)
}

func TestResolveOrdering(t *testing.T) {
	r := New()

	late, err := r.Register("user.created", nopListener, WithPriority(20))
	require.NoError(t, err)
	wildTen, err := r.Register("user.*", nopListener)
	require.NoError(t, err)
	exactTen, err := r.Register("user.created", nopListener)
	require.NoError(t, err)
	early, err := r.Register("*", nopListener, WithPriority(5))
	require.NoError(t, err)

	got := entryIDs(r.Resolve("user.created"))
	require.Equal(t, []string{early, exactTen, wildTen, late}, got,
		"ascending priority, exact before wildcard on ties")
}

func TestResolveStableOnEqualPriority(t *testing.T) {
	r := New()

	first, err := r.Register("tick", nopListener)
	require.NoError(t, err)
	second, err := r.Register("tick", nopListener)
	require.NoError(t, err)

	require.Equal(t, []string{first, second}, entryIDs(r.Resolve("tick")))
}

func TestResolveSnapshot(t *testing.T) {
	r := New()

	_, err := r.Register("tick", nopListener)
	require.NoError(t, err)
	snap := r.Resolve("tick")

	_, err = r.Register("tick", nopListener)
	require.NoError(t, err)

	assert.Len(t, snap, 1, "a resolved snapshot never changes")
	assert.Len(t, r.Resolve("tick"), 2)
}

func TestWildcardMatching(t *testing.T) {
	r := New()
	_, err := r.Register("user.*", nopListener)
	require.NoError(t, err)

	assert.Len(t, r.Resolve("user.created"), 1)
	assert.Len(t, r.Resolve("user."), 1)
	assert.Empty(t, r.Resolve("user"), "prefix excludes the bare stem")
	assert.Empty(t, r.Resolve("orders.created"))

	t.Run("lone asterisk matches everything", func(t *testing.T) {
		r := New()
		_, err := r.Register("*", nopListener)
		require.NoError(t, err)
		assert.Len(t, r.Resolve("anything.at.all"), 1)
	})

	t.Run("entry introspection", func(t *testing.T) {
		all := r.Registrations()
		require.Len(t, all, 1)
		e := all[0]
		assert.True(t, e.Wildcard())
		assert.True(t, e.Matches("user.created"))
		assert.False(t, e.Matches("user"))
	})
}

func TestDuplicateRegistrationsAllowed(t *testing.T) {
	r := New()

	_, err := r.Register("tick", nopListener)
	require.NoError(t, err)
	_, err = r.Register("tick", nopListener)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.Resolve("tick"), 2)
}

func TestUnregister(t *testing.T) {
	r := New()
	other := func(ctx context.Context, evt *event.Event) error { return nil }

	_, err := r.Register("tick", nopListener)
	require.NoError(t, err)
	_, err = r.Register("tick", nopListener)
	require.NoError(t, err)
	_, err = r.Register("tick", other)
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	assert.Equal(t, 2, r.Unregister("tick", nopListener), "removes every registration of the listener")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.Unregister("tick", nopListener))
	assert.Equal(t, 1, r.Unregister("tick", other))
	assert.Empty(t, r.Resolve("tick"))
	assert.Equal(t, 0, r.Unregister("tick", nil))

	t.Run("wildcard pattern", func(t *testing.T) {
		_, err := r.Register("user.*", nopListener)
		require.NoError(t, err)
		assert.Equal(t, 1, r.Unregister("user.*", nopListener))
		assert.Empty(t, r.Resolve("user.created"))
	})
}

func TestUnregisterID(t *testing.T) {
	r := New()

	id, err := r.Register("tick", nopListener)
	require.NoError(t, err)
	wildID, err := r.Register("user.*", nopListener)
	require.NoError(t, err)

	assert.True(t, r.UnregisterID(id))
	assert.False(t, r.UnregisterID(id))
	assert.True(t, r.UnregisterID(wildID))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				id, err := r.Register("tick", nopListener)
				assert.NoError(t, err)
				r.Resolve("tick")
				assert.True(t, r.UnregisterID(id))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
