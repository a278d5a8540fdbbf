package signal

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter struct {
	prefix string
}

func (g *greeter) greet(ctx context.Context, d Delivery) (any, error) {
	return g.prefix + d.Signal, nil
}

func (g *greeter) shout(ctx context.Context, d Delivery) (any, error) {
	return g.prefix + d.Signal + "!", nil
}

func TestDirectRef(t *testing.T) {
	called := false
	ref := newDirectRef(func(ctx context.Context, d Delivery) (any, error) {
		called = true
		return "ok", nil
	})

	require.NotEmpty(t, ref.ID())
	assert.False(t, ref.Bound())
	require.True(t, ref.Alive())

	rcv, ok := ref.Resolve()
	require.True(t, ok)
	value, err := rcv(context.Background(), Delivery{Signal: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.True(t, called)
}

func TestBindMethodDedup(t *testing.T) {
	table := newRefTable()
	owner := &greeter{prefix: "hello "}

	first, created := bindMethod(table, owner, (*greeter).greet)
	require.True(t, created)
	second, created := bindMethod(table, owner, (*greeter).greet)
	require.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, 1, table.Len())

	t.Run("distinct method gets its own ref", func(t *testing.T) {
		other, created := bindMethod(table, owner, (*greeter).shout)
		require.True(t, created)
		assert.NotSame(t, first, other)
		assert.Equal(t, 2, table.Len())
	})

	t.Run("distinct owner gets its own ref", func(t *testing.T) {
		other, created := bindMethod(table, &greeter{}, (*greeter).greet)
		require.True(t, created)
		assert.NotSame(t, first, other)
	})

	runtime.KeepAlive(owner)
}

func TestRefResolveBound(t *testing.T) {
	table := newRefTable()
	owner := &greeter{prefix: "hey "}
	ref, _ := bindMethod(table, owner, (*greeter).greet)

	require.True(t, ref.Bound())
	rcv, ok := ref.Resolve()
	require.True(t, ok)
	value, err := rcv(context.Background(), Delivery{Signal: "world"})
	require.NoError(t, err)
	assert.Equal(t, "hey world", value)
	runtime.KeepAlive(owner)
}

func TestRefInvalidateExactlyOnce(t *testing.T) {
	table := newRefTable()
	owner := &greeter{}
	ref, _ := bindMethod(table, owner, (*greeter).greet)

	fired := 0
	ref.OnInvalidate(func(*Ref) { fired++ })

	ref.invalidate()
	ref.invalidate()

	assert.Equal(t, 1, fired)
	assert.False(t, ref.Alive())
	_, ok := ref.Resolve()
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())

	t.Run("late registration fires immediately", func(t *testing.T) {
		late := 0
		ref.OnInvalidate(func(*Ref) { late++ })
		assert.Equal(t, 1, late)
	})

	t.Run("dead ref is not handed out again", func(t *testing.T) {
		fresh, created := bindMethod(table, owner, (*greeter).greet)
		require.True(t, created)
		assert.NotSame(t, ref, fresh)
	})

	runtime.KeepAlive(owner)
}

func TestBindMethodInvalidatesOnCollect(t *testing.T) {
	table := newRefTable()
	ref, created := bindMethod(table, &greeter{prefix: "gone "}, (*greeter).greet)
	require.True(t, created)
	require.Equal(t, 1, table.Len())
	require.True(t, ref.Alive())

	require.Eventually(t, func() bool {
		runtime.GC()
		return !ref.Alive() && table.Len() == 0
	}, 5*time.Second, 10*time.Millisecond,
		"reference should invalidate once the owner is collected")
}
