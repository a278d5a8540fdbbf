package signal

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforged/runebus/internal/bus/errs"
	"github.com/runeforged/runebus/internal/bus/event"
)

// recorder collects deliveries for assertions.
type recorder struct {
	mu   sync.Mutex
	seen []Delivery
}

func (r *recorder) receive(ctx context.Context, d Delivery) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, d)
	return len(r.seen), nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (r *recorder) last() Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[len(r.seen)-1]
}

func TestConnectValidation(t *testing.T) {
	r := NewRouter()

	_, err := r.Connect(nil)
	require.ErrorIs(t, err, errs.ErrReceiverRequired)

	_, err = ConnectMethod(r, (*recorder)(nil), (*recorder).receive)
	require.ErrorIs(t, err, errs.ErrOwnerRequired)

	_, err = ConnectMethod(r, &recorder{}, nil)
	require.ErrorIs(t, err, errs.ErrReceiverRequired)
}

func TestSendExactMatch(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	sender := "orders"

	ref, err := r.Connect(rec.receive, From(sender), On("created"))
	require.NoError(t, err)
	require.False(t, ref.Bound())

	outs, err := r.Send(context.Background(), "created", sender, map[string]any{"id": 42})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Same(t, ref, outs[0].Ref)
	assert.Equal(t, 1, outs[0].Value)

	d := rec.last()
	assert.Equal(t, "created", d.Signal)
	assert.Equal(t, sender, d.Sender)
	assert.Equal(t, 42, d.Args["id"])

	t.Run("other signal does not match", func(t *testing.T) {
		outs, err := r.Send(context.Background(), "deleted", sender, nil)
		require.NoError(t, err)
		assert.Empty(t, outs)
	})

	t.Run("other sender does not match", func(t *testing.T) {
		outs, err := r.Send(context.Background(), "created", "billing", nil)
		require.NoError(t, err)
		assert.Empty(t, outs)
	})
}

func TestReceiversPreferenceOrder(t *testing.T) {
	r := NewRouter()
	sender := "orders"
	nop := func(ctx context.Context, d Delivery) (any, error) { return nil, nil }

	exact, err := r.Connect(nop, From(sender), On("created"))
	require.NoError(t, err)
	anySignal, err := r.Connect(nop, From(sender))
	require.NoError(t, err)
	anySender, err := r.Connect(nop, On("created"))
	require.NoError(t, err)
	catchAll, err := r.Connect(nop)
	require.NoError(t, err)

	got := r.Receivers(sender, "created")
	require.Equal(t, []*Ref{exact, anySignal, anySender, catchAll}, got)

	t.Run("unrelated pair sees only the catch-all", func(t *testing.T) {
		got := r.Receivers("billing", "deleted")
		require.Equal(t, []*Ref{catchAll}, got)
	})

	t.Run("wildcard signal still keys to its sender", func(t *testing.T) {
		got := r.Receivers(sender, "deleted")
		require.Equal(t, []*Ref{anySignal, catchAll}, got)
	})
}

func TestReceiversDeduplicateAcrossBuckets(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}

	ref, err := ConnectMethod(r, rec, (*recorder).receive, From("orders"), On("created"))
	require.NoError(t, err)
	again, err := ConnectMethod(r, rec, (*recorder).receive)
	require.NoError(t, err)
	require.Same(t, ref, again)
	assert.Equal(t, 2, r.ConnectionCount())
	assert.Equal(t, 1, r.BoundRefCount())

	outs, err := r.Send(context.Background(), "created", "orders", nil)
	require.NoError(t, err)
	require.Len(t, outs, 1, "one receiver connected under two keys is invoked once")
	assert.Equal(t, 1, rec.count())

	runtime.KeepAlive(rec)
}

func TestSendStopsOnFirstError(t *testing.T) {
	r := NewRouter()
	boom := errors.New("boom")
	rec := &recorder{}

	_, err := r.Connect(func(ctx context.Context, d Delivery) (any, error) {
		return nil, boom
	}, On("tick"))
	require.NoError(t, err)
	_, err = r.Connect(rec.receive, On("tick"))
	require.NoError(t, err)

	outs, err := r.Send(context.Background(), "tick", nil, nil)
	require.ErrorIs(t, err, boom)
	require.Len(t, outs, 1)
	assert.Equal(t, 0, rec.count(), "receivers after the failing one must not run")
}

func TestSendRobustAttemptsAll(t *testing.T) {
	r := NewRouter()
	boom := errors.New("boom")
	rec := &recorder{}

	_, err := r.Connect(func(ctx context.Context, d Delivery) (any, error) {
		return nil, boom
	}, On("tick"))
	require.NoError(t, err)
	_, err = r.Connect(rec.receive, On("tick"))
	require.NoError(t, err)

	outs := r.SendRobust(context.Background(), "tick", nil, nil)
	require.Len(t, outs, 2)
	assert.ErrorIs(t, outs[0].Err, boom)
	assert.NoError(t, outs[1].Err)
	assert.Equal(t, 1, rec.count())
}

func TestDisconnectRemovesEverySender(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}

	ref, err := ConnectMethod(r, rec, (*recorder).receive, From("a"), On("tick"))
	require.NoError(t, err)
	_, err = ConnectMethod(r, rec, (*recorder).receive, From("b"), On("tick"))
	require.NoError(t, err)
	require.Equal(t, 2, r.ConnectionCount())
	require.Equal(t, 2, r.SenderCount())

	require.True(t, r.Disconnect(ref))
	assert.Equal(t, 0, r.ConnectionCount())
	assert.Equal(t, 0, r.SenderCount())

	outs, err := r.Send(context.Background(), "tick", "a", nil)
	require.NoError(t, err)
	assert.Empty(t, outs)

	t.Run("second disconnect is a no-op", func(t *testing.T) {
		assert.False(t, r.Disconnect(ref))
	})

	t.Run("nil ref", func(t *testing.T) {
		assert.False(t, r.Disconnect(nil))
	})

	runtime.KeepAlive(rec)
}

func TestAnonymousSender(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}

	_, err := r.Connect(rec.receive, From(Anonymous), On("tick"))
	require.NoError(t, err)

	outs, err := r.Send(context.Background(), "tick", Anonymous, nil)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	outs, err = r.Send(context.Background(), "tick", "named", nil)
	require.NoError(t, err)
	assert.Empty(t, outs, "anonymous connections see only anonymous sends")
}

func TestEmitEvent(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	_, err := r.Connect(rec.receive, On("user.created"))
	require.NoError(t, err)

	evt := event.New("user.created", event.WithPayload(map[string]any{"id": 7}))
	outs := r.EmitEvent(context.Background(), evt, nil)
	require.Len(t, outs, 1)

	d := rec.last()
	assert.Same(t, evt, d.Event)
	assert.Equal(t, "user.created", d.Signal)
	assert.Equal(t, 7, d.Args["id"])
}

func TestEmitEventHonoursCancellation(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}

	_, err := r.Connect(func(ctx context.Context, d Delivery) (any, error) {
		d.Event.Cancel()
		return nil, nil
	}, On("user.created"))
	require.NoError(t, err)
	_, err = r.Connect(rec.receive, On("user.created"))
	require.NoError(t, err)

	outs := r.EmitEvent(context.Background(), event.New("user.created"), nil)
	require.Len(t, outs, 1)
	assert.Equal(t, 0, rec.count(), "cancellation stops the remaining receivers")
}

func TestReceiversPruneDeadRefs(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}

	ref, created := bindMethod(r.table, rec, (*recorder).receive)
	require.True(t, created)
	r.insert(ref, connectOpts{signal: "tick"})
	require.Equal(t, 1, r.ConnectionCount())

	ref.invalidate()

	assert.Empty(t, r.Receivers(nil, "tick"))
	assert.Equal(t, 0, r.ConnectionCount(), "dead references are pruned during resolution")
	runtime.KeepAlive(rec)
}

func TestConnectMethodPrunesOnCollect(t *testing.T) {
	r := NewRouter()
	ref, err := ConnectMethod(r, &recorder{}, (*recorder).receive, On("tick"))
	require.NoError(t, err)
	require.Equal(t, 1, r.ConnectionCount())
	require.Equal(t, 1, r.BoundRefCount())

	require.Eventually(t, func() bool {
		runtime.GC()
		return !ref.Alive() && r.ConnectionCount() == 0 && r.BoundRefCount() == 0
	}, 5*time.Second, 10*time.Millisecond,
		"collecting the owner must tear the connection down")
}

func TestFromOwnerDropsCollectedSender(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	owner := &recorder{}

	_, err := r.Connect(rec.receive, FromOwner(owner), On("tick"))
	require.NoError(t, err)
	require.Equal(t, 1, r.SenderCount())

	outs, err := r.Send(context.Background(), "tick", SenderOf(owner), nil)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	runtime.KeepAlive(owner)

	require.Eventually(t, func() bool {
		runtime.GC()
		return r.SenderCount() == 0 && r.ConnectionCount() == 0
	}, 5*time.Second, 10*time.Millisecond,
		"collecting the sender must drop its connections")
	assert.Equal(t, 1, rec.count())
}

func TestRouterConcurrentUse(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				ref, err := r.Connect(rec.receive, On("tick"))
				assert.NoError(t, err)
				r.SendRobust(ctx, "tick", nil, nil)
				r.Disconnect(ref)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.ConnectionCount())
}
