package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func foo(ctx context.Context, args ...any) (int, error) {
	return 1, nil
}

func TestWrap_CallsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t, nil)
	reach := &counter{}

	w, err := Wrap(c, countingFn(reach, 1), WithKey("foo"))
	require.NoError(t, err)

	first, err := w.Call(ctx)
	require.NoError(t, err)
	second, err := w.Call(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, reach.get())
	assert.Equal(t, 1, first)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"cached:foo"}, store.Keys())
}

func TestWrap_UnresolvedKeySkipsCache(t *testing.T) {
	ctx := context.Background()
	log := &outcomeLog{}
	c, store := newTestCache(t, nil, WithObserver(log))
	reach := &counter{}

	w, err := Wrap(c, countingFn(reach, 1), WithKey("{1}"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.Call(ctx, "only-one")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, reach.get())
	assert.Equal(t, 0, store.Count("get"))
	assert.Equal(t, 0, store.Count("set"))
	assert.Equal(t, []Outcome{OutcomeUnresolved, OutcomeUnresolved, OutcomeUnresolved}, log.all())

	key, ok := w.Key(nil, "only-one")
	assert.False(t, ok)
	assert.Equal(t, "cached:{1}", key)
}

func TestWrap_KeyTemplates(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    []WrapOption
		recv    any
		args    []any
		wantKey string
	}{
		{
			name:    "default key uses the inferred name and json args",
			args:    []any{map[string]any{"a": 1}},
			wantKey: `cached:foo:{"a":1}`,
		},
		{
			name:    "positional",
			opts:    []WrapOption{Named("foor"), WithKey("foor-{0}-{1}")},
			args:    []any{2, 5},
			wantKey: "cached:foor-2-5",
		},
		{
			name:    "receiver context",
			opts:    []WrapOption{Named("contexted"), WithKey("contexted-{this.id}-{id}-{name}")},
			recv:    map[string]any{"id": "abc", "name": "def"},
			wantKey: "cached:contexted-abc-abc-def",
		},
		{
			name:    "bound receiver",
			opts:    []WrapOption{Named("bound"), WithKey("bound-{id}"), WithReceiver(map[string]any{"id": "r1"})},
			recv:    map[string]any{"id": "ignored"},
			wantKey: "cached:bound-r1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := newTestCache(t, nil)
			w, err := Wrap[int](c, foo, tt.opts...)
			require.NoError(t, err)

			key, ok := w.Key(tt.recv, tt.args...)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, key)

			_, err = w.CallOn(ctx, tt.recv, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.wantKey}, store.Keys())
		})
	}
}

func TestWrap_Fresh(t *testing.T) {
	ctx := context.Background()
	log := &outcomeLog{}
	c, store := newTestCache(t, nil, WithObserver(log))
	reach := &counter{}

	w, err := Wrap(c, func(ctx context.Context, args ...any) (int, error) {
		return reach.inc(), nil
	}, WithKey("fresh"))
	require.NoError(t, err)

	first, err := w.Call(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first)
	store.Reset()

	fresh, err := w.Fresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh)

	viaContext, err := w.Call(WithFresh(ctx))
	require.NoError(t, err)
	assert.Equal(t, 3, viaContext)

	assert.Empty(t, store.Ops(), "fresh calls never touch the store")

	cached, err := w.Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cached, "the entry written before the fresh calls is untouched")
	assert.Equal(t, []Outcome{OutcomeMiss, OutcomeBypass, OutcomeBypass, OutcomeHit}, log.all())
}

func TestWrap_StoreReadErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("store down")

	t.Run("silent degrades to a miss", func(t *testing.T) {
		c, store := newTestCache(t, nil)
		store.FailGet(boom)
		reach := &counter{}

		w, err := Wrap(c, countingFn(reach, 7), WithKey("k"))
		require.NoError(t, err)

		got, err := w.Call(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 1, reach.get())
		assert.Equal(t, 1, store.Count("set"))
	})

	t.Run("non silent returns the error", func(t *testing.T) {
		log := &outcomeLog{}
		c, store := newTestCache(t, func(cfg *Config) { cfg.Silent = false }, WithObserver(log))
		store.FailGet(boom)
		reach := &counter{}

		w, err := Wrap(c, countingFn(reach, 7), WithKey("k"))
		require.NoError(t, err)

		_, err = w.Call(ctx)
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 0, reach.get(), "the function does not run")
		assert.Equal(t, []Outcome{OutcomeStoreError}, log.all())
	})
}

func TestWrap_StoreWriteErrorIsLogged(t *testing.T) {
	logger, logs := observedLogger()
	c, store := newTestCache(t, nil, WithLogger(logger))
	store.FailSet(errors.New("read only"))
	reach := &counter{}

	w, err := Wrap(c, countingFn(reach, 3), WithKey("k"))
	require.NoError(t, err)

	got, err := w.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, 1, logs.FilterMessage("cache write failed").Len())
}

func TestWrap_ErrorsAndNilAreNotCached(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t, nil)
	boom := errors.New("boom")

	failing, err := Wrap(c, func(ctx context.Context, args ...any) (int, error) {
		return 0, boom
	}, WithKey("failing"))
	require.NoError(t, err)

	_, err = failing.Call(ctx)
	assert.True(t, errors.Is(err, boom))

	reach := &counter{}
	empty, err := Wrap(c, func(ctx context.Context, args ...any) (*user, error) {
		reach.inc()
		return nil, nil
	}, WithKey("empty"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := empty.Call(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 2, reach.get())
	assert.Equal(t, 0, store.Count("set"))
}

func TestWrap_ZeroValuesAreCached(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, nil)
	reach := &counter{}

	w, err := Wrap(c, func(ctx context.Context, args ...any) (bool, error) {
		reach.inc()
		return false, nil
	}, WithKey("flag:{0}"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		got, err := w.Call(ctx, 0)
		require.NoError(t, err)
		assert.False(t, got)
	}
	assert.Equal(t, 1, reach.get())
}

func TestWrap_Naming(t *testing.T) {
	c, _ := newTestCache(t, nil)

	named, err := Wrap[int](c, foo)
	require.NoError(t, err)
	assert.Equal(t, "foo", named.Name())
	assert.Equal(t, DefaultKey, named.Template())

	_, err = Wrap(c, func(ctx context.Context, args ...any) (int, error) { return 0, nil })
	assert.True(t, errors.Is(err, ErrMissingName), "anonymous functions cannot use {_fn_}")

	anon, err := Wrap(c, func(ctx context.Context, args ...any) (int, error) { return 0, nil }, WithKey("anon:{0}"))
	require.NoError(t, err)
	assert.Equal(t, "", anon.Name())

	explicit, err := Wrap(c, func(ctx context.Context, args ...any) (int, error) { return 0, nil }, Named("explicit"), WithTTL(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "explicit", explicit.Name())
	assert.Equal(t, time.Hour, explicit.TTL())

	_, err = Wrap[int](c, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	_, err = Wrap[int](nil, foo)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestWrap_KeyConflict(t *testing.T) {
	t.Run("warns by default", func(t *testing.T) {
		logger, logs := observedLogger()
		c, _ := newTestCache(t, nil, WithLogger(logger))

		_, err := Wrap[int](c, foo, Named("first"), WithKey("shared:{0}"))
		require.NoError(t, err)
		_, err = Wrap[int](c, foo, Named("second"), WithKey("shared:{0}"))
		require.NoError(t, err)

		conflicts := logs.FilterMessage("possible key conflict").All()
		require.Len(t, conflicts, 1)
		fields := conflicts[0].ContextMap()
		assert.Equal(t, "second", fields["fn"])
		assert.Equal(t, "first", fields["owner"])
		assert.Equal(t, "shared:{0}", fields["key"])

		owner, ok := c.Keys().Owner("shared:{0}")
		assert.True(t, ok)
		assert.Equal(t, "first", owner)
	})

	t.Run("fails in strict mode", func(t *testing.T) {
		c, _ := newTestCache(t, func(cfg *Config) { cfg.StrictKeys = true })

		_, err := Wrap[int](c, foo, Named("first"), WithKey("shared"))
		require.NoError(t, err)
		_, err = Wrap[int](c, foo, Named("second"), WithKey("shared"))
		assert.True(t, errors.Is(err, ErrKeyConflict))
	})

	t.Run("shared registry spans managers", func(t *testing.T) {
		keys := NewKeyRegistry()
		a, _ := newTestCache(t, func(cfg *Config) { cfg.StrictKeys = true }, WithKeyRegistry(keys))
		b, _ := newTestCache(t, func(cfg *Config) { cfg.StrictKeys = true }, WithKeyRegistry(keys))

		_, err := Wrap[int](a, foo)
		require.NoError(t, err)
		_, err = Wrap[int](b, foo)
		assert.True(t, errors.Is(err, ErrKeyConflict))
		assert.Equal(t, []string{"foo:%j{0}"}, keys.Keys())
	})
}

func TestWrap_RunAndAsync(t *testing.T) {
	ctx := context.Background()
	log := &outcomeLog{}
	c, store := newTestCache(t, nil, WithObserver(log))
	reach := &counter{}

	w, err := Wrap(c, countingFn(reach, 9), WithKey("side:{0}"))
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx, "x"))
	assert.Equal(t, 1, reach.get())
	assert.Empty(t, store.Ops(), "detached calls do not touch the store")

	res := <-w.Async(ctx, "x")
	require.NoError(t, res.Err)
	assert.Equal(t, 9, res.Value)

	res = <-w.Async(ctx, "x")
	require.NoError(t, res.Err)
	assert.Equal(t, 9, res.Value)
	assert.Equal(t, 2, reach.get())
	assert.Equal(t, []Outcome{OutcomeDetached, OutcomeMiss, OutcomeHit}, log.all())
}

func TestWrap_RevivesRegisteredTypes(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, nil)
	_, err := Register(c, newUser)
	require.NoError(t, err)

	reach := &counter{}
	w, err := Wrap(c, func(ctx context.Context, args ...any) ([]*user, error) {
		reach.inc()
		return []*user{{ID: "1"}, {ID: "2"}}, nil
	}, WithKey("users:all"))
	require.NoError(t, err)

	_, err = w.Call(ctx)
	require.NoError(t, err)
	got, err := w.Call(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, reach.get())
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[1].ID)
	assert.True(t, got[1].revived)
}

func TestWrap_PreservesLargeIntegers(t *testing.T) {
	ctx := context.Background()
	const big = int64(9007199254740993)

	t.Run("direct result", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		w, err := Wrap(c, func(ctx context.Context, args ...any) (int64, error) {
			return big, nil
		}, WithKey("big"))
		require.NoError(t, err)

		first, err := w.Call(ctx)
		require.NoError(t, err)
		second, err := w.Call(ctx)
		require.NoError(t, err)
		assert.Equal(t, big, first)
		assert.Equal(t, first, second)
	})

	t.Run("unsigned above int64", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		w, err := Wrap(c, func(ctx context.Context, args ...any) (uint64, error) {
			return math.MaxUint64, nil
		}, WithKey("huge"))
		require.NoError(t, err)

		_, err = w.Call(ctx)
		require.NoError(t, err)
		got, err := w.Call(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), got)
	})

	t.Run("struct field", func(t *testing.T) {
		type account struct {
			ID      int64  `json:"id"`
			Balance uint64 `json:"balance"`
		}
		c, _ := newTestCache(t, nil)
		w, err := Wrap(c, func(ctx context.Context, args ...any) (account, error) {
			return account{ID: big, Balance: math.MaxUint64}, nil
		}, WithKey("account"))
		require.NoError(t, err)

		_, err = w.Call(ctx)
		require.NoError(t, err)
		got, err := w.Call(ctx)
		require.NoError(t, err)
		assert.Equal(t, account{ID: big, Balance: math.MaxUint64}, got)
	})

	t.Run("registered type field", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		_, err := Register(c, newLedgerEntry)
		require.NoError(t, err)

		reach := &counter{}
		w, err := Wrap(c, func(ctx context.Context, args ...any) (*ledgerEntry, error) {
			reach.inc()
			return &ledgerEntry{Seq: big}, nil
		}, WithKey("ledger:last"))
		require.NoError(t, err)

		_, err = w.Call(ctx)
		require.NoError(t, err)
		got, err := w.Call(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, reach.get())
		assert.Equal(t, big, got.Seq)
	})

	t.Run("interface result", func(t *testing.T) {
		c, _ := newTestCache(t, nil)
		w, err := Wrap(c, func(ctx context.Context, args ...any) (any, error) {
			return big, nil
		}, WithKey("any"))
		require.NoError(t, err)

		_, err = w.Call(ctx)
		require.NoError(t, err)
		got, err := w.Call(ctx)
		require.NoError(t, err)
		assert.Equal(t, big, got, "integers come back as int64 when R is any")
	})
}

func TestWrap_UnavailableTypeIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t, nil)
	store.Put("cached:legacy", []byte(`{"__cachedname":"removed","id":"1"}`))
	reach := &counter{}

	w, err := Wrap(c, countingFn(reach, 4), WithKey("legacy"))
	require.NoError(t, err)

	got, err := w.Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, 1, reach.get())

	raw, _ := store.Raw("cached:legacy")
	assert.Equal(t, "4", string(raw), "the stale entry is overwritten")
}

func TestWrap_SingleFlight(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, func(cfg *Config) { cfg.SingleFlight = true })
	reach := &counter{}
	release := make(chan struct{})

	w, err := Wrap(c, func(ctx context.Context, args ...any) (int, error) {
		reach.inc()
		<-release
		return 5, nil
	}, WithKey("slow"))
	require.NoError(t, err)

	const callers = 8
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], _ = w.Call(ctx)
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool { return reach.get() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, 1, reach.get())
	for _, r := range results {
		assert.Equal(t, 5, r)
	}
}

func TestWrap_LoggerIsNamed(t *testing.T) {
	logger, logs := observedLogger()
	c, _ := newTestCache(t, nil, WithLogger(logger))

	_, err := Wrap[int](c, foo)
	require.NoError(t, err)

	entries := logs.FilterMessage("wrapped function").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "cacheable", entries[0].LoggerName)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
}
