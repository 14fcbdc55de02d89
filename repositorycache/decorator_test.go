package repositorycache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/goliatone/go-cacheable/cache"
	"github.com/goliatone/go-cacheable/pkg/testsupport"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// TestUser represents a test entity
type TestUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// mockRepository records method calls and serves canned results
type mockRepository[T any] struct {
	mu           sync.Mutex
	calls        []string
	getResult    T
	getError     error
	byID         map[string]T
	getByIDError error
	byIdentifier map[string]T
	listRecords  []T
	listTotal    int
	listError    error
	countResult  int
	countError   error
	createResult T
	createError  error
	updateResult T
	updateError  error
	deleteError  error
}

func (m *mockRepository[T]) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
}

func (m *mockRepository[T]) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockRepository[T]) clearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("Get")
	return m.getResult, m.getError
}

func (m *mockRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("GetByID:" + id)
	return m.byID[id], m.getByIDError
}

func (m *mockRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	m.recordCall("List")
	return m.listRecords, m.listTotal, m.listError
}

func (m *mockRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	m.recordCall("Count")
	return m.countResult, m.countError
}

func (m *mockRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	m.recordCall("GetByIdentifier:" + identifier)
	return m.byIdentifier[identifier], nil
}

func (m *mockRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	m.recordCall("Create")
	return m.createResult, m.createError
}

func (m *mockRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	m.recordCall("Update")
	return m.updateResult, m.updateError
}

func (m *mockRepository[T]) Delete(ctx context.Context, record T) error {
	m.recordCall("Delete")
	return m.deleteError
}

func (m *mockRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	m.recordCall("DeleteMany")
	return nil
}

func (m *mockRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	m.recordCall("Raw")
	return m.listRecords, nil
}

// Other methods panic to ensure they're not called during these tests
func (m *mockRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	panic("RawTx not implemented in mock")
}
func (m *mockRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	panic("GetTx not implemented in mock")
}
func (m *mockRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	panic("GetByIDTx not implemented in mock")
}
func (m *mockRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	panic("ListTx not implemented in mock")
}
func (m *mockRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	panic("CountTx not implemented in mock")
}
func (m *mockRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	panic("CreateTx not implemented in mock")
}
func (m *mockRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	panic("CreateMany not implemented in mock")
}
func (m *mockRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	panic("CreateManyTx not implemented in mock")
}
func (m *mockRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	panic("GetOrCreate not implemented in mock")
}
func (m *mockRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	panic("GetOrCreateTx not implemented in mock")
}
func (m *mockRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	panic("GetByIdentifierTx not implemented in mock")
}
func (m *mockRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	panic("UpdateTx not implemented in mock")
}
func (m *mockRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	panic("UpdateMany not implemented in mock")
}
func (m *mockRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	panic("UpdateManyTx not implemented in mock")
}
func (m *mockRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	panic("Upsert not implemented in mock")
}
func (m *mockRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	panic("UpsertTx not implemented in mock")
}
func (m *mockRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	panic("UpsertMany not implemented in mock")
}
func (m *mockRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	panic("UpsertManyTx not implemented in mock")
}
func (m *mockRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	panic("DeleteTx not implemented in mock")
}
func (m *mockRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	panic("DeleteManyTx not implemented in mock")
}
func (m *mockRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	panic("DeleteWhere not implemented in mock")
}
func (m *mockRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	panic("DeleteWhereTx not implemented in mock")
}
func (m *mockRepository[T]) ForceDelete(ctx context.Context, record T) error {
	panic("ForceDelete not implemented in mock")
}
func (m *mockRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	panic("ForceDeleteTx not implemented in mock")
}
func (m *mockRepository[T]) Handlers() repository.ModelHandlers[T] {
	panic("Handlers not implemented in mock")
}

func newUserRepo() *mockRepository[*TestUser] {
	return &mockRepository[*TestUser]{
		byID: map[string]*TestUser{
			"u1": {ID: "u1", Name: "alice"},
			"u2": {ID: "u2", Name: "bob"},
		},
		byIdentifier: map[string]*TestUser{
			"alice": {ID: "u1", Name: "alice"},
		},
		listRecords: []*TestUser{{ID: "u1", Name: "alice"}, {ID: "u2", Name: "bob"}},
		listTotal:   2,
		countResult: 2,
	}
}

func setup(t *testing.T, opts ...Option) (*CachedRepository[*TestUser], *mockRepository[*TestUser], *testsupport.Store) {
	t.Helper()

	store := testsupport.NewStore()
	c, err := cache.New(store, cache.DefaultConfig())
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	base := newUserRepo()
	cached, err := New[*TestUser](base, c, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return cached, base, store
}

func hasKey(store *testsupport.Store, key string) bool {
	_, ok := store.Raw(key)
	return ok
}

func TestNew(t *testing.T) {
	cached, _, _ := setup(t)

	if cached.TypeTag() != "test_user" {
		t.Errorf("expected tag test_user, got %q", cached.TypeTag())
	}

	custom, _, _ := setup(t, WithTag("members"))
	if custom.TypeTag() != "members" {
		t.Errorf("expected tag members, got %q", custom.TypeTag())
	}

	c, _ := cache.New(testsupport.NewStore(), cache.DefaultConfig())
	if _, err := New[*TestUser](nil, c); err == nil {
		t.Error("expected error for nil base repository")
	}
	if _, err := New[*TestUser](newUserRepo(), nil); err == nil {
		t.Error("expected error for nil cacheable")
	}
}

func TestCachedReadMethods(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		call     func(r *CachedRepository[*TestUser]) (any, error)
		key      string
		baseCall string
		want     any
	}{
		{
			name:     "GetByID",
			call:     func(r *CachedRepository[*TestUser]) (any, error) { return r.GetByID(ctx, "u1") },
			key:      "cached:test_user:GetByID:u1",
			baseCall: "GetByID:u1",
			want:     &TestUser{ID: "u1", Name: "alice"},
		},
		{
			name:     "GetByIdentifier",
			call:     func(r *CachedRepository[*TestUser]) (any, error) { return r.GetByIdentifier(ctx, "alice") },
			key:      "cached:test_user:GetByIdentifier:alice",
			baseCall: "GetByIdentifier:alice",
			want:     &TestUser{ID: "u1", Name: "alice"},
		},
		{
			name: "List",
			call: func(r *CachedRepository[*TestUser]) (any, error) {
				records, total, err := r.List(ctx)
				return listResult[*TestUser]{Records: records, Total: total}, err
			},
			key:      "cached:test_user:List",
			baseCall: "List",
			want: listResult[*TestUser]{
				Records: []*TestUser{{ID: "u1", Name: "alice"}, {ID: "u2", Name: "bob"}},
				Total:   2,
			},
		},
		{
			name:     "Count",
			call:     func(r *CachedRepository[*TestUser]) (any, error) { return r.Count(ctx) },
			key:      "cached:test_user:Count",
			baseCall: "Count",
			want:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cached, base, store := setup(t)

			first, err := tt.call(cached)
			if err != nil {
				t.Fatalf("first call error = %v", err)
			}
			second, err := tt.call(cached)
			if err != nil {
				t.Fatalf("second call error = %v", err)
			}

			if calls := base.getCalls(); !reflect.DeepEqual(calls, []string{tt.baseCall}) {
				t.Errorf("expected base calls [%s], got %v", tt.baseCall, calls)
			}
			if !hasKey(store, tt.key) {
				t.Errorf("expected key %s in store, got %v", tt.key, store.Keys())
			}
			if !reflect.DeepEqual(first, tt.want) {
				t.Errorf("first result = %#v, want %#v", first, tt.want)
			}
			if !reflect.DeepEqual(second, tt.want) {
				t.Errorf("cached result = %#v, want %#v", second, tt.want)
			}
		})
	}
}

func TestCachedReadMethods_CriteriaBypassCache(t *testing.T) {
	ctx := context.Background()
	cached, base, store := setup(t)

	byName := func(q *bun.SelectQuery) *bun.SelectQuery { return q.Where("name = ?", "alice") }

	for i := 0; i < 2; i++ {
		if _, err := cached.GetByID(ctx, "u1", byName); err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if _, _, err := cached.List(ctx, byName); err != nil {
			t.Fatalf("List() error = %v", err)
		}
	}

	if got := len(base.getCalls()); got != 4 {
		t.Errorf("expected every criteria call to reach the base, got %v", base.getCalls())
	}
	if len(store.Ops()) != 0 {
		t.Errorf("expected no store traffic, got %+v", store.Ops())
	}
	if cached.TrackedKeys() != 0 {
		t.Errorf("expected no tracked keys, got %d", cached.TrackedKeys())
	}
}

func TestCachedReadMethods_ErrorPropagation(t *testing.T) {
	ctx := context.Background()
	cached, base, store := setup(t)
	boom := errors.New("database unavailable")
	base.getByIDError = boom
	base.listError = boom
	base.countError = boom

	if _, err := cached.GetByID(ctx, "u1"); !errors.Is(err, boom) {
		t.Errorf("GetByID() error = %v, want %v", err, boom)
	}
	if _, _, err := cached.List(ctx); !errors.Is(err, boom) {
		t.Errorf("List() error = %v, want %v", err, boom)
	}
	if _, err := cached.Count(ctx); !errors.Is(err, boom) {
		t.Errorf("Count() error = %v, want %v", err, boom)
	}
	if keys := store.Keys(); len(keys) != 0 {
		t.Errorf("errors must not be cached, got %v", keys)
	}
}

func TestWriteMethods_Invalidation(t *testing.T) {
	ctx := context.Background()

	warm := func(t *testing.T, r *CachedRepository[*TestUser]) {
		t.Helper()
		if _, err := r.GetByID(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
		if _, err := r.GetByID(ctx, "u2"); err != nil {
			t.Fatal(err)
		}
		if _, err := r.GetByIdentifier(ctx, "alice"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := r.List(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Count(ctx); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		write func(r *CachedRepository[*TestUser], base *mockRepository[*TestUser]) error
		kept  []string
	}{
		{
			name: "Create drops list and count",
			write: func(r *CachedRepository[*TestUser], base *mockRepository[*TestUser]) error {
				base.createResult = &TestUser{ID: "u3"}
				_, err := r.Create(ctx, &TestUser{ID: "u3"})
				return err
			},
			kept: []string{
				"cached:test_user:GetByID:u1",
				"cached:test_user:GetByID:u2",
				"cached:test_user:GetByIdentifier:alice",
			},
		},
		{
			name: "Update drops the record reads",
			write: func(r *CachedRepository[*TestUser], base *mockRepository[*TestUser]) error {
				base.updateResult = &TestUser{ID: "u1", Name: "alice"}
				_, err := r.Update(ctx, &TestUser{ID: "u1", Name: "alice"})
				return err
			},
			kept: []string{"cached:test_user:GetByID:u2"},
		},
		{
			name: "Delete drops the record reads",
			write: func(r *CachedRepository[*TestUser], base *mockRepository[*TestUser]) error {
				return r.Delete(ctx, &TestUser{ID: "u2", Name: "bob"})
			},
			kept: []string{
				"cached:test_user:GetByID:u1",
				"cached:test_user:GetByIdentifier:alice",
			},
		},
		{
			name: "DeleteMany drops everything",
			write: func(r *CachedRepository[*TestUser], base *mockRepository[*TestUser]) error {
				return r.DeleteMany(ctx)
			},
			kept: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cached, base, store := setup(t)
			warm(t, cached)
			if len(store.Keys()) != 5 {
				t.Fatalf("expected 5 warm keys, got %v", store.Keys())
			}

			if err := tt.write(cached, base); err != nil {
				t.Fatalf("write error = %v", err)
			}
			if keys := store.Keys(); !reflect.DeepEqual(keys, tt.kept) {
				t.Errorf("remaining keys = %v, want %v", keys, tt.kept)
			}
			if cached.TrackedKeys() != len(tt.kept) {
				t.Errorf("tracked keys = %d, want %d", cached.TrackedKeys(), len(tt.kept))
			}

			base.clearCalls()
			warm(t, cached)
			if got := len(base.getCalls()); got != 5-len(tt.kept) {
				t.Errorf("expected %d refetches, got %v", 5-len(tt.kept), base.getCalls())
			}
		})
	}
}

func TestWriteMethods_FailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	cached, base, store := setup(t)

	if _, _, err := cached.List(ctx); err != nil {
		t.Fatal(err)
	}
	base.createError = errors.New("constraint violation")
	if _, err := cached.Create(ctx, &TestUser{ID: "u3"}); err == nil {
		t.Fatal("expected create error")
	}
	if !hasKey(store, "cached:test_user:List") {
		t.Error("failed writes must not invalidate")
	}
}

func TestPassThroughMethods(t *testing.T) {
	ctx := context.Background()
	cached, base, store := setup(t)

	records, err := cached.Raw(ctx, "SELECT * FROM users")
	if err != nil {
		t.Fatalf("Raw() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
	if calls := base.getCalls(); !reflect.DeepEqual(calls, []string{"Raw"}) {
		t.Errorf("unexpected base calls %v", calls)
	}
	if len(store.Ops()) != 0 {
		t.Errorf("raw queries must not touch the store, got %+v", store.Ops())
	}
}

func TestRepositoryInterfaceSatisfaction(t *testing.T) {
	cached, _, _ := setup(t)

	var _ repository.Repository[*TestUser] = cached
	var _ cache.Tagger = cached
}
