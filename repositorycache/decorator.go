package repositorycache

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-cacheable/cache"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Interface assertion to ensure CachedRepository implements Repository[T]
var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// Key templates for cached reads. {_model_} resolves to the repository tag.
const (
	KeyGet             = "{_model_}:Get"
	KeyGetByID         = "{_model_}:GetByID:{0}"
	KeyGetByIdentifier = "{_model_}:GetByIdentifier:{0}"
	KeyList            = "{_model_}:List"
	KeyCount           = "{_model_}:Count"
)

// listResult wraps the tuple result from List operations for caching
type listResult[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

func (l listResult[T]) ToPlain() map[string]any {
	return map[string]any{"records": l.Records, "total": l.Total}
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	tag string
	ttl time.Duration
}

// WithTag overrides the tag used as {_model_} in keys. Defaults to the
// snake_case name of T.
func WithTag(tag string) Option {
	return func(o *options) { o.tag = tag }
}

// WithTTL sets the TTL of cached reads. Zero uses the manager TTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// CachedRepository decorates a base repository with caching functionality
type CachedRepository[T any] struct {
	base    repository.Repository[T]
	cache   *cache.Cacheable
	tag     string
	logger  *zap.Logger
	tracked *xsync.MapOf[string, struct{}]

	get             *cache.Wrapped[T]
	getByID         *cache.Wrapped[T]
	getByIdentifier *cache.Wrapped[T]
	list            *cache.Wrapped[listResult[T]]
	count           *cache.Wrapped[int]
}

// New creates a new CachedRepository that wraps the base repository with caching
func New[T any](base repository.Repository[T], c *cache.Cacheable, opts ...Option) (*CachedRepository[T], error) {
	if base == nil {
		return nil, errors.New("repositorycache: base repository is nil")
	}
	if c == nil {
		return nil, errors.New("repositorycache: cacheable is nil")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tag == "" {
		o.tag = cache.DefaultTag(reflect.TypeOf((*T)(nil)).Elem())
	}

	r := &CachedRepository[T]{
		base:    base,
		cache:   c,
		tag:     o.tag,
		logger:  c.Logger().Named("repository").With(zap.String("model", o.tag)),
		tracked: xsync.NewMapOf[string, struct{}](),
	}

	var err error
	if r.get, err = wrapRead(r, "Get", KeyGet, o.ttl, func(ctx context.Context, args ...any) (T, error) {
		return base.Get(ctx, selectCriteria(args)...)
	}); err != nil {
		return nil, err
	}
	if r.getByID, err = wrapRead(r, "GetByID", KeyGetByID, o.ttl, func(ctx context.Context, args ...any) (T, error) {
		return base.GetByID(ctx, args[0].(string), selectCriteria(args[1:])...)
	}); err != nil {
		return nil, err
	}
	if r.getByIdentifier, err = wrapRead(r, "GetByIdentifier", KeyGetByIdentifier, o.ttl, func(ctx context.Context, args ...any) (T, error) {
		return base.GetByIdentifier(ctx, args[0].(string), selectCriteria(args[1:])...)
	}); err != nil {
		return nil, err
	}
	if r.list, err = wrapRead(r, "List", KeyList, o.ttl, func(ctx context.Context, args ...any) (listResult[T], error) {
		records, total, err := base.List(ctx, selectCriteria(args)...)
		return listResult[T]{Records: records, Total: total}, err
	}); err != nil {
		return nil, err
	}
	if r.count, err = wrapRead(r, "Count", KeyCount, o.ttl, func(ctx context.Context, args ...any) (int, error) {
		return base.Count(ctx, selectCriteria(args)...)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

func wrapRead[T, R any](r *CachedRepository[T], method, key string, ttl time.Duration, fn cache.Func[R]) (*cache.Wrapped[R], error) {
	return cache.Wrap(r.cache, fn,
		cache.Named(r.tag+"."+method),
		cache.WithKey(key),
		cache.WithTTL(ttl),
		cache.WithReceiver(r),
	)
}

// TypeTag returns the tag used as {_model_} in keys.
func (c *CachedRepository[T]) TypeTag() string { return c.tag }

// Get retrieves a single record using the provided criteria, with caching
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return readThrough(ctx, c, c.get, criteria)
}

// GetByID retrieves a record by ID with optional criteria, with caching
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	return readThrough(ctx, c, c.getByID, criteria, id)
}

// List retrieves multiple records using the provided criteria, with caching
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	res, err := readThrough(ctx, c, c.list, criteria)
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching the criteria, with caching
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return readThrough(ctx, c, c.count, criteria)
}

// GetByIdentifier retrieves a record by identifier with optional criteria, with caching
func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return readThrough(ctx, c, c.getByIdentifier, criteria, identifier)
}

// readThrough calls w with the leading arguments followed by the criteria.
// Criteria are closures and cannot be part of a key, so calls carrying them
// skip the cache.
func readThrough[T, R any](ctx context.Context, c *CachedRepository[T], w *cache.Wrapped[R], criteria []repository.SelectCriteria, lead ...any) (R, error) {
	args := make([]any, 0, len(lead)+len(criteria))
	args = append(args, lead...)
	for _, cr := range criteria {
		args = append(args, cr)
	}
	if len(criteria) > 0 {
		return w.Call(cache.WithFresh(ctx), args...)
	}
	if key, ok := w.Key(c, args...); ok {
		c.trackKey(strings.TrimPrefix(key, c.cache.Prefix()))
	}
	return w.Call(ctx, args...)
}

func selectCriteria(args []any) []repository.SelectCriteria {
	criteria := make([]repository.SelectCriteria, 0, len(args))
	for _, arg := range args {
		if cr, ok := arg.(repository.SelectCriteria); ok {
			criteria = append(criteria, cr)
		}
	}
	return criteria
}

// Create creates a new record. Write operations pass through to base repository
func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// CreateTx creates a new record within a transaction
func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// CreateMany creates multiple records
func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction
func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// GetOrCreateTx gets a record or creates it if it doesn't exist within a transaction
func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.invalidateAfterCreate(ctx)
	}
	return result, err
}

// Update updates a record
func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result)
	}
	return result, err
}

// UpdateTx updates a record within a transaction
func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result)
	}
	return result, err
}

// UpdateMany updates multiple records
func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result...)
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction
func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result...)
	}
	return result, err
}

// Upsert inserts or updates a record
func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction
func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records
func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result...)
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction
func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidateRecords(ctx, result...)
	}
	return result, err
}

// Delete deletes a record
func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.invalidateRecords(ctx, record)
	}
	return err
}

// DeleteTx deletes a record within a transaction
func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.DeleteTx(ctx, tx, record)
	if err == nil {
		c.invalidateRecords(ctx, record)
	}
	return err
}

// DeleteMany deletes multiple records based on criteria
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteManyTx deletes multiple records based on criteria within a transaction
func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteWhere deletes records based on criteria
func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// DeleteWhereTx deletes records based on criteria within a transaction
func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll(ctx)
	}
	return err
}

// ForceDelete force deletes a record (bypassing soft delete)
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.invalidateRecords(ctx, record)
	}
	return err
}

// ForceDeleteTx force deletes a record within a transaction (bypassing soft delete)
func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.invalidateRecords(ctx, record)
	}
	return err
}

// GetTx retrieves a single record using the provided criteria within a transaction
func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

// GetByIDTx retrieves a record by ID with optional criteria within a transaction
func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

// ListTx retrieves multiple records using the provided criteria within a transaction
func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

// CountTx returns the number of records matching the criteria within a transaction
func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

// GetByIdentifierTx retrieves a record by identifier with optional criteria within a transaction
func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL query and returns the results
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

// RawTx executes a raw SQL query within a transaction and returns the results
func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

// Handlers returns the model handlers from the base repository
func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// TrackedKeys returns the number of keys currently tracked for invalidation.
func (c *CachedRepository[T]) TrackedKeys() int {
	return c.tracked.Size()
}

func (c *CachedRepository[T]) trackKey(key string) {
	c.tracked.Store(key, struct{}{})
}

// invalidateByPrefix removes every tracked key equal to tag:scope or under tag:scope:.
func (c *CachedRepository[T]) invalidateByPrefix(ctx context.Context, scopes ...string) {
	var keys []string
	c.tracked.Range(func(key string, _ struct{}) bool {
		for _, s := range scopes {
			scope := c.tag + ":" + s
			if key == scope || strings.HasPrefix(key, scope+":") {
				keys = append(keys, key)
				break
			}
		}
		return true
	})
	if len(keys) == 0 {
		return
	}

	if err := c.cache.Del(ctx, keys...); err != nil {
		c.logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
	for _, key := range keys {
		c.tracked.Delete(key)
	}
}

// recordField resolves the first of templates against record.
func (c *CachedRepository[T]) recordField(record T, templates ...string) (string, bool) {
	for _, template := range templates {
		value := c.cache.Resolver().Resolve(template, record, "", nil)
		if cache.IsResolved(value) {
			return value, true
		}
	}
	return "", false
}

// invalidateAfterCreate invalidates query result caches after create operations
func (c *CachedRepository[T]) invalidateAfterCreate(ctx context.Context) {
	c.invalidateByPrefix(ctx, "List", "Count")
}

// invalidateRecords drops the per record reads of records and every query
// result.
func (c *CachedRepository[T]) invalidateRecords(ctx context.Context, records ...T) {
	prefixes := []string{"List", "Count", "Get"}
	for _, record := range records {
		if id, ok := c.recordField(record, "{id}"); ok {
			prefixes = append(prefixes, "GetByID:"+id)
		}
		if identifier, ok := c.recordField(record, "{identifier}", "{name}", "{code}"); ok {
			prefixes = append(prefixes, "GetByIdentifier:"+identifier)
		}
	}
	c.invalidateByPrefix(ctx, prefixes...)
}

// invalidateAll is used when the affected records are unknown.
func (c *CachedRepository[T]) invalidateAll(ctx context.Context) {
	c.invalidateByPrefix(ctx, "Get", "GetByID", "GetByIdentifier", "List", "Count")
}
