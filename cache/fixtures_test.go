package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-cacheable/pkg/testsupport"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type user struct {
	ID         string    `json:"id"`
	ArticleIDs []string  `json:"articleIds"`
	CreatedAt  time.Time `json:"createdAt"`
	revived    bool
}

func (u *user) ToPlain() map[string]any {
	return map[string]any{
		"id":         u.ID,
		"articleIds": u.ArticleIDs,
		"createdAt":  u.CreatedAt,
	}
}

func (u *user) Revive() error {
	u.revived = true
	return nil
}

func newUser(fields map[string]any) (*user, error) {
	u := &user{}
	u.ID, _ = fields["id"].(string)
	if ids, ok := fields["articleIds"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				u.ArticleIDs = append(u.ArticleIDs, s)
			}
		}
	}
	u.CreatedAt, _ = fields["createdAt"].(time.Time)
	return u, nil
}

type article struct {
	ID    string
	Title string
}

func (a article) ToPlain() map[string]any {
	return map[string]any{"id": a.ID, "title": a.Title}
}

func (article) ModelName() string { return "post" }

func newArticle(fields map[string]any) (Serializable, error) {
	a := article{}
	a.ID, _ = fields["id"].(string)
	a.Title, _ = fields["title"].(string)
	return a, nil
}

type ledgerEntry struct {
	Seq int64
}

func (e *ledgerEntry) ToPlain() map[string]any {
	return map[string]any{"seq": e.Seq}
}

func newLedgerEntry(fields map[string]any) (*ledgerEntry, error) {
	seq, ok := fields["seq"].(int64)
	if !ok {
		return nil, fmt.Errorf("seq is %T, want int64", fields["seq"])
	}
	return &ledgerEntry{Seq: seq}, nil
}

type userProfile struct {
	Handle string
}

func (p *userProfile) ToPlain() map[string]any {
	return map[string]any{"handle": p.Handle}
}

type tagged string

func (t tagged) TypeTag() string { return string(t) }

type outcomeLog struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (l *outcomeLog) Observe(_ string, outcome Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, outcome)
}

func (l *outcomeLog) all() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Outcome(nil), l.outcomes...)
}

type counter struct {
	mu    sync.Mutex
	count int
}

func (c *counter) inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func newTestCache(t *testing.T, mutate func(*Config), opts ...Option) (*Cacheable, *testsupport.Store) {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	store := testsupport.NewStore()
	c, err := New(store, cfg, opts...)
	if err != nil {
		t.Fatalf("failed to create cacheable: %v", err)
	}
	return c, store
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func countingFn(reach *counter, value int) Func[int] {
	return func(ctx context.Context, args ...any) (int, error) {
		reach.inc()
		return value, nil
	}
}
