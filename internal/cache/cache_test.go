package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"accessgrid.org/internal/access"
)

type countingEngine struct {
	calls int
	level access.Level
}

func (e *countingEngine) Resolve(ctx context.Context, req access.ResolveRequest) (access.Level, error) {
	e.calls++
	return e.level, nil
}

func newTestCache(t *testing.T, engine Engine) (*Resolver, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r, err := New(engine, rdb, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, mr
}

func TestResolveCachesDecision(t *testing.T) {
	engine := &countingEngine{level: access.LevelWrite}
	r, _ := newTestCache(t, engine)

	req := access.ResolveRequest{
		GroupIDs:  []string{"g1", "g2"},
		ModuleKey: "scans",
		Scope:     access.Scope{OrganizationID: "org-1", OperatingUnitID: "ou-1"},
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		level, err := r.Resolve(ctx, req)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if level != access.LevelWrite {
			t.Fatalf("level = %v, want write", level)
		}
	}
	if engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.calls)
	}
}

func TestResolveKeyIgnoresGroupOrder(t *testing.T) {
	engine := &countingEngine{level: access.LevelRead}
	r, _ := newTestCache(t, engine)
	ctx := context.Background()

	a := access.ResolveRequest{
		GroupIDs:  []string{"g1", "g2"},
		ModuleKey: "reports",
		Scope:     access.Scope{OrganizationID: "org-1"},
	}
	b := a
	b.GroupIDs = []string{"g2", "g1"}

	if _, err := r.Resolve(ctx, a); err != nil {
		t.Fatalf("Resolve a: %v", err)
	}
	if _, err := r.Resolve(ctx, b); err != nil {
		t.Fatalf("Resolve b: %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.calls)
	}
}

func TestInvalidateOrganizationDropsOnlyThatOrg(t *testing.T) {
	engine := &countingEngine{level: access.LevelAdmin}
	r, _ := newTestCache(t, engine)
	ctx := context.Background()

	reqA := access.ResolveRequest{GroupIDs: []string{"g1"}, ModuleKey: "scans", Scope: access.Scope{OrganizationID: "org-a"}}
	reqB := access.ResolveRequest{GroupIDs: []string{"g1"}, ModuleKey: "scans", Scope: access.Scope{OrganizationID: "org-b"}}

	if _, err := r.Resolve(ctx, reqA); err != nil {
		t.Fatalf("Resolve a: %v", err)
	}
	if _, err := r.Resolve(ctx, reqB); err != nil {
		t.Fatalf("Resolve b: %v", err)
	}
	if engine.calls != 2 {
		t.Fatalf("engine calls = %d, want 2", engine.calls)
	}

	if err := r.InvalidateOrganization(ctx, "org-a"); err != nil {
		t.Fatalf("InvalidateOrganization: %v", err)
	}

	if _, err := r.Resolve(ctx, reqA); err != nil {
		t.Fatalf("Resolve a again: %v", err)
	}
	if engine.calls != 3 {
		t.Fatalf("engine calls after invalidate = %d, want 3", engine.calls)
	}
	if _, err := r.Resolve(ctx, reqB); err != nil {
		t.Fatalf("Resolve b again: %v", err)
	}
	if engine.calls != 3 {
		t.Fatalf("org-b decision evicted; engine calls = %d, want 3", engine.calls)
	}
}

func TestNilClientPassesThrough(t *testing.T) {
	engine := &countingEngine{level: access.LevelRead}
	r, err := New(engine, nil, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := access.ResolveRequest{GroupIDs: []string{"g1"}, ModuleKey: "scans", Scope: access.Scope{OrganizationID: "org-1"}}
	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(context.Background(), req); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if engine.calls != 2 {
		t.Fatalf("engine calls = %d, want 2 without cache", engine.calls)
	}
	if err := r.InvalidateOrganization(context.Background(), "org-1"); err != nil {
		t.Fatalf("InvalidateOrganization: %v", err)
	}
}

func TestExpiredDecisionRecomputed(t *testing.T) {
	engine := &countingEngine{level: access.LevelWrite}
	r, mr := newTestCache(t, engine)
	ctx := context.Background()
	req := access.ResolveRequest{GroupIDs: []string{"g1"}, ModuleKey: "scans", Scope: access.Scope{OrganizationID: "org-1"}}

	if _, err := r.Resolve(ctx, req); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := r.Resolve(ctx, req); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if engine.calls != 2 {
		t.Fatalf("engine calls = %d, want 2", engine.calls)
	}
}
