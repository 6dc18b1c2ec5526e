package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/status"
)

func openTestRepo(t *testing.T, readOnly bool) *Repository {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "atlas.db")
	repo, err := New(Options{Driver: DriverSQLite, DSN: dsn, ReadOnly: readOnly})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testNode(addr string) models.Node {
	return models.Node{
		Addr:       models.MustParseIP(addr),
		OwnerName:  "alice",
		OwnerEmail: "alice@example.org",
		Details:    "rooftop",
		PGP:        models.PGPID{1, 2, 3, 4, 5, 6, 7, 8},
		Latitude:   52.5,
		Longitude:  13.4,
		Status:     status.Active | status.Wireless,
		UpdatedAt:  time.Unix(1700000000, 0).UTC(),
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "atlas.db")
	for i := 0; i < 2; i++ {
		repo, err := New(Options{DSN: dsn})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		_ = repo.Close()
	}

	if _, err := New(Options{Driver: "postgres", DSN: dsn}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestNodeLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, false)

	n := testNode("fc00::1")
	if err := repo.AddNode(ctx, n); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.AddNode(ctx, n); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, err := repo.GetNode(ctx, n.Addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerEmail != n.OwnerEmail || got.PGP.String() != n.PGP.String() || got.Status != n.Status {
		t.Fatalf("unexpected node %+v", got)
	}
	if !got.UpdatedAt.Equal(n.UpdatedAt) {
		t.Fatalf("unexpected updated_at %v", got.UpdatedAt)
	}

	upd := n
	upd.OwnerEmail = ""
	upd.Details = "moved indoors"
	upd.UpdatedAt = time.Time{}
	if err := repo.UpdateNode(ctx, upd); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = repo.GetNode(ctx, n.Addr)
	if got.Details != "moved indoors" || got.OwnerEmail != "alice@example.org" {
		t.Fatalf("update not applied or email lost: %+v", got)
	}

	if err := repo.SetStatus(ctx, n.Addr, status.Active|status.Pingable); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ = repo.GetNode(ctx, n.Addr)
	if got.Status != status.Active|status.Pingable {
		t.Fatalf("unexpected status %s", got.Status)
	}

	if err := repo.DeleteNode(ctx, n.Addr); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetNode(ctx, n.Addr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.DeleteNode(ctx, n.Addr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := repo.UpdateNode(ctx, n); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestCacheAndSources(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, false)

	if err := repo.AddNode(ctx, testNode("fc00::1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	id, err := repo.AddMapSource(ctx, "http://child.example/", "Child")
	if err != nil {
		t.Fatalf("add source: %v", err)
	}
	again, err := repo.AddMapSource(ctx, "http://child.example", "")
	if err != nil || again != id {
		t.Fatalf("expected existing id %d, got %d (%v)", id, again, err)
	}

	old := testNode("fc00::2")
	old.SourceID = id
	old.RetrieveTime = time.Now().Add(-48 * time.Hour).Unix()
	fresh := testNode("fc00::3")
	fresh.SourceID = id

	if err := repo.CacheNodes(ctx, []models.Node{old, fresh}); err != nil {
		t.Fatalf("cache: %v", err)
	}

	total, err := repo.LenNodes(ctx, true)
	if err != nil || total != 3 {
		t.Fatalf("expected 3 nodes, got %d (%v)", total, err)
	}
	local, _ := repo.LenNodes(ctx, false)
	if local != 1 {
		t.Fatalf("expected 1 local node, got %d", local)
	}

	cached, err := repo.GetNode(ctx, fresh.Addr)
	if err != nil || !cached.Cached() || cached.OwnerEmail != "" {
		t.Fatalf("unexpected cached node %+v (%v)", cached, err)
	}

	all, err := repo.DumpNodes(ctx)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	sources, _ := repo.MapSources(ctx)
	grouped := GroupBySource(all, sources)
	if len(grouped[LocalSource]) != 1 || len(grouped["http://child.example"]) != 2 {
		t.Fatalf("unexpected grouping %v", grouped)
	}
	if grouped[LocalSource][0].OwnerEmail != "" {
		t.Fatalf("grouped nodes must be public")
	}

	removed, err := repo.DeleteExpiredCache(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 expired node removed, got %d (%v)", removed, err)
	}

	changes, err := repo.DumpChanges(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if len(changes) != 1 || changes[0].ID() != "fc00::3" {
		t.Fatalf("unexpected changes %+v", changes)
	}

	if err := repo.ClearCache(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if total, _ := repo.LenNodes(ctx, true); total != 1 {
		t.Fatalf("expected cache cleared, got %d nodes", total)
	}
}

func TestPeers(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, false)

	a, b := models.MustParseIP("fc00::1"), models.MustParseIP("fc00::2")
	err := repo.ReplacePeers(ctx, []models.Pair{{A: b, B: a}, {A: a, B: b}})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	pairs, err := repo.Peers(ctx)
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	if len(pairs) != 1 || pairs[0].A.String() != "fc00::1" {
		t.Fatalf("unexpected pairs %+v", pairs)
	}

	if err := repo.ReplacePeers(ctx, nil); err != nil {
		t.Fatalf("replace empty: %v", err)
	}
	if pairs, _ := repo.Peers(ctx); len(pairs) != 0 {
		t.Fatalf("expected no pairs")
	}
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t, true)

	if err := repo.AddNode(ctx, testNode("fc00::1")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := repo.ClearCache(ctx); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if _, err := repo.AddMapSource(ctx, "http://x", ""); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if n, err := repo.LenNodes(ctx, true); err != nil || n != 0 {
		t.Fatalf("reads must work, got %d (%v)", n, err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT);\n")
	if len(stmts) != 2 || stmts[1] != "CREATE TABLE b (y INT)" {
		t.Fatalf("unexpected statements %q", stmts)
	}
}
