package federation

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/woozymasta/nodeatlas/internal/config"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/realtime"
	"github.com/woozymasta/nodeatlas/internal/status"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

type fakeChild struct {
	err   error
	nodes map[string][]models.Node
	url   string
	name  string
}

func (f fakeChild) BaseURL() string { return f.url }

func (f fakeChild) AllNodes(context.Context) (map[string][]models.Node, error) {
	return f.nodes, f.err
}

func (f fakeChild) Status(context.Context) (models.Summary, error) {
	return models.Summary{Name: f.name}, nil
}

func openStore(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.New(storage.Options{DSN: filepath.Join(t.TempDir(), "atlas.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func node(addr string) models.Node {
	return models.Node{Addr: models.MustParseIP(addr), OwnerName: addr, Latitude: 1, Longitude: 1}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.AddNode(ctx, node("fc00::1")); err != nil {
		t.Fatalf("add local: %v", err)
	}
	if err := store.CacheNodes(ctx, []models.Node{{Addr: models.MustParseIP("fc00::77"), SourceID: 9}}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	stale := node("fc00::30")
	stale.RetrieveTime = 1000

	children := []Child{
		fakeChild{
			url:  "http://child.example",
			name: "child",
			nodes: map[string][]models.Node{
				"local":                     {node("fc00::10"), node("fc00::1")},
				"http://grandchild.example": {node("fc00::20"), stale},
			},
		},
		fakeChild{url: "http://down.example", err: errors.New("connection refused")},
	}

	broker := realtime.NewBroker()
	events, cleanup := broker.Subscribe()
	defer cleanup()

	refreshed := 0
	r := NewWithChildren(store, children, time.Hour, 24*time.Hour, Options{
		Broker:    broker,
		OnRefresh: func(context.Context) error { refreshed++; return nil },
	})

	n, err := r.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 cached nodes before pruning, got %d", n)
	}
	if refreshed != 1 {
		t.Fatalf("expected one snapshot refresh, got %d", refreshed)
	}

	cached, err := store.DumpCached(ctx)
	if err != nil {
		t.Fatalf("dump cached: %v", err)
	}
	got := map[string]int{}
	for _, c := range cached {
		got[c.ID()] = c.SourceID
	}
	if len(got) != 2 {
		t.Fatalf("expected fc00::10 and fc00::20 cached, got %v", got)
	}

	sources, err := store.MapSources(ctx)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	ids := map[string]models.MapSource{}
	for _, s := range sources {
		ids[s.Hostname] = s
	}
	if ids["http://child.example"].Name != "child" || got["fc00::10"] != ids["http://child.example"].ID {
		t.Fatalf("child source not recorded: %+v %v", ids, got)
	}
	if got["fc00::20"] != ids["http://grandchild.example"].ID {
		t.Fatalf("grandchild source not recorded: %+v %v", ids, got)
	}

	select {
	case msg := <-events:
		var evt realtime.Event
		if err := json.Unmarshal(msg, &evt); err != nil || evt.Type != realtime.CacheRefreshed {
			t.Fatalf("unexpected event %s %v", msg, err)
		}
	default:
		t.Fatalf("no cache event published")
	}

	if _, err := r.Refresh(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	again, _ := store.MapSources(ctx)
	if len(again) != len(sources) {
		t.Fatalf("sources duplicated: %d -> %d", len(sources), len(again))
	}
}

func TestRefresh_SanitizesCachedNodes(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	flagged := node("fc00::10")
	flagged.Status = 0xFFFFFFFF
	offMap := node("fc00::11")
	offMap.Latitude = 500
	badLon := node("fc00::12")
	badLon.Longitude = -181

	r := NewWithChildren(store, []Child{fakeChild{
		url:   "http://child.example",
		nodes: map[string][]models.Node{"local": {flagged, offMap, badLon, {OwnerName: "no address"}}},
	}}, time.Hour, 0, Options{})

	n, err := r.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the valid node cached, got %d", n)
	}

	cached, err := store.DumpCached(ctx)
	if err != nil || len(cached) != 1 {
		t.Fatalf("dump cached: %d %v", len(cached), err)
	}
	if got := cached[0]; got.ID() != "fc00::10" || got.Status&status.Reserved != 0 || got.Status != status.Named {
		t.Fatalf("cached node kept reserved bits: %s %v", got.ID(), got.Status)
	}
}

func TestRefresh_NoChildrenAndReadOnly(t *testing.T) {
	ctx := context.Background()

	r := New(openStore(t), config.Federation{}, Options{})
	if n, err := r.Refresh(ctx); err != nil || n != 0 {
		t.Fatalf("expected no-op, got %d %v", n, err)
	}

	dsn := filepath.Join(t.TempDir(), "ro.db")
	ro, err := storage.New(storage.Options{DSN: dsn, ReadOnly: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = ro.Close() }()

	r = NewWithChildren(ro, []Child{fakeChild{url: "http://child.example"}}, time.Hour, 0, Options{})
	if _, err := r.Refresh(ctx); !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := openStore(t)
	calls := make(chan struct{}, 4)
	r := NewWithChildren(store, []Child{fakeChild{url: "http://child.example", nodes: map[string][]models.Node{}}}, time.Hour, 0, Options{
		OnRefresh: func(context.Context) error { calls <- struct{}{}; return nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatalf("initial refresh did not run")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}
