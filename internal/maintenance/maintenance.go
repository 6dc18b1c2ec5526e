// Package maintenance provides one-shot tools to import, prune and probe nodes.
package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/config"
	"github.com/woozymasta/nodeatlas/internal/fake"
	"github.com/woozymasta/nodeatlas/internal/features"
	"github.com/woozymasta/nodeatlas/internal/metrics"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

// Run checks if any maintenance flags are set and executes the corresponding tasks.
// Returns true if a maintenance task was executed (indicating the program should exit).
func Run(ctx context.Context, cfg *config.Config, store *storage.Repository, m *metrics.Metrics) bool {
	switch {
	case cfg.Storage.Import != "":
		log.Info().Str("file", cfg.Storage.Import).Msg("Importing nodes...")
		count, err := ImportFile(ctx, store, cfg.Storage.Import)
		if err != nil {
			log.Error().Err(err).Msg("Import failed")
		} else {
			log.Info().Int("imported", count).Msg("Import finished")
		}

	case cfg.Storage.PruneCache:
		log.Info().Dur("expiry", cfg.Federation.CacheExpiry).Msg("Pruning expired cached nodes...")
		count, err := store.DeleteExpiredCache(ctx, time.Now().Add(-cfg.Federation.CacheExpiry))
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune cache")
		} else {
			log.Info().Int64("deleted", count).Msg("Prune finished")
		}

	case cfg.Storage.ProbeNodes:
		nodes, err := store.DumpLocal(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to fetch nodes")
			return true
		}
		if len(nodes) == 0 {
			log.Info().Msg("No nodes found for maintenance")
			return true
		}

		log.Info().Int("count", len(nodes)).Msgf("Starting probe task with %d workers...", cfg.Probe.Workers)
		res := Probe(ctx, store, nodes, ProbeOptions{
			Port:    cfg.Probe.Port,
			Timeout: cfg.Probe.Timeout,
			Workers: cfg.Probe.Workers,
			Metrics: m,
		})
		log.Info().
			Int("reachable", res.Reachable).
			Int("unreachable", res.Unreachable).
			Int("changed", res.Changed).
			Msg("Maintenance task completed")

	case cfg.Storage.GenerateCount > 0:
		log.Warn().Int("count", cfg.Storage.GenerateCount).Msg("Generating fake data...")
		if err := fake.GenerateData(ctx, store, cfg.Storage.GenerateCount); err != nil {
			log.Error().Err(err).Msg("Failed to generate fake data")
		}

	default:
		return false
	}

	return true
}

// ImportFile reads nodes from a JSON array or a GeoJSON feature collection and
// stores them as local nodes, replacing records with the same address.
func ImportFile(ctx context.Context, store *storage.Repository, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	nodes, err := ParseNodes(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	if err := store.AddNodes(ctx, nodes); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// ParseNodes decodes an import document. Reserved status bits are cleared;
// records without an address or with an impossible position are rejected.
func ParseNodes(data []byte) ([]models.Node, error) {
	data = bytes.TrimSpace(data)

	var nodes []models.Node
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &nodes); err != nil {
			return nil, fmt.Errorf("decode nodes: %w", err)
		}
	} else {
		var err error
		if nodes, err = features.ParseNodes(data); err != nil {
			return nil, err
		}
	}

	for i := range nodes {
		n, err := nodes[i].Sanitize()
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		nodes[i] = n
		nodes[i].SourceID = 0
		nodes[i].RetrieveTime = 0
	}
	return nodes, nil
}
