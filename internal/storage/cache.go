package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/woozymasta/nodeatlas/internal/models"
)

// LocalSource is the source name of nodes registered on this instance.
const LocalSource = "local"

// CacheNodes stores nodes retrieved from child maps. A node already cached
// under the same address is replaced.
func (r *Repository) CacheNodes(ctx context.Context, nodes []models.Node) error {
	if err := r.writable(); err != nil {
		return err
	}

	now := time.Now().Unix()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range nodes {
			retrieved := n.RetrieveTime
			if retrieved == 0 {
				retrieved = now
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM nodes_cached WHERE address = ?`, n.Addr.String()); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO nodes_cached (`+cachedColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				n.Addr.String(), n.OwnerName, n.Details, n.Latitude, n.Longitude,
				int64(n.Status), n.SourceID, retrieved,
			); err != nil {
				return fmt.Errorf("cache node %s: %w", n.Addr, err)
			}
		}
		return nil
	})
}

// ClearCache deletes every cached node.
func (r *Repository) ClearCache(ctx context.Context) error {
	if err := r.writable(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM nodes_cached`)
	return err
}

// DeleteExpiredCache removes cached nodes retrieved before the given time.
func (r *Repository) DeleteExpiredCache(ctx context.Context, before time.Time) (int64, error) {
	if err := r.writable(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM nodes_cached WHERE retrieved < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddMapSource registers a child map hostname and returns its id.
// A known hostname returns the existing id.
func (r *Repository) AddMapSource(ctx context.Context, hostname, name string) (int, error) {
	hostname = strings.TrimRight(strings.TrimSpace(hostname), "/")
	if hostname == "" || hostname == LocalSource {
		return 0, fmt.Errorf("invalid map source %q", hostname)
	}
	if err := r.writable(); err != nil {
		return 0, err
	}

	var id int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT id FROM cached_maps WHERE hostname = ?`, hostname).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO cached_maps (hostname, name) VALUES (?, ?)`, hostname, name)
		if err != nil {
			return err
		}
		last, err := res.LastInsertId()
		if err != nil {
			return err
		}
		id = int(last)
		return nil
	})
	return id, err
}

// MapSources lists the known child maps ordered by id.
func (r *Repository) MapSources(ctx context.Context) ([]models.MapSource, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, hostname, name FROM cached_maps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sources []models.MapSource
	for rows.Next() {
		var s models.MapSource
		if err := rows.Scan(&s.ID, &s.Hostname, &s.Name); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// GroupBySource keys nodes by the hostname they were cached from.
// Local nodes and nodes of unknown sources go under LocalSource.
func GroupBySource(nodes []models.Node, sources []models.MapSource) map[string][]models.Node {
	hosts := make(map[int]string, len(sources))
	for _, s := range sources {
		hosts[s.ID] = s.Hostname
	}

	out := make(map[string][]models.Node)
	for _, n := range nodes {
		host, ok := hosts[n.SourceID]
		if !ok {
			host = LocalSource
		}
		out[host] = append(out[host], n.Public())
	}
	return out
}
