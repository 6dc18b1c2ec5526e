package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/woozymasta/nodeatlas/internal/models"
)

// ReplacePeers swaps the stored peer pairs for the given set.
// Pairs are stored normalized so each connection appears once.
func (r *Repository) ReplacePeers(ctx context.Context, pairs []models.Pair) error {
	if err := r.writable(); err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM peers`); err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(pairs))
		for _, p := range pairs {
			p = p.Normalize()
			if _, ok := seen[p.Key()]; ok {
				continue
			}
			seen[p.Key()] = struct{}{}
			if _, err := tx.ExecContext(ctx, `INSERT INTO peers (a, b) VALUES (?, ?)`,
				p.A.String(), p.B.String()); err != nil {
				return fmt.Errorf("insert peer %s: %w", p.Key(), err)
			}
		}
		return nil
	})
}

// Peers returns the stored peer pairs.
func (r *Repository) Peers(ctx context.Context) ([]models.Pair, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT a, b FROM peers ORDER BY a, b`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pairs []models.Pair
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		pa, err := models.ParseIP(a)
		if err != nil {
			return nil, fmt.Errorf("stored peer %q: %w", a, err)
		}
		pb, err := models.ParseIP(b)
		if err != nil {
			return nil, fmt.Errorf("stored peer %q: %w", b, err)
		}
		pairs = append(pairs, models.Pair{A: pa, B: pb})
	}
	return pairs, rows.Err()
}
