package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/status"
)

const localColumns = `address, owner, email, contact, details, pgp, country, lat, lon, status, updated`

const cachedColumns = `address, owner, details, lat, lon, status, source, retrieved`

type scanner interface {
	Scan(dest ...any) error
}

func scanLocal(row scanner) (models.Node, error) {
	var (
		n       models.Node
		addr    string
		pgp     string
		st      int64
		updated int64
	)
	if err := row.Scan(&addr, &n.OwnerName, &n.OwnerEmail, &n.Contact, &n.Details,
		&pgp, &n.Country, &n.Latitude, &n.Longitude, &st, &updated); err != nil {
		return n, err
	}

	var err error
	if n.Addr, err = models.ParseIP(addr); err != nil {
		return n, fmt.Errorf("stored address %q: %w", addr, err)
	}
	if n.PGP, err = models.DecodePGPID(pgp); err != nil {
		return n, fmt.Errorf("stored pgp id of %s: %w", addr, err)
	}
	n.Status = status.Status(st)
	n.UpdatedAt = time.Unix(updated, 0).UTC()
	return n, nil
}

func scanCached(row scanner) (models.Node, error) {
	var (
		n    models.Node
		addr string
		st   int64
	)
	if err := row.Scan(&addr, &n.OwnerName, &n.Details, &n.Latitude, &n.Longitude,
		&st, &n.SourceID, &n.RetrieveTime); err != nil {
		return n, err
	}

	var err error
	if n.Addr, err = models.ParseIP(addr); err != nil {
		return n, fmt.Errorf("stored address %q: %w", addr, err)
	}
	n.Status = status.Status(st)
	n.UpdatedAt = time.Unix(n.RetrieveTime, 0).UTC()
	return n, nil
}

func collect(rows *sql.Rows, scan func(scanner) (models.Node, error)) ([]models.Node, error) {
	defer func() { _ = rows.Close() }()

	var nodes []models.Node
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// AddNode inserts a new local node. It fails with ErrExists when the address is taken.
func (r *Repository) AddNode(ctx context.Context, n models.Node) error {
	if err := r.writable(); err != nil {
		return err
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now()
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE address = ?`, n.Addr.String()).Scan(&exists)
		switch {
		case err == nil:
			return ErrExists
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		return insertLocal(ctx, tx, n)
	})
}

// AddNodes inserts or replaces local nodes in one transaction.
func (r *Repository) AddNodes(ctx context.Context, nodes []models.Node) error {
	if err := r.writable(); err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range nodes {
			if n.UpdatedAt.IsZero() {
				n.UpdatedAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE address = ?`, n.Addr.String()); err != nil {
				return err
			}
			if err := insertLocal(ctx, tx, n); err != nil {
				return fmt.Errorf("node %s: %w", n.Addr, err)
			}
		}
		return nil
	})
}

func insertLocal(ctx context.Context, tx *sql.Tx, n models.Node) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO nodes (`+localColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Addr.String(), n.OwnerName, n.OwnerEmail, n.Contact, n.Details,
		n.PGP.String(), n.Country, n.Latitude, n.Longitude, int64(n.Status), n.UpdatedAt.Unix(),
	)
	return err
}

// UpdateNode overwrites a local node. An empty owner email keeps the stored one.
func (r *Repository) UpdateNode(ctx context.Context, n models.Node) error {
	if err := r.writable(); err != nil {
		return err
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now()
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var email string
		err := tx.QueryRowContext(ctx, `SELECT email FROM nodes WHERE address = ?`, n.Addr.String()).Scan(&email)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		if n.OwnerEmail == "" {
			n.OwnerEmail = email
		}

		_, err = tx.ExecContext(ctx, `UPDATE nodes SET
			owner = ?, email = ?, contact = ?, details = ?, pgp = ?, country = ?,
			lat = ?, lon = ?, status = ?, updated = ?
			WHERE address = ?`,
			n.OwnerName, n.OwnerEmail, n.Contact, n.Details, n.PGP.String(), n.Country,
			n.Latitude, n.Longitude, int64(n.Status), n.UpdatedAt.Unix(),
			n.Addr.String(),
		)
		return err
	})
}

// SetStatus replaces the status of a local node.
func (r *Repository) SetStatus(ctx context.Context, addr models.IP, s status.Status) error {
	if err := r.writable(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE nodes SET status = ?, updated = ? WHERE address = ?`,
		int64(s), time.Now().Unix(), addr.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNode removes a local node.
func (r *Repository) DeleteNode(ctx context.Context, addr models.IP) error {
	if err := r.writable(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE address = ?`, addr.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetNode looks the address up among local nodes, then cached ones.
func (r *Repository) GetNode(ctx context.Context, addr models.IP) (models.Node, error) {
	n, err := scanLocal(r.db.QueryRowContext(ctx,
		`SELECT `+localColumns+` FROM nodes WHERE address = ?`, addr.String()))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return n, err
	}

	n, err = scanCached(r.db.QueryRowContext(ctx,
		`SELECT `+cachedColumns+` FROM nodes_cached WHERE address = ?`, addr.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	return n, err
}

// DumpLocal returns local nodes, most recently updated first.
func (r *Repository) DumpLocal(ctx context.Context) ([]models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+localColumns+` FROM nodes ORDER BY updated DESC, address`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLocal)
}

// DumpCached returns cached nodes, most recently retrieved first.
func (r *Repository) DumpCached(ctx context.Context) ([]models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+cachedColumns+` FROM nodes_cached ORDER BY retrieved DESC, address`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCached)
}

// DumpNodes returns local nodes followed by cached nodes.
func (r *Repository) DumpNodes(ctx context.Context) ([]models.Node, error) {
	local, err := r.DumpLocal(ctx)
	if err != nil {
		return nil, fmt.Errorf("dump local nodes: %w", err)
	}
	cached, err := r.DumpCached(ctx)
	if err != nil {
		return nil, fmt.Errorf("dump cached nodes: %w", err)
	}
	return append(local, cached...), nil
}

// DumpChanges returns nodes updated or retrieved after since.
func (r *Repository) DumpChanges(ctx context.Context, since time.Time) ([]models.Node, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+localColumns+` FROM nodes WHERE updated > ? ORDER BY updated DESC, address`, since.Unix())
	if err != nil {
		return nil, err
	}
	local, err := collect(rows, scanLocal)
	if err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx,
		`SELECT `+cachedColumns+` FROM nodes_cached WHERE retrieved > ? ORDER BY retrieved DESC, address`, since.Unix())
	if err != nil {
		return nil, err
	}
	cached, err := collect(rows, scanCached)
	if err != nil {
		return nil, err
	}
	return append(local, cached...), nil
}

// LenNodes counts local nodes, plus cached ones when includeCached is set.
func (r *Repository) LenNodes(ctx context.Context, includeCached bool) (int, error) {
	var local int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&local); err != nil {
		return 0, err
	}
	if !includeCached {
		return local, nil
	}
	var cached int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes_cached`).Scan(&cached); err != nil {
		return 0, err
	}
	return local + cached, nil
}
