package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/collar.amc/internal/fence"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// pastureEnc encodes pastures deterministically so equal pastures produce
// equal blobs.
var pastureEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// PastureInfo describes a stored pasture without its geometry.
type PastureInfo struct {
	Version    uint32    `json:"version"`
	Checksum   uint32    `json:"checksum"`
	FenceCount int       `json:"fence_count"`
	Size       int       `json:"size_bytes"`
	ReceivedAt time.Time `json:"received_at"`
}

// SavePasture stores p under its version, replacing any previous copy. The
// checksum is stored as received; it is verified when the pasture is
// installed.
func (db *DB) SavePasture(ctx context.Context, p *fence.Pasture) error {
	if p == nil {
		return fmt.Errorf("save pasture: %w", fence.ErrInvalidPasture)
	}
	body, err := pastureEnc.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pasture %d: %w", p.Version, err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pastures (version, checksum, fence_count, body) VALUES (?, ?, ?, ?)`,
		p.Version, p.Checksum, len(p.Fences), body,
	)
	if err != nil {
		return fmt.Errorf("save pasture %d: %w", p.Version, err)
	}
	return nil
}

// LoadPasture returns the pasture stored under version.
func (db *DB) LoadPasture(ctx context.Context, version uint32) (*fence.Pasture, error) {
	var body []byte
	err := db.QueryRowContext(ctx, `SELECT body FROM pastures WHERE version = ?`, version).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pasture %d: %w", version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load pasture %d: %w", version, err)
	}

	var p fence.Pasture
	if err := cbor.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode pasture %d: %w: %v", version, fence.ErrInvalidPasture, err)
	}
	return &p, nil
}

// LatestPastureVersion returns the highest stored version. ok is false when
// no pasture has been stored.
func (db *DB) LatestPastureVersion(ctx context.Context) (version uint32, ok bool, err error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM pastures`).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("latest pasture: %w", err)
	}
	if !v.Valid {
		return 0, false, nil
	}
	return uint32(v.Int64), true, nil
}

// ListPastures returns every stored pasture, newest version first.
func (db *DB) ListPastures(ctx context.Context) ([]PastureInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT version, checksum, fence_count, length(body), received_at FROM pastures ORDER BY version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PastureInfo
	for rows.Next() {
		var (
			info     PastureInfo
			received int64
		)
		if err := rows.Scan(&info.Version, &info.Checksum, &info.FenceCount, &info.Size, &received); err != nil {
			return nil, err
		}
		info.ReceivedAt = time.Unix(received, 0).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// PrunePastures deletes every pasture except the keep newest versions.
func (db *DB) PrunePastures(ctx context.Context, keep int) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM pastures WHERE version NOT IN (SELECT version FROM pastures ORDER BY version DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune pastures: %w", err)
	}
	return res.RowsAffected()
}
