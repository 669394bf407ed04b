package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/synctree"
)

// SaveWrite records a pending user write.
// Uses ON CONFLICT(write_id) DO NOTHING for idempotency - a write that is
// saved twice keeps its first record.
func (s *Store) SaveWrite(ctx context.Context, w synctree.UserWrite) error {
	kind, data := kindOverwrite, ""
	var err error
	if w.IsMerge() {
		kind = kindMerge
		data, err = marshalChildren(w.Children)
	} else {
		data, err = marshalNode(w.Snap)
	}
	if err != nil {
		return fmt.Errorf("save write %d: %w", w.WriteID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_writes (write_id, path, kind, data, visible)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(write_id) DO NOTHING
	`,
		w.WriteID,
		w.Path.String(),
		kind,
		data,
		w.Visible,
	)
	if err != nil {
		return fmt.Errorf("save write %d: %w", w.WriteID, err)
	}
	return nil
}

// RemoveWrite forgets a pending write. Removing an unknown id is not an
// error.
func (s *Store) RemoveWrite(ctx context.Context, writeID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_writes WHERE write_id = ?`, writeID); err != nil {
		return fmt.Errorf("remove write %d: %w", writeID, err)
	}
	return nil
}

// SaveServerData records the complete server data at path per CP-2.
func (s *Store) SaveServerData(ctx context.Context, path node.Path, n *node.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save server data: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	target, value := path, n
	for _, anc := range lineage(path)[:path.Len()] {
		rec, ok, err := loadRow(ctx, tx, anc)
		if err != nil {
			return fmt.Errorf("save server data at %s: %w", path, err)
		}
		if ok {
			target, value = anc, rec.UpdateChild(node.Relative(anc, path), n)
			break
		}
	}

	prefix := subtreePrefix(target)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM server_cache
		WHERE path = ? OR substr(path, 1, ?) = ?
	`, target.String(), len(prefix), prefix); err != nil {
		return fmt.Errorf("save server data at %s: clear subtree: %w", path, err)
	}

	if !value.IsEmpty() {
		data, err := marshalNode(value)
		if err != nil {
			return fmt.Errorf("save server data at %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO server_cache (path, data, hash) VALUES (?, ?, ?)
		`, target.String(), data, value.Hash()); err != nil {
			return fmt.Errorf("save server data at %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save server data: commit: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadRow reads and verifies the server_cache row at path.
func loadRow(ctx context.Context, q querier, path node.Path) (*node.Node, bool, error) {
	var data, hash string
	err := q.QueryRowContext(ctx, `
		SELECT data, hash FROM server_cache WHERE path = ?
	`, path.String()).Scan(&data, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query server cache at %s: %w", path, err)
	}

	n, err := unmarshalNode(data)
	if err != nil {
		return nil, false, fmt.Errorf("server cache at %s: %w", path, err)
	}
	if got := n.Hash(); got != hash {
		return nil, false, fmt.Errorf("server cache at %s: hash mismatch: stored %s, computed %s", path, hash, got)
	}
	return n, true, nil
}
