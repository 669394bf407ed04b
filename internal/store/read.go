package store

import (
	"context"
	"fmt"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/synctree"
)

// PendingWrites returns the recorded writes ordered by write id (CP-1).
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) PendingWrites(ctx context.Context) ([]synctree.UserWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT write_id, path, kind, data, visible
		FROM pending_writes
		ORDER BY write_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending writes: %w", err)
	}
	defer rows.Close()

	writes := []synctree.UserWrite{}
	for rows.Next() {
		var (
			w          synctree.UserWrite
			path, kind string
			data       string
		)
		if err := rows.Scan(&w.WriteID, &path, &kind, &data, &w.Visible); err != nil {
			return nil, fmt.Errorf("scan pending write: %w", err)
		}
		w.Path = node.ParsePath(path)

		switch kind {
		case kindMerge:
			w.Children, err = unmarshalChildren(data)
		case kindOverwrite:
			w.Snap, err = unmarshalNode(data)
		default:
			err = fmt.Errorf("unknown kind %q", kind)
		}
		if err != nil {
			return nil, fmt.Errorf("pending write %d: %w", w.WriteID, err)
		}
		writes = append(writes, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending writes: %w", err)
	}
	return writes, nil
}

// LoadServerData returns the recorded server data at path, read from the
// row at path or at its nearest recorded ancestor.
func (s *Store) LoadServerData(ctx context.Context, path node.Path) (*node.Node, bool, error) {
	for _, at := range lineage(path) {
		n, ok, err := loadRow(ctx, s.db, at)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return n.Child(node.Relative(at, path)), true, nil
		}
	}
	return nil, false, nil
}
