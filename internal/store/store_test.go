package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/remote"
	"github.com/roach88/treesync/internal/synctree"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/view"
)

type backend struct {
	name string
	open func(t *testing.T, path string) Cache
}

var backends = []backend{
	{BackendSQLite, func(t *testing.T, path string) Cache {
		s, err := Open(path)
		require.NoError(t, err)
		return s
	}},
	{BackendBolt, func(t *testing.T, path string) Cache {
		b, err := OpenBolt(path)
		require.NoError(t, err)
		return b
	}},
}

// forEachBackend runs fn against a fresh cache of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, c Cache, path string)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.db")
			c := b.open(t, path)
			t.Cleanup(func() { c.Close() })
			fn(t, c, path)
		})
	}
}

func reopen(t *testing.T, name, path string) Cache {
	t.Helper()
	for _, b := range backends {
		if b.name == name {
			c := b.open(t, path)
			t.Cleanup(func() { c.Close() })
			return c
		}
	}
	t.Fatalf("unknown backend %s", name)
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func p(s string) node.Path { return node.ParsePath(s) }

func v(x any) *node.Node { return node.MustFromValue(x) }

func TestOpen_CreatesNewDatabase(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.db")
			c := b.open(t, path)
			defer c.Close()

			_, err := os.Stat(path)
			assert.NoError(t, err, "database file should exist")
		})
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_MigratesOlderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_pending_writes_path")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_pending_writes_path'`,
	).Scan(&n))
	assert.Equal(t, 1, n)
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_RefusesNewerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 9")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenBackend(BackendNone, "")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = OpenBackend(BackendSQLite, filepath.Join(dir, "a.db"))
	require.NoError(t, err)
	assert.IsType(t, &Store{}, c)
	require.NoError(t, c.Close())

	c, err = OpenBackend(BackendBolt, filepath.Join(dir, "b.db"))
	require.NoError(t, err)
	assert.IsType(t, &Bolt{}, c)
	require.NoError(t, c.Close())

	_, err = OpenBackend("redis", "x")
	assert.ErrorContains(t, err, "unknown cache backend")
}

func TestPendingWrites_RoundTrip(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, c Cache, _ string) {
		writes := []synctree.UserWrite{
			{WriteID: 3, Path: p("/a"), Snap: v(map[string]any{".value": "x", ".priority": 2}), Visible: true},
			{WriteID: 1, Path: p("/b/c"), Snap: node.Empty(), Visible: true},
			{WriteID: 2, Path: p("/m"), Children: map[string]*node.Node{"/x": v(1), "/y/z": node.Empty()}, Visible: false},
		}
		for _, w := range writes {
			require.NoError(t, c.SaveWrite(ctx, w))
		}

		got, err := c.PendingWrites(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)

		assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].WriteID, got[1].WriteID, got[2].WriteID}, "id order")

		assert.Equal(t, "/b/c", got[0].Path.String())
		assert.False(t, got[0].IsMerge())
		assert.True(t, got[0].Snap.IsEmpty())

		assert.True(t, got[1].IsMerge())
		assert.False(t, got[1].Visible)
		assert.True(t, got[1].Children["/x"].Equal(v(1)))
		assert.True(t, got[1].Children["/y/z"].IsEmpty())

		assert.True(t, got[2].Snap.Equal(writes[0].Snap), "priority survives")
		assert.True(t, got[2].Visible)
	})
}

func TestPendingWrites_EmptyMergeStaysMerge(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, c Cache, _ string) {
		require.NoError(t, c.SaveWrite(ctx, synctree.UserWrite{WriteID: 1, Path: p("/m"), Children: map[string]*node.Node{}, Visible: true}))

		got, err := c.PendingWrites(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].IsMerge())
	})
}

func TestRemoveWrite(t *testing.T) {
	ctx := context.Background()
	forEachBackend(t, func(t *testing.T, c Cache, _ string) {
		require.NoError(t, c.SaveWrite(ctx, synctree.UserWrite{WriteID: 1, Path: p("/a"), Snap: v(1), Visible: true}))
		require.NoError(t, c.SaveWrite(ctx, synctree.UserWrite{WriteID: 2, Path: p("/b"), Snap: v(2), Visible: true}))

		require.NoError(t, c.RemoveWrite(ctx, 1))
		require.NoError(t, c.RemoveWrite(ctx, 99), "unknown ids are ignored")

		got, err := c.PendingWrites(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(2), got[0].WriteID)
	})
}

func TestPendingWrites_Empty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, c Cache, _ string) {
		got, err := c.PendingWrites(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestServerData(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		saves  []struct{ path, json string }
		load   string
		want   any
		wantOK bool
	}{
		{
			name:   "nothing recorded",
			load:   "/a",
			wantOK: false,
		},
		{
			name:   "exact location",
			saves:  []struct{ path, json string }{{"/a", `{"x":1}`}},
			load:   "/a",
			want:   map[string]any{"x": float64(1)},
			wantOK: true,
		},
		{
			name:   "read through an ancestor",
			saves:  []struct{ path, json string }{{"/a", `{"x":{"y":2}}`}},
			load:   "/a/x/y",
			want:   float64(2),
			wantOK: true,
		},
		{
			name:   "missing child of a recorded ancestor is known empty",
			saves:  []struct{ path, json string }{{"/a", `{"x":1}`}},
			load:   "/a/z",
			want:   nil,
			wantOK: true,
		},
		{
			name: "save below a record rewrites the ancestor",
			saves: []struct{ path, json string }{
				{"/a", `{"x":1,"y":1}`},
				{"/a/y", `5`},
			},
			load:   "/a",
			want:   map[string]any{"x": float64(1), "y": float64(5)},
			wantOK: true,
		},
		{
			name: "save above records replaces them",
			saves: []struct{ path, json string }{
				{"/a/x", `1`},
				{"/a/y", `2`},
				{"/a", `{"z":3}`},
			},
			load:   "/a/x",
			want:   nil,
			wantOK: true,
		},
		{
			name: "empty data deletes the record",
			saves: []struct{ path, json string }{
				{"/a", `{"x":1}`},
				{"/a", `null`},
			},
			load:   "/a",
			wantOK: false,
		},
		{
			name:   "root record",
			saves:  []struct{ path, json string }{{"/", `{"a":{"b":true}}`}},
			load:   "/a/b",
			want:   true,
			wantOK: true,
		},
		{
			name: "sibling prefixes are separate",
			saves: []struct{ path, json string }{
				{"/ab", `1`},
				{"/a", `2`},
			},
			load:   "/ab",
			want:   float64(1),
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, c Cache, _ string) {
				for _, s := range tt.saves {
					n, err := unmarshalNode(s.json)
					require.NoError(t, err)
					require.NoError(t, c.SaveServerData(ctx, p(s.path), n))
				}

				got, ok, err := c.LoadServerData(ctx, p(tt.load))
				require.NoError(t, err)
				assert.Equal(t, tt.wantOK, ok)
				if tt.wantOK {
					assert.Equal(t, tt.want, got.Val())
				}
			})
		})
	}
}

func TestServerData_AtMostOneRecordPerSubtree(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveServerData(ctx, p("/a/x"), v(1)))
	require.NoError(t, s.SaveServerData(ctx, p("/a/y"), v(2)))
	require.NoError(t, s.SaveServerData(ctx, p("/a"), v(map[string]any{"x": 3})))
	require.NoError(t, s.SaveServerData(ctx, p("/a/y"), v(4)))

	var paths []string
	rows, err := s.db.Query(`SELECT path FROM server_cache ORDER BY path`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var path string
		require.NoError(t, rows.Scan(&path))
		paths = append(paths, path)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"/a"}, paths)
}

func TestServerData_DetectsCorruptRow(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveServerData(ctx, p("/a"), v(1)))
	_, err = s.db.Exec(`UPDATE server_cache SET data = '2' WHERE path = '/a'`)
	require.NoError(t, err)

	_, _, err = s.LoadServerData(ctx, p("/a"))
	assert.ErrorContains(t, err, "hash mismatch")
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.db")
			c := b.open(t, path)
			require.NoError(t, c.SaveWrite(ctx, synctree.UserWrite{WriteID: 5, Path: p("/a"), Snap: v("kept"), Visible: true}))
			require.NoError(t, c.SaveServerData(ctx, p("/s"), v(map[string]any{"k": 1})))
			require.NoError(t, c.Close())

			c = reopen(t, b.name, path)
			writes, err := c.PendingWrites(ctx)
			require.NoError(t, err)
			require.Len(t, writes, 1)
			assert.Equal(t, "kept", writes[0].Snap.Val())

			n, ok, err := c.LoadServerData(ctx, p("/s/k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, float64(1), n.Val())
		})
	}
}

// An engine restarted on the same cache re-sends the writes the previous
// run never had acknowledged, and shows cached data before the server
// answers.
func TestEngineRestart(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.db")
			lb := remote.NewLoopback()
			lb.Set(p("/s"), v(map[string]any{"k": "server"}))

			c := b.open(t, path)
			conn := lb.Conn()
			e, err := engine.New("mem://test", conn, engine.WithCache(c), engine.WithLogger(testutil.DiscardLogger()))
			require.NoError(t, err)

			q, err := e.Ref("/s")
			require.NoError(t, err)
			_, err = e.On(q, view.EventValue, func(view.Snapshot, string) {})
			require.NoError(t, err)
			e.Drain(ctx)

			conn.Disconnect()
			e.Drain(ctx)
			_, err = e.Set("/offline", 1)
			require.NoError(t, err)
			e.Drain(ctx)
			e.Close()
			require.NoError(t, c.Close())

			c = reopen(t, b.name, path)
			lb.Set(p("/s"), v(map[string]any{"k": "newer"}))

			e2, err := engine.New("mem://test", lb.Conn(), engine.WithCache(c), engine.WithLogger(testutil.DiscardLogger()))
			require.NoError(t, err)
			assert.Equal(t, float64(1), lb.Value(p("/offline")).Val(), "the unacknowledged write is sent again")

			var seen []any
			_, err = e2.On(q, view.EventValue, func(snap view.Snapshot, _ string) {
				seen = append(seen, snap.Child("k").Val())
			})
			require.NoError(t, err)
			e2.Drain(ctx)

			assert.Equal(t, []any{"server", "newer"}, seen)
			writes, err := c.PendingWrites(ctx)
			require.NoError(t, err)
			assert.Empty(t, writes)
		})
	}
}
