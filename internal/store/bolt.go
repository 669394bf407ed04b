package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/synctree"
)

var (
	bucketWrites = []byte("pending_writes")
	bucketServer = []byte("server_cache")
)

var _ engine.Cache = (*Bolt)(nil)

// Bolt is the bbolt cache backend. Records are msgpack-encoded; pending
// writes are keyed by big-endian write id so cursor order is id order.
type Bolt struct {
	bdb *bbolt.DB
}

type writeRecord struct {
	Path     string         `msgpack:"path"`
	Merge    bool           `msgpack:"merge"`
	Snap     any            `msgpack:"snap"`
	Children map[string]any `msgpack:"children"`
	Visible  bool           `msgpack:"visible"`
}

type serverRecord struct {
	Data any    `msgpack:"data"`
	Hash string `msgpack:"hash"`
}

// OpenBolt creates or opens a bbolt cache at path.
func OpenBolt(path string) (*Bolt, error) {
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketWrites, bucketServer} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("open bolt cache: %w", err)
	}
	return &Bolt{bdb: bdb}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.bdb.Close()
}

func writeKey(id int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(id))
	return k[:]
}

// SaveWrite records a pending user write.
func (b *Bolt) SaveWrite(_ context.Context, w synctree.UserWrite) error {
	rec := writeRecord{Path: w.Path.String(), Merge: w.IsMerge(), Visible: w.Visible}
	if rec.Merge {
		rec.Children = make(map[string]any, len(w.Children))
		for k, c := range w.Children {
			rec.Children[k] = c.ExportVal()
		}
	} else {
		rec.Snap = w.Snap.ExportVal()
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("save write %d: %w", w.WriteID, err)
	}
	err = b.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWrites).Put(writeKey(w.WriteID), data)
	})
	if err != nil {
		return fmt.Errorf("save write %d: %w", w.WriteID, err)
	}
	return nil
}

// RemoveWrite forgets a pending write.
func (b *Bolt) RemoveWrite(_ context.Context, writeID int64) error {
	err := b.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWrites).Delete(writeKey(writeID))
	})
	if err != nil {
		return fmt.Errorf("remove write %d: %w", writeID, err)
	}
	return nil
}

// PendingWrites returns the recorded writes in id order.
func (b *Bolt) PendingWrites(_ context.Context) ([]synctree.UserWrite, error) {
	writes := []synctree.UserWrite{}
	err := b.bdb.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWrites).ForEach(func(k, v []byte) error {
			id := int64(binary.BigEndian.Uint64(k))
			var rec writeRecord
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("pending write %d: %w", id, err)
			}
			w := synctree.UserWrite{WriteID: id, Path: node.ParsePath(rec.Path), Visible: rec.Visible}
			var err error
			if rec.Merge {
				w.Children, err = childrenFromValues(rec.Children)
			} else {
				w.Snap, err = node.FromValue(rec.Snap)
			}
			if err != nil {
				return fmt.Errorf("pending write %d: %w", id, err)
			}
			writes = append(writes, w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return writes, nil
}

// SaveServerData records the complete server data at path per CP-2.
func (b *Bolt) SaveServerData(_ context.Context, path node.Path, n *node.Node) error {
	err := b.bdb.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketServer)

		target, value := path, n
		for _, anc := range lineage(path)[:path.Len()] {
			rec, ok, err := boltLoad(bucket, anc)
			if err != nil {
				return err
			}
			if ok {
				target, value = anc, rec.UpdateChild(node.Relative(anc, path), n)
				break
			}
		}

		// Collect first: deleting under a live cursor skips keys.
		prefix := []byte(subtreePrefix(target))
		stale := [][]byte{[]byte(target.String())}
		c := bucket.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, bytes.Clone(k))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}

		if value.IsEmpty() {
			return nil
		}
		data, err := encodeRecord(serverRecord{Data: value.ExportVal(), Hash: value.Hash()})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(target.String()), data)
	})
	if err != nil {
		return fmt.Errorf("save server data at %s: %w", path, err)
	}
	return nil
}

// LoadServerData returns the recorded server data at path, read from the
// record at path or at its nearest recorded ancestor.
func (b *Bolt) LoadServerData(_ context.Context, path node.Path) (*node.Node, bool, error) {
	var (
		out *node.Node
		ok  bool
	)
	err := b.bdb.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketServer)
		for _, at := range lineage(path) {
			n, found, err := boltLoad(bucket, at)
			if err != nil {
				return err
			}
			if found {
				out, ok = n.Child(node.Relative(at, path)), true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func boltLoad(bucket *bbolt.Bucket, path node.Path) (*node.Node, bool, error) {
	v := bucket.Get([]byte(path.String()))
	if v == nil {
		return nil, false, nil
	}
	var rec serverRecord
	if err := msgpack.Unmarshal(v, &rec); err != nil {
		return nil, false, fmt.Errorf("server cache at %s: %w", path, err)
	}
	n, err := node.FromValue(rec.Data)
	if err != nil {
		return nil, false, fmt.Errorf("server cache at %s: %w", path, err)
	}
	if got := n.Hash(); got != rec.Hash {
		return nil, false, fmt.Errorf("server cache at %s: hash mismatch: stored %s, computed %s", path, rec.Hash, got)
	}
	return n, true, nil
}

// encodeRecord encodes with sorted map keys so equal records encode to
// equal bytes.
func encodeRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}
