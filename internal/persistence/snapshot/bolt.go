package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bbolt "go.etcd.io/bbolt"

	"linkgate.ai/internal/sim/objstore"
)

var (
	bucketMeta    = []byte("meta")
	bucketObjects = []byte("objects")

	keyVersion = []byte("version")
	keySavedAt = []byte("saved_at")
	keyPeerID  = []byte("peer_id")
)

const formatVersion = 1

// DB persists the object store in a bbolt file.
type DB struct {
	bolt *bbolt.DB
}

func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketObjects} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot: create buckets: %w", err)
	}
	return &DB{bolt: db}, nil
}

func (d *DB) Close() error {
	if d.bolt != nil {
		return d.bolt.Close()
	}
	return nil
}

func (d *DB) Path() string { return d.bolt.Path() }

// idToKey encodes an id as 12 big-endian bytes so keys sort like ObjectID.Less
// for non-negative owners.
func idToKey(id objstore.ObjectID) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf, uint64(id.Owner))
	binary.BigEndian.PutUint32(buf[8:], id.Seq)
	return buf
}

func keyToID(b []byte) (objstore.ObjectID, error) {
	if len(b) != 12 {
		return objstore.None, fmt.Errorf("snapshot: bad key length %d", len(b))
	}
	return objstore.ObjectID{
		Owner: objstore.PeerID(binary.BigEndian.Uint64(b)),
		Seq:   binary.BigEndian.Uint32(b[8:]),
	}, nil
}

// Save replaces the stored objects with objs in one transaction.
func (d *DB) Save(self objstore.PeerID, objs []objstore.Object) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketObjects); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketObjects)
		if err != nil {
			return err
		}
		for _, o := range objs {
			v, err := json.Marshal(o)
			if err != nil {
				return fmt.Errorf("snapshot: encode %s: %w", o.ID, err)
			}
			if err := b.Put(idToKey(o.ID), v); err != nil {
				return err
			}
		}
		m := tx.Bucket(bucketMeta)
		if err := m.Put(keyVersion, []byte(strconv.Itoa(formatVersion))); err != nil {
			return err
		}
		if err := m.Put(keyPeerID, []byte(strconv.FormatInt(int64(self), 10))); err != nil {
			return err
		}
		return m.Put(keySavedAt, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
}

// Load returns every stored object in key order.
func (d *DB) Load() ([]objstore.Object, error) {
	var out []objstore.Object
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			id, err := keyToID(k)
			if err != nil {
				return err
			}
			var o objstore.Object
			if err := json.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("snapshot: decode %s: %w", id, err)
			}
			if o.ID != id {
				return fmt.Errorf("snapshot: key %s holds object %s", id, o.ID)
			}
			out = append(out, o)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Meta reports when the file was last saved and by which peer. ok is false
// for a file that was never saved.
func (d *DB) Meta() (peer objstore.PeerID, savedAt time.Time, ok bool, err error) {
	err = d.bolt.View(func(tx *bbolt.Tx) error {
		m := tx.Bucket(bucketMeta)
		ts := m.Get(keySavedAt)
		if ts == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(ts))
		if err != nil {
			return err
		}
		p, err := strconv.ParseInt(string(m.Get(keyPeerID)), 10, 64)
		if err != nil {
			return err
		}
		peer, savedAt, ok = objstore.PeerID(p), t, true
		return nil
	})
	return
}
