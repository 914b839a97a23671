package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"userscript-engine/internal/userscript"
)

var (
	bucketScripts = []byte("scripts")
	keyAllScripts = []byte("all")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketScripts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) LoadScripts() ([]*userscript.Script, error) {
	scripts := []*userscript.Script{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data, err := s.get(tx, keyAllScripts)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &scripts)
	})
	if err != nil {
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	for _, sc := range scripts {
		if sc.Metadata == nil {
			sc.Metadata = map[string]string{}
		}
	}
	return scripts, nil
}

func (s *BoltStore) SaveScripts(scripts []*userscript.Script) error {
	if scripts == nil {
		scripts = []*userscript.Script{}
	}
	data, err := json.Marshal(scripts)
	if err != nil {
		return fmt.Errorf("encode scripts: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScripts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketScripts)
		}
		return b.Put(keyAllScripts, data)
	})
}

// get returns a copy of the value at key; bolt values are only valid inside
// the transaction.
func (s *BoltStore) get(tx *bolt.Tx, key []byte) ([]byte, error) {
	b := tx.Bucket(bucketScripts)
	if b == nil {
		return nil, fmt.Errorf("bucket %q not found", bucketScripts)
	}
	v := b.Get(key)
	if v == nil {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
