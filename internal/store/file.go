package store

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// FileStore is the production, file-backed Store, an embedded KV store
// with atomic write-through (DESIGN NOTES: "production uses a file-backed
// key-value store with atomic write-through"). Grounded on
// ManuGH-xg2g's internal/v3/store/badger_store.go put/get/iterate shape.
type FileStore struct {
	db *badger.DB
}

// NewFile opens (creating if absent) a badger database at dir.
func NewFile(dir string) (*FileStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &FileStore{db: db}, nil
}

func (f *FileStore) Save(_ context.Context, key string, blob []byte) error {
	return f.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), blob)
	})
}

func (f *FileStore) Load(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	return f.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (f *FileStore) Exists(_ context.Context, key string) (bool, error) {
	var found bool
	err := f.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (f *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := f.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			out = append(out, string(it.Item().Key()))
		}
		return nil
	})
	return out, err
}

func (f *FileStore) Clear(_ context.Context) error {
	return f.db.DropAll()
}

func (f *FileStore) Close() error {
	return f.db.Close()
}

var _ Store = (*FileStore)(nil)
