package universe

import (
	"context"
	"crypto/sha256"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

const (
	utxoKeyPrefix = "utxo:"
	codeKeyPrefix = "code:"
)

// Store is a Badger-backed Universe: it implements both
// scheduler.LedgerStore (the durable UTXO set) and storage.CAS (content-
// addressed contract bytes), the two persistence surfaces the host
// needs, behind one *badger.DB with a key-space prefix per surface.
type Store struct {
	db     *badger.DB
	logger log.Logger
}

// Open opens (or creates) a Badger database at dir. An empty dir opens an
// in-memory database, useful for tests that want Badger's real
// transactional semantics without touching disk.
func Open(dir string, logger log.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening universe badger store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}

func utxoKey(id types.UtxoID) []byte {
	return append([]byte(utxoKeyPrefix), id[:]...)
}

// GetUtxo implements scheduler.LedgerStore.
func (s *Store) GetUtxo(_ context.Context, id types.UtxoID) (*types.Utxo, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(utxoKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading UTXO %s: %w", id, err)
	}
	if raw == nil {
		return nil, false, nil
	}

	u, err := decodeUtxo(id, raw)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// PutUtxo implements scheduler.LedgerStore.
func (s *Store) PutUtxo(_ context.Context, u *types.Utxo) error {
	raw := encodeUtxo(u)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(utxoKey(u.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("writing UTXO %s: %w", u.ID, err)
	}
	return nil
}

// RemoveUtxo implements scheduler.LedgerStore.
func (s *Store) RemoveUtxo(_ context.Context, id types.UtxoID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(utxoKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("removing UTXO %s: %w", id, err)
	}
	return nil
}

// LiveUtxoIDs enumerates every UTXO currently in the store, used by
// cmd/ledgerhostd's inspect subcommand.
func (s *Store) LiveUtxoIDs(_ context.Context) ([]types.UtxoID, error) {
	var ids []types.UtxoID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(utxoKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			raw := key[len(utxoKeyPrefix):]
			if len(raw) != 16 {
				continue
			}
			var id types.UtxoID
			copy(id[:], raw)
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating universe UTXOs: %w", err)
	}
	return ids, nil
}

func codeKey(hash []byte) []byte {
	return append([]byte(codeKeyPrefix), hash...)
}

// Put implements storage.CAS: content is hashed with SHA-256 and stored
// under that hash, the same content-addressing scheme ProgramID already
// uses for contract code.
func (s *Store) Put(_ context.Context, content []byte) ([]byte, uint64, error) {
	sum := sha256.Sum256(content)
	hash := sum[:]
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(codeKey(hash), content)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("writing content-addressed bytes: %w", err)
	}
	return hash, uint64(len(content)), nil
}

// Get implements storage.CAS.
func (s *Store) Get(_ context.Context, hash []byte) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(codeKey(hash))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, wasmerr.New(wasmerr.UnknownCode, "no content stored under the requested hash")
	}
	if err != nil {
		return nil, fmt.Errorf("reading content-addressed bytes: %w", err)
	}
	return raw, nil
}

// Has implements storage.CAS.
func (s *Store) Has(_ context.Context, hash []byte) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(codeKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking content-addressed bytes: %w", err)
	}
	return found, nil
}

// Remove implements storage.CAS. Removing an absent hash is a no-op.
func (s *Store) Remove(_ context.Context, hash []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(codeKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("removing content-addressed bytes: %w", err)
	}
	return nil
}
