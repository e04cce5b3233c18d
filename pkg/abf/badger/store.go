// Package badger is an abf.Store backed by an in-memory BadgerDB.
//
// Mutations are serialised by a store mutex
// and each runs in one Badger transaction. Walks hold no lock: every step
// opens its own read transaction and seeks just past the last key it
// returned, so a key that exists for the whole walk is returned once.
// The largest key present when the walk starts bounds it; keys inserted
// beyond that bound are not visited.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/abfd/internal/logger"
	"github.com/marmos91/abfd/pkg/abf"
	"github.com/marmos91/abfd/pkg/fib"
)

// Config configures the Badger store.
type Config struct {
	abf.Limits `mapstructure:",squash"`

	// BlockCacheSizeMB is Badger's block cache size (default 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" validate:"min=0"`

	// IndexCacheSizeMB is Badger's index cache size (default 32).
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb" validate:"min=0"`
}

// Store implements abf.Store on BadgerDB.
type Store struct {
	db     *badgerdb.DB
	limits abf.Limits

	// mu serialises mutations and guards the counters.
	mu          sync.Mutex
	policies    int
	attachments int
}

var _ abf.Store = (*Store)(nil)

// badgerLogger routes Badger's own logging through the service logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, v ...any)   { logger.Error("badger: "+format, v...) }
func (badgerLogger) Warningf(format string, v ...any) { logger.Warn("badger: "+format, v...) }
func (badgerLogger) Infof(format string, v ...any)    { logger.Debug("badger: "+format, v...) }
func (badgerLogger) Debugf(format string, v ...any)   { logger.Debug("badger: "+format, v...) }

// New opens an empty in-memory database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badgerdb.DefaultOptions("").WithInMemory(true)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	opts = opts.
		WithLogger(badgerLogger{}).
		WithLoggingLevel(badgerdb.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &Store{db: db, limits: cfg.Limits}, nil
}

// NewWithDefaults opens an unlimited store.
func NewWithDefaults(ctx context.Context) (*Store, error) {
	return New(ctx, Config{})
}

func ioError(op string, err error) error {
	return &abf.StoreError{Code: abf.ErrIOError, Message: fmt.Sprintf("%s: %v", op, err)}
}

// getPolicy reads a policy inside txn. It returns (nil, nil) when absent.
func getPolicy(txn *badgerdb.Txn, id uint32) (*abf.Policy, error) {
	item, err := txn.Get(keyPolicy(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p *abf.Policy
	err = item.Value(func(val []byte) error {
		p, err = decodePolicy(val)
		return err
	})
	return p, err
}

func putPolicy(txn *badgerdb.Txn, p *abf.Policy) error {
	val, err := encodePolicy(p)
	if err != nil {
		return err
	}
	return txn.Set(keyPolicy(p.ID), val)
}

func (s *Store) UpdatePolicy(ctx context.Context, id, aclIndex uint32, paths []fib.RoutePath) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := abf.ValidateUpdate(paths, s.limits); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		p, err := getPolicy(txn, id)
		if err != nil {
			return ioError("read policy", err)
		}

		if p == nil {
			if s.limits.MaxPolicies > 0 && s.policies >= s.limits.MaxPolicies {
				return &abf.StoreError{Code: abf.ErrNoSpace, Message: fmt.Sprintf("policy limit %d reached", s.limits.MaxPolicies)}
			}
			p = &abf.Policy{ID: id, ACLIndex: aclIndex}
			created = true
		}

		merged := abf.MergePaths(p.Paths, paths)
		if s.limits.MaxPaths > 0 && len(merged) > s.limits.MaxPaths {
			return &abf.StoreError{Code: abf.ErrNoSpace, Message: fmt.Sprintf("policy %d would have %d paths, limit %d", id, len(merged), s.limits.MaxPaths)}
		}
		p.Paths = merged

		if err := putPolicy(txn, p); err != nil {
			return ioError("write policy", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if created {
		s.policies++
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, id uint32, paths []fib.RoutePath) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	destroyed := false
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		p, err := getPolicy(txn, id)
		if err != nil {
			return ioError("read policy", err)
		}
		if p == nil {
			return abf.PolicyNotFound(id)
		}

		p.Paths = abf.RemovePaths(p.Paths, paths)
		if len(p.Paths) > 0 {
			if err := putPolicy(txn, p); err != nil {
				return ioError("write policy", err)
			}
			return nil
		}

		if err := txn.Delete(keyPolicy(id)); err != nil {
			return ioError("delete policy", err)
		}
		destroyed = true
		return nil
	})
	if err != nil {
		return err
	}

	if destroyed {
		s.policies--
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id uint32) (*abf.Policy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p *abf.Policy
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		p, err = getPolicy(txn, id)
		if err != nil {
			return ioError("read policy", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, abf.PolicyNotFound(id)
	}
	return p, nil
}

func (s *Store) Attach(ctx context.Context, proto fib.Protocol, policyID, priority, swIfIndex uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := abf.ValidateAttach(proto, swIfIndex); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(keyPolicy(policyID)); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return abf.PolicyNotFound(policyID)
		} else if err != nil {
			return ioError("read policy", err)
		}

		key := keyAttachment(proto, policyID, swIfIndex)
		if _, err := txn.Get(key); err == nil {
			return abf.AttachmentExists(proto, policyID, swIfIndex)
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return ioError("read attachment", err)
		}

		if s.limits.MaxAttachments > 0 && s.attachments >= s.limits.MaxAttachments {
			return &abf.StoreError{Code: abf.ErrNoSpace, Message: fmt.Sprintf("attachment limit %d reached", s.limits.MaxAttachments)}
		}

		val, err := encodeAttachment(abf.Attachment{PolicyID: policyID, SwIfIndex: swIfIndex, Priority: priority, Proto: proto})
		if err != nil {
			return ioError("encode attachment", err)
		}
		if err := txn.Set(key, val); err != nil {
			return ioError("write attachment", err)
		}
		if err := txn.Set(keyInterface(proto, swIfIndex, priority, policyID), nil); err != nil {
			return ioError("write interface index", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.attachments++
	return nil
}

func (s *Store) Detach(ctx context.Context, proto fib.Protocol, policyID, swIfIndex uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		key := keyAttachment(proto, policyID, swIfIndex)
		item, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return abf.AttachmentNotFound(proto, policyID, swIfIndex)
		}
		if err != nil {
			return ioError("read attachment", err)
		}

		var a abf.Attachment
		if err := item.Value(func(val []byte) error {
			a, err = decodeAttachment(val)
			return err
		}); err != nil {
			return ioError("read attachment", err)
		}

		if err := txn.Delete(key); err != nil {
			return ioError("delete attachment", err)
		}
		if err := txn.Delete(keyInterface(proto, swIfIndex, a.Priority, policyID)); err != nil {
			return ioError("delete interface index", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.attachments--
	return nil
}

func (s *Store) InterfaceAttachments(ctx context.Context, proto fib.Protocol, swIfIndex uint32) ([]abf.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []abf.Attachment
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyInterfacePrefix(proto, swIfIndex)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			p, itf, prio, policyID, ok := parseInterfaceKey(it.Item().Key())
			if !ok {
				return ioError("interface index", fmt.Errorf("malformed key %x", it.Item().Key()))
			}
			out = append(out, abf.Attachment{PolicyID: policyID, SwIfIndex: itf, Priority: prio, Proto: p})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// nextAfter returns the first key under prefix that sorts after last, and
// its value. A nil last starts at the beginning of the prefix.
func (s *Store) nextAfter(prefix, last []byte) (key, val []byte, err error) {
	err = s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchSize = 1
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		if last == nil {
			it.Rewind()
		} else {
			it.Seek(successor(last))
		}
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		key = item.KeyCopy(nil)
		val, err = item.ValueCopy(nil)
		return err
	})
	return key, val, err
}

// lastKey returns the largest key under prefix, or nil if there is none.
func (s *Store) lastKey(prefix []byte) ([]byte, error) {
	var key []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse, Seek lands on the largest key <= its argument.
		it.Seek(prefixEnd(prefix))
		if it.Valid() {
			key = it.Item().KeyCopy(nil)
		}
		return nil
	})
	return key, err
}

// walk yields the values under prefix in key order, up to the largest key
// present when it starts.
func (s *Store) walk(ctx context.Context, prefix string, fn func(key, val []byte) bool) error {
	end, err := s.lastKey([]byte(prefix))
	if err != nil || end == nil {
		return err
	}

	var last []byte
	for ctx.Err() == nil {
		key, val, err := s.nextAfter([]byte(prefix), last)
		if err != nil {
			return err
		}
		if key == nil || bytes.Compare(key, end) > 0 {
			return nil
		}
		last = key

		if !fn(key, val) {
			return nil
		}
	}
	return nil
}

func (s *Store) Policies(ctx context.Context) iter.Seq[*abf.Policy] {
	return func(yield func(*abf.Policy) bool) {
		err := s.walk(ctx, prefixPolicy, func(key, val []byte) bool {
			p, err := decodePolicy(val)
			if err != nil {
				logger.Warn("Skipping policy %x: %v", key, err)
				return true
			}
			return yield(p)
		})
		if err != nil {
			logger.Warn("Policy walk aborted: %v", err)
		}
	}
}

func (s *Store) Attachments(ctx context.Context) iter.Seq[abf.Attachment] {
	return func(yield func(abf.Attachment) bool) {
		err := s.walk(ctx, prefixAttachment, func(key, val []byte) bool {
			a, err := decodeAttachment(val)
			if err != nil {
				logger.Warn("Skipping attachment %x: %v", key, err)
				return true
			}
			return yield(a)
		})
		if err != nil {
			logger.Warn("Attachment walk aborted: %v", err)
		}
	}
}

// Stats returns the number of live policies and attachments.
func (s *Store) Stats() (policies, attachments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policies, s.attachments
}

func (s *Store) Close() error {
	return s.db.Close()
}
