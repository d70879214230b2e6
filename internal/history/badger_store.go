// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

/*
badger_store.go - BadgerDB history store

Two key families:

	entry:<started-ms, zero-padded>:<id>  -> entry JSON
	latest:<user>:<item>                  -> primary key of newest entry

The padded-millisecond prefix keeps entries in time order, so Recent is
a reverse iteration. The latest index makes the merge lookup a pair of
point reads.
*/

package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const (
	entryKeyPrefix  = "entry:"
	latestKeyPrefix = "latest:"
)

// BadgerStore implements Store on BadgerDB. The caller owns the db
// handle and its lifecycle.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a history store on an open BadgerDB.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func entryKey(e *Entry) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", entryKeyPrefix, e.StartedAt.UnixMilli(), e.ID))
}

func latestKey(userID, itemID string) []byte {
	return []byte(latestKeyPrefix + userID + ":" + itemID)
}

// Save upserts the entry and points the latest index at it, in one
// transaction.
func (s *BadgerStore) Save(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	key := entryKey(e)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
		if err := txn.Set(latestKey(e.UserID, e.ItemID), key); err != nil {
			return fmt.Errorf("set latest index: %w", err)
		}
		return nil
	})
}

// Latest returns the newest entry for a user and item via the index.
func (s *BadgerStore) Latest(ctx context.Context, userID, itemID string) (*Entry, error) {
	var entry Entry

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(userID, itemID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get latest index: %w", err)
		}

		var key []byte
		if err := item.Value(func(val []byte) error {
			key = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Dangling index; treat as absent.
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Recent returns up to limit entries, newest start time first.
func (s *BadgerStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryKeyPrefix)
		// Reverse iteration needs a seek past the last entry key.
		seek := append(append([]byte(nil), prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
