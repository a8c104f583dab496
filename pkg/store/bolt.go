// Package store persists local configuration contexts (cloud accounts and resolved devices) in a
// BoltDB file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/cloud"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

var (
	bucketAccounts = []byte("accounts")
	bucketDevices  = []byte("devices")
)

var (
	ErrNotFound        = errors.New("not found")
	ErrIncompleteLogin = errors.New("account login is incomplete")
)

// BoltStore implements cloud.Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

var _ cloud.Store = (*BoltStore)(nil)

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccounts, bucketDevices} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) put(bucket, key []byte, local cloud.LocalConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		data, err := json.Marshal(local)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) list(bucket []byte) ([]cloud.LocalConfig, error) {
	var contexts []cloud.LocalConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		contexts = make([]cloud.LocalConfig, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var local cloud.LocalConfig
			if err := json.Unmarshal(v, &local); err != nil {
				return fmt.Errorf("decode %s/%s: %w", bucket, k, err)
			}
			contexts = append(contexts, local)
			return nil
		})
	})
	return contexts, err
}

// SaveAccount stores a cloud account. Accounts are keyed by their fingerprint, so saving the same
// login twice keeps one copy.
func (s *BoltStore) SaveAccount(login cloud.LocalConfig) error {
	if !login.HasLogin() {
		return ErrIncompleteLogin
	}
	account := cloud.LocalConfig{Login: login.Login}
	return s.put(bucketAccounts, []byte(cache.FingerprintOf(login.Login)), account)
}

// Accounts returns the saved cloud accounts.
func (s *BoltStore) Accounts() ([]cloud.LocalConfig, error) {
	return s.list(bucketAccounts)
}

// DeleteAccount removes the account with the given login.
func (s *BoltStore) DeleteAccount(local cloud.LocalConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccounts)
		}
		return b.Delete([]byte(cache.FingerprintOf(local.Login)))
	})
}

// SaveDevice stores a device context keyed by its normalized address.
func (s *BoltStore) SaveDevice(_ context.Context, local cloud.LocalConfig) error {
	raw, err := credentials.AddressBytes(local.Address)
	if err != nil {
		return err
	}
	local.Address, _ = credentials.NormalizeAddress(raw)
	return s.put(bucketDevices, []byte(local.Address), local)
}

// Device returns the device context saved for address.
func (s *BoltStore) Device(_ context.Context, address string) (cloud.LocalConfig, bool, error) {
	var local cloud.LocalConfig
	found := false
	key := []byte(credentials.CanonicalAddress(address))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &local)
	})
	if err != nil {
		return cloud.LocalConfig{}, false, err
	}
	return local, found, nil
}

// Devices returns the saved device contexts ordered by address.
func (s *BoltStore) Devices() ([]cloud.LocalConfig, error) {
	return s.list(bucketDevices)
}

// DeleteDevice removes the device context for address. It returns ErrNotFound if there is none.
func (s *BoltStore) DeleteDevice(address string) error {
	key := []byte(credentials.CanonicalAddress(address))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		if b.Get(key) == nil {
			return fmt.Errorf("device %s: %w", key, ErrNotFound)
		}
		return b.Delete(key)
	})
}

// Contexts returns the saved accounts followed by the saved devices.
func (s *BoltStore) Contexts(_ context.Context) ([]cloud.LocalConfig, error) {
	accounts, err := s.Accounts()
	if err != nil {
		return nil, err
	}
	devices, err := s.Devices()
	if err != nil {
		return nil, err
	}
	return append(accounts, devices...), nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
