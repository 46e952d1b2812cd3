// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package projection

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// namespaceKey is the top level bucket holding the cache.
	namespaceKey = []byte("balance-projection")

	// projectionKey is the key of the single cached projection.
	projectionKey = []byte("current")

	// errMissingNamespace is returned when the cache bucket is gone.
	errMissingNamespace = errors.New("balance projection bucket missing")
)

// OperationIndex reports the newest operation known to the local store.
type OperationIndex interface {
	// LatestRemoteID returns the highest remote identifier among stored
	// operations, or none if there are no operations.
	LatestRemoteID(ctx context.Context) (fn.Option[int64], error)
}

// Cache holds the last balance projection received from the co-signer.
// Reads and writes are individually atomic; a projection is only ever
// replaced as a whole.
type Cache struct {
	db    walletdb.DB
	index OperationIndex
}

// NewCache returns a cache stored in db, creating its bucket if needed.
func NewCache(db walletdb.DB, index OperationIndex) (*Cache, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(namespaceKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create projection bucket: %w", err)
	}

	return &Cache{
		db:    db,
		index: index,
	}, nil
}

// Get returns the cached projection if there is one and it is not stale
// with respect to the newest stored operation.  A stale projection is never
// returned; the caller has to fetch a fresh one from the co-signer.
func (c *Cache) Get(ctx context.Context) (fn.Option[BalanceProjection], error) {
	none := fn.None[BalanceProjection]()

	cached, err := c.Raw(ctx)
	if err != nil {
		return none, err
	}
	if cached.IsNone() {
		return none, nil
	}

	latest, err := c.index.LatestRemoteID(ctx)
	if err != nil {
		return none, fmt.Errorf("latest operation: %w", err)
	}

	p := cached.UnwrapOr(BalanceProjection{})
	if !p.IsValidAt(latest) {
		log.Debugf("Discarding stale projection (%v), latest "+
			"operation is %d", &p, latest.UnwrapOr(0))

		return none, nil
	}

	return cached, nil
}

// Raw returns the cached projection without checking for staleness.
func (c *Cache) Raw(ctx context.Context) (fn.Option[BalanceProjection], error) {
	none := fn.None[BalanceProjection]()
	if err := ctx.Err(); err != nil {
		return none, err
	}

	var (
		p     BalanceProjection
		found bool
	)
	err := walletdb.View(c.db, func(tx walletdb.ReadTx) error {
		ns := tx.ReadBucket(namespaceKey)
		if ns == nil {
			return errMissingNamespace
		}

		v := ns.Get(projectionKey)
		if v == nil {
			return nil
		}
		found = true

		return p.Decode(bytes.NewReader(v))
	})
	if err != nil {
		return none, err
	}
	if !found {
		return none, nil
	}

	return fn.Some(p), nil
}

// Set replaces the cached projection.
func (c *Cache) Set(ctx context.Context, p BalanceProjection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v, err := p.serialize()
	if err != nil {
		return fmt.Errorf("encode projection: %w", err)
	}

	err = walletdb.Update(c.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		if ns == nil {
			return errMissingNamespace
		}

		return ns.Put(projectionKey, v)
	})
	if err != nil {
		return err
	}

	log.Debugf("Cached %v", &p)

	return nil
}

// Clear removes the cached projection.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(c.db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		if ns == nil {
			return errMissingNamespace
		}

		return ns.Delete(projectionKey)
	})
}
