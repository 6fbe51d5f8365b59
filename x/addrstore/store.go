package addrstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// Store persists resource addresses. Put never overwrites an existing
// address with a different one; that is reported as a StoreConflict.
type Store interface {
	Get(ctx context.Context, key resource.Key) (resource.Record, bool, error)
	Put(ctx context.Context, rec resource.Record) error
	Records(ctx context.Context) ([]resource.Record, error)
	Close() error
}

// ErrZeroAddress is returned when a record without an address is stored.
var ErrZeroAddress = errors.New("addrstore: zero address")

// admit decides whether rec may be written given what the store already
// holds for its key. It returns write=false for an identical address.
func admit(existing resource.Record, found bool, rec resource.Record) (bool, error) {
	if !found {
		return true, nil
	}
	if existing.Address == rec.Address {
		return false, nil
	}
	return false, deployerr.NewStoreConflict(rec.Key, existing.Address.Hex(), rec.Address.Hex())
}

func validateRecord(rec *resource.Record) error {
	if err := rec.Key.Validate(); err != nil {
		return fmt.Errorf("addrstore: %w", err)
	}
	if rec.Address == (common.Address{}) {
		return fmt.Errorf("%w for %s", ErrZeroAddress, rec.Key)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return nil
}

func sortRecords(recs []resource.Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Key.String() < recs[j].Key.String()
	})
}

// ErrNotFound reports a resource with no record yet.
var ErrNotFound = errors.New("addrstore: no record")

// Require returns the record of key or ErrNotFound.
func Require(ctx context.Context, s Store, key resource.Key) (resource.Record, error) {
	rec, found, err := s.Get(ctx, key)
	if err != nil {
		return resource.Record{}, err
	}
	if !found {
		return resource.Record{}, fmt.Errorf("%w for %s", ErrNotFound, key)
	}
	return rec, nil
}
