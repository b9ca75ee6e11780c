package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
)

func testKey() entity.LedgerKey {
	return entity.LedgerKey{ProductID: id.New(), WarehouseID: id.New()}
}

func seedLedger(t *testing.T, s *Store, key entity.LedgerKey, qty int64) {
	t.Helper()
	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		l, err := s.Ledgers().LockOrCreate(ctx, key, nil, time.Now())
		if err != nil {
			return err
		}
		l.CurrentQty = types.Qty(qty)
		return s.Ledgers().Save(ctx, l)
	})
	require.NoError(t, err)
}

func TestStore_RollbackOnError(t *testing.T) {
	s := New()
	key := testKey()
	seedLedger(t, s, key, 10)

	boom := errors.New("boom")
	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		l, err := s.Ledgers().LockExisting(ctx, key)
		require.NoError(t, err)
		l.CurrentQty = types.Qty(3)
		require.NoError(t, s.Ledgers().Save(ctx, l))
		require.NoError(t, s.Entries().Append(ctx, &entity.TransactionEntry{LedgerKey: key}))
		require.NoError(t, s.Publish(ctx, entity.DomainEvent{EventType: "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	l, err := s.Ledgers().Get(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, l.CurrentQty.Equal(types.Qty(10)))
	assert.Empty(t, s.Events())

	_, err = s.Entries().Get(context.Background(), 1)
	assert.True(t, apperror.HasCode(err, apperror.CodeEntryNotFound))
}

func TestStore_RollbackOnPanic(t *testing.T) {
	s := New()
	key := testKey()

	assert.Panics(t, func() {
		_ = s.RunInTransaction(context.Background(), func(ctx context.Context) error {
			_, err := s.Ledgers().LockOrCreate(ctx, key, nil, time.Now())
			require.NoError(t, err)
			panic("crash")
		})
	})

	_, err := s.Ledgers().Get(context.Background(), key)
	assert.True(t, apperror.IsNotFound(err))
}

func TestStore_RollbackOnCancelledContext(t *testing.T) {
	s := New()
	key := testKey()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := s.Ledgers().LockOrCreate(ctx, key, nil, time.Now())
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.Ledgers().Get(context.Background(), key)
	assert.True(t, apperror.IsNotFound(err))
}

func TestStore_NestedTransactionReuse(t *testing.T) {
	s := New()
	key := testKey()

	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			_, err := s.Ledgers().LockOrCreate(ctx, key, nil, time.Now())
			return err
		})
	})
	require.NoError(t, err)

	_, err = s.Ledgers().Get(context.Background(), key)
	assert.NoError(t, err)
}

func TestStore_LocksRequireTransaction(t *testing.T) {
	s := New()

	_, err := s.Ledgers().LockOrCreate(context.Background(), testKey(), nil, time.Now())
	assert.Error(t, err)
	assert.Error(t, s.Entries().Append(context.Background(), &entity.TransactionEntry{}))
	assert.Error(t, s.Publish(context.Background(), entity.DomainEvent{}))
}

func TestLedgerRepo_SaveVersionGuard(t *testing.T) {
	s := New()
	key := testKey()
	seedLedger(t, s, key, 5)

	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		l, err := s.Ledgers().LockExisting(ctx, key)
		require.NoError(t, err)
		stale := *l

		require.NoError(t, s.Ledgers().Save(ctx, l))
		return s.Ledgers().Save(ctx, &stale)
	})
	assert.True(t, apperror.IsConcurrentModification(err))
}

func TestLedgerRepo_LockByProductOrdered(t *testing.T) {
	s := New()
	product := id.New()
	keys := []entity.LedgerKey{
		{ProductID: product, WarehouseID: id.MustParse("00000000-0000-0000-0000-000000000002")},
		{ProductID: product, WarehouseID: id.MustParse("00000000-0000-0000-0000-000000000001"), LocationID: id.New()},
		{ProductID: product, WarehouseID: id.MustParse("00000000-0000-0000-0000-000000000001")},
	}
	for _, k := range keys {
		seedLedger(t, s, k, 1)
	}
	seedLedger(t, s, testKey(), 1)

	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		ls, err := s.Ledgers().LockByProduct(ctx, product, nil)
		require.NoError(t, err)
		require.Len(t, ls, 3)
		assert.Equal(t, keys[2], ls[0].LedgerKey)
		assert.Equal(t, keys[1], ls[1].LedgerKey)
		assert.Equal(t, keys[0], ls[2].LedgerKey)
		return nil
	})
	require.NoError(t, err)
}

func TestEntryRepo_ReversalUnique(t *testing.T) {
	s := New()
	key := testKey()
	original := int64(1)

	err := s.RunInTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, s.Entries().Append(ctx, &entity.TransactionEntry{LedgerKey: key}))
		require.NoError(t, s.Entries().Append(ctx, &entity.TransactionEntry{LedgerKey: key, ReversesEntryID: &original}))

		found, err := s.Entries().FindReversal(ctx, original)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, int64(2), found.ID)

		return s.Entries().Append(ctx, &entity.TransactionEntry{LedgerKey: key, ReversesEntryID: &original})
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))
}
