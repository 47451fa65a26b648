package custody

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/events"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
	"solana-nft-custody/internal/storage/memory"
)

var programID = solana.MustParsePublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

// Identities used across tests. Authorities sign, accounts hold balance.
var (
	owner         = key(1)
	ownerAccount  = key(2)
	receiver      = key(3)
	receiverAcct  = key(4)
	protocolAcct  = key(5)
	stranger      = key(6)
	nftMint       = key(7)
	otherReceiver = key(8)
)

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	pk[31] = b
	return pk
}

type fixture struct {
	db        *memory.DB
	mgr       *Manager
	published []*domain.CustodyEvent
}

func newFixture(t *testing.T, ownerBalance uint64, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{db: memory.NewDB()}
	err := f.db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		for _, a := range []*domain.BalanceAccount{
			{Address: ownerAccount, Authority: owner, Balance: ownerBalance},
			{Address: receiverAcct, Authority: receiver},
			{Address: otherReceiver, Authority: receiver},
			{Address: protocolAcct, Authority: key(50)},
		} {
			if err := tx.Accounts().Insert(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clock := time.UnixMilli(1704067200000)
	base := []Option{
		WithLogger(logger),
		WithClock(func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		}),
		WithPublisher(events.PublisherFunc(func(_ context.Context, batch []*domain.CustodyEvent) error {
			f.published = append(f.published, batch...)
			return nil
		})),
	}
	f.mgr = NewManager(f.db, programID, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, lockFee, protocolFee uint64) *domain.Collection {
	t.Helper()
	c, err := f.mgr.Create(context.Background(), CreateRequest{
		Owner:              owner,
		Metadata:           `{"name":"Degen #1"}`,
		Image:              []byte{1, 2, 3},
		LockFeeAmount:      lockFee,
		ProtocolFeeAccount: protocolAcct,
		ProtocolFeeAmount:  protocolFee,
		NFTMint:            nftMint,
		SolAmount:          1_000_000,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) balance(t *testing.T, addr solana.PublicKey) uint64 {
	t.Helper()
	var bal uint64
	err := f.db.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.Accounts().GetByAddress(ctx, addr)
		if err != nil {
			return err
		}
		bal = a.Balance
		return nil
	})
	require.NoError(t, err)
	return bal
}

func lockReq(id solana.PublicKey) LockRequest {
	return LockRequest{CollectionID: id, Caller: owner, PayerAccount: ownerAccount, FeeReceiver: receiverAcct}
}

func TestCreate_StartsUnlocked(t *testing.T) {
	f := newFixture(t, 0)
	c := f.create(t, 10, 5)

	assert.False(t, c.Locked)
	assert.True(t, c.LockFeeAccount.IsZero())
	assert.Equal(t, owner, c.Owner)
	assert.False(t, solana.IsOnCurve(c.ID), "collection id must be a program address")

	wantID, err := f.mgr.CollectionID(owner, nftMint)
	require.NoError(t, err)
	assert.Equal(t, wantID, c.ID)

	got, err := f.mgr.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	require.Len(t, f.published, 1)
	assert.Equal(t, domain.EventCollectionCreated, f.published[0].Kind)
}

func TestCreate_PayloadBounds(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		image    []byte
		wantErr  error
	}{
		{name: "at bounds", metadata: strings.Repeat("m", domain.MaxMetadataLen), image: make([]byte, domain.MaxImageLen)},
		{name: "metadata too large", metadata: strings.Repeat("m", domain.MaxMetadataLen+1), wantErr: domain.ErrPayloadTooLarge},
		{name: "image too large", image: make([]byte, domain.MaxImageLen+1), wantErr: domain.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			c, err := f.mgr.Create(context.Background(), CreateRequest{
				Owner:              owner,
				Metadata:           tt.metadata,
				Image:              tt.image,
				ProtocolFeeAccount: protocolAcct,
				NFTMint:            nftMint,
			})

			list, listErr := f.mgr.ListByOwner(context.Background(), owner)
			require.NoError(t, listErr)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				assert.Empty(t, list, "no record may be created")
				assert.Empty(t, f.published)
				return
			}
			require.NoError(t, err)
			assert.False(t, c.Locked)
			assert.Len(t, list, 1)
		})
	}
}

func TestCreate_RejectsInvalidInputs(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, CreateRequest{NFTMint: nftMint, ProtocolFeeAccount: protocolAcct})
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	_, err = f.mgr.Create(ctx, CreateRequest{Owner: owner, ProtocolFeeAccount: protocolAcct})
	assert.ErrorIs(t, err, domain.ErrInvalidAsset)

	_, err = f.mgr.Create(ctx, CreateRequest{Owner: owner, NFTMint: nftMint})
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	f.create(t, 1, 1)
	_, err = f.mgr.Create(ctx, CreateRequest{Owner: owner, NFTMint: nftMint, ProtocolFeeAccount: protocolAcct})
	assert.ErrorIs(t, err, domain.ErrCollectionExists)
}

func TestCreate_RejectsAmountsBeyondStorageRange(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	base := CreateRequest{Owner: owner, NFTMint: nftMint, ProtocolFeeAccount: protocolAcct}

	tests := []struct {
		name string
		set  func(r *CreateRequest)
	}{
		{"lock fee", func(r *CreateRequest) { r.LockFeeAmount = domain.MaxAmount + 1 }},
		{"protocol fee", func(r *CreateRequest) { r.ProtocolFeeAmount = math.MaxUint64 }},
		{"sol amount", func(r *CreateRequest) { r.SolAmount = domain.MaxAmount + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.set(&req)
			_, err := f.mgr.Create(ctx, req)
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			assert.Equal(t, "InvalidAmount", domain.ErrorCode(err))
		})
	}

	// Nothing was stored, and the maximum itself is accepted.
	req := base
	req.LockFeeAmount = domain.MaxAmount
	c, err := f.mgr.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxAmount, c.LockFeeAmount)
}

func TestLockUnlock_EndToEnd(t *testing.T) {
	f := newFixture(t, 100)
	c := f.create(t, 10, 5)
	ctx := context.Background()

	locked, err := f.mgr.Lock(ctx, lockReq(c.ID))
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	assert.Equal(t, receiverAcct, locked.LockFeeAccount)
	assert.Equal(t, uint64(85), f.balance(t, ownerAccount))
	assert.Equal(t, uint64(10), f.balance(t, receiverAcct))
	assert.Equal(t, uint64(5), f.balance(t, protocolAcct))

	unlocked, err := f.mgr.Unlock(ctx, lockReq(c.ID))
	require.NoError(t, err)
	assert.False(t, unlocked.Locked)
	assert.True(t, unlocked.LockFeeAccount.IsZero())
	assert.Equal(t, uint64(70), f.balance(t, ownerAccount))
	assert.Equal(t, uint64(20), f.balance(t, receiverAcct))
	assert.Equal(t, uint64(10), f.balance(t, protocolAcct))

	history, err := f.mgr.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.EventCollectionCreated, history[0].Kind)
	assert.Equal(t, domain.EventCollectionLocked, history[1].Kind)
	assert.Equal(t, domain.EventCollectionUnlocked, history[2].Kind)
	assert.Equal(t, uint64(10), history[1].LockFee)
	assert.Equal(t, ownerAccount, history[1].Payer)
	assert.Equal(t, history, f.published)
}

func TestLockUnlock_RoundTripPreservesFields(t *testing.T) {
	f := newFixture(t, 100)
	before := f.create(t, 10, 5)
	ctx := context.Background()

	_, err := f.mgr.Lock(ctx, lockReq(before.ID))
	require.NoError(t, err)
	after, err := f.mgr.Unlock(ctx, lockReq(before.ID))
	require.NoError(t, err)

	// updated_at is bookkeeping; every record field must round-trip.
	after.UpdatedAt = before.UpdatedAt
	assert.Equal(t, before, after)
}

func TestLock_InsufficientFundsIsAtomic(t *testing.T) {
	// Enough for the lock fee, not for the protocol fee that follows it.
	f := newFixture(t, 12)
	c := f.create(t, 10, 5)

	_, err := f.mgr.Lock(context.Background(), lockReq(c.ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	got, err := f.mgr.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, got.Locked)
	assert.True(t, got.LockFeeAccount.IsZero())
	assert.Equal(t, uint64(12), f.balance(t, ownerAccount), "no partial fee deduction")
	assert.Equal(t, uint64(0), f.balance(t, receiverAcct))
	assert.Equal(t, uint64(0), f.balance(t, protocolAcct))
	assert.Len(t, f.published, 1, "only the creation event is published")
}

func TestLock_InvalidDestinationRollsBack(t *testing.T) {
	f := newFixture(t, 100)
	c := f.create(t, 10, 5)

	req := lockReq(c.ID)
	req.FeeReceiver = key(99) // not a ledger account

	_, err := f.mgr.Lock(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, uint64(100), f.balance(t, ownerAccount))
}

func TestLock_Unauthorized(t *testing.T) {
	f := newFixture(t, 100)
	c := f.create(t, 10, 5)

	req := lockReq(c.ID)
	req.Caller = stranger

	_, err := f.mgr.Lock(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, uint64(100), f.balance(t, ownerAccount))
}

func TestLock_RejectsDefaultReceiverAndUnknownCollection(t *testing.T) {
	f := newFixture(t, 100)
	c := f.create(t, 10, 5)
	ctx := context.Background()

	req := lockReq(c.ID)
	req.FeeReceiver = solana.PublicKey{}
	_, err := f.mgr.Lock(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	_, err = f.mgr.Lock(ctx, lockReq(key(77)))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStrictTransitions(t *testing.T) {
	f := newFixture(t, 100)
	c := f.create(t, 10, 5)
	ctx := context.Background()

	_, err := f.mgr.Unlock(ctx, lockReq(c.ID))
	assert.ErrorIs(t, err, domain.ErrNotLocked)

	_, err = f.mgr.Lock(ctx, lockReq(c.ID))
	require.NoError(t, err)

	_, err = f.mgr.Lock(ctx, lockReq(c.ID))
	assert.ErrorIs(t, err, domain.ErrAlreadyLocked)
	assert.Equal(t, uint64(85), f.balance(t, ownerAccount), "relock must not charge again")
}

func TestLenientTransitions_ChargeEveryCall(t *testing.T) {
	f := newFixture(t, 100, WithPolicy(Policy{}))
	c := f.create(t, 10, 5)
	ctx := context.Background()

	_, err := f.mgr.Lock(ctx, lockReq(c.ID))
	require.NoError(t, err)

	req := lockReq(c.ID)
	req.FeeReceiver = otherReceiver
	relocked, err := f.mgr.Lock(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, otherReceiver, relocked.LockFeeAccount)
	assert.Equal(t, uint64(70), f.balance(t, ownerAccount))

	history, err := f.mgr.History(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.NotEqual(t, history[1].EventID, history[2].EventID)
}

func TestUnlockReceiver(t *testing.T) {
	t.Run("any receiver by default", func(t *testing.T) {
		f := newFixture(t, 100)
		c := f.create(t, 10, 5)
		ctx := context.Background()

		_, err := f.mgr.Lock(ctx, lockReq(c.ID))
		require.NoError(t, err)

		req := lockReq(c.ID)
		req.FeeReceiver = otherReceiver
		_, err = f.mgr.Unlock(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), f.balance(t, otherReceiver))
	})

	t.Run("matching receiver required", func(t *testing.T) {
		f := newFixture(t, 100, WithPolicy(Policy{StrictTransitions: true, RequireMatchingUnlockReceiver: true}))
		c := f.create(t, 10, 5)
		ctx := context.Background()

		_, err := f.mgr.Lock(ctx, lockReq(c.ID))
		require.NoError(t, err)

		req := lockReq(c.ID)
		req.FeeReceiver = otherReceiver
		_, err = f.mgr.Unlock(ctx, req)
		assert.ErrorIs(t, err, domain.ErrUnlockReceiverMismatch)
		assert.Equal(t, uint64(85), f.balance(t, ownerAccount))

		_, err = f.mgr.Unlock(ctx, lockReq(c.ID))
		require.NoError(t, err)
	})
}

func TestPublishFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t, 100, WithPublisher(events.PublisherFunc(func(context.Context, []*domain.CustodyEvent) error {
		return errors.New("feed down")
	})))
	c := f.create(t, 10, 5)

	locked, err := f.mgr.Lock(context.Background(), lockReq(c.ID))
	require.NoError(t, err)
	assert.True(t, locked.Locked)
	assert.Equal(t, uint64(85), f.balance(t, ownerAccount))
}

func TestZeroFeesStillFlipState(t *testing.T) {
	f := newFixture(t, 0)
	c := f.create(t, 0, 0)

	locked, err := f.mgr.Lock(context.Background(), lockReq(c.ID))
	require.NoError(t, err)
	assert.True(t, locked.Locked)
}
