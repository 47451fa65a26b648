// Package custody implements the collection custody lifecycle: creation and
// fee-charging lock/unlock transitions.
package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/events"
	"solana-nft-custody/internal/idhash"
	"solana-nft-custody/internal/ledger"
	"solana-nft-custody/internal/observability"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// collectionSeed prefixes the PDA seeds of a collection record.
const collectionSeed = "collection"

// Policy resolves the open questions around repeated transitions.
type Policy struct {
	// StrictTransitions rejects lock of a locked collection and unlock of a
	// free one instead of charging fees again.
	StrictTransitions bool

	// RequireMatchingUnlockReceiver rejects an unlock whose fee receiver
	// differs from the recorded lock_fee_account.
	RequireMatchingUnlockReceiver bool
}

// DefaultPolicy rejects double transitions and allows any unlock receiver.
func DefaultPolicy() Policy {
	return Policy{StrictTransitions: true}
}

// Manager is the Collection Custody Manager.
type Manager struct {
	db        storage.TxManager
	programID solana.PublicKey
	policy    Policy
	publisher events.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithPolicy sets the transition policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithPublisher sets the post-commit event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager. Collection IDs are derived under programID.
func NewManager(db storage.TxManager, programID solana.PublicKey, opts ...Option) *Manager {
	m := &Manager{
		db:        db,
		programID: programID,
		policy:    DefaultPolicy(),
		publisher: events.Nop,
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest holds the inputs of createCollection.
type CreateRequest struct {
	Owner              solana.PublicKey
	Metadata           string
	Image              []byte
	LockFeeAmount      uint64
	ProtocolFeeAccount solana.PublicKey
	ProtocolFeeAmount  uint64
	NFTMint            solana.PublicKey
	SolAmount          uint64
}

// LockRequest holds the inputs of lockCollection and unlockCollection.
type LockRequest struct {
	CollectionID solana.PublicKey
	Caller       solana.PublicKey
	PayerAccount solana.PublicKey // settlement account the fees are debited from
	FeeReceiver  solana.PublicKey // lock (or unlock) fee destination
}

// CollectionID derives the record identifier for (owner, mint).
func (m *Manager) CollectionID(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	id, _, err := solana.FindProgramAddress([][]byte{
		[]byte(collectionSeed),
		owner[:],
		mint[:],
	}, m.programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive collection id: %w", err)
	}
	return id, nil
}

// Create allocates a free collection. No fee is charged.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (c *domain.Collection, err error) {
	start := m.now()
	defer func() { m.finish("create", start, err) }()

	if err := domain.ValidatePayload(req.Metadata, req.Image); err != nil {
		return nil, err
	}
	err = domain.ValidateAmounts(map[string]uint64{
		"lock fee":     req.LockFeeAmount,
		"protocol fee": req.ProtocolFeeAmount,
		"sol amount":   req.SolAmount,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case req.Owner.IsZero():
		return nil, fmt.Errorf("%w: owner is the default key", domain.ErrInvalidAccount)
	case req.NFTMint.IsZero():
		return nil, fmt.Errorf("%w: nft mint is the default key", domain.ErrInvalidAsset)
	case req.ProtocolFeeAccount.IsZero():
		return nil, fmt.Errorf("%w: protocol fee account is the default key", domain.ErrInvalidAccount)
	}

	id, err := m.CollectionID(req.Owner, req.NFTMint)
	if err != nil {
		return nil, err
	}

	ts := start.UnixMilli()
	c = &domain.Collection{
		ID:                 id,
		Metadata:           req.Metadata,
		Image:              req.Image,
		Owner:              req.Owner,
		LockFeeAmount:      req.LockFeeAmount,
		ProtocolFeeAccount: req.ProtocolFeeAccount,
		ProtocolFeeAmount:  req.ProtocolFeeAmount,
		NFTMint:            req.NFTMint,
		SolAmount:          req.SolAmount,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}

	var recorded []*domain.CustodyEvent
	err = m.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		err := tx.Collections().Insert(ctx, c)
		if err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return fmt.Errorf("%w: %s", domain.ErrCollectionExists, id)
			}
			return fmt.Errorf("insert collection: %w", err)
		}

		recorded, err = m.record(ctx, tx, &domain.CustodyEvent{
			Kind:         domain.EventCollectionCreated,
			CollectionID: id,
			Actor:        req.Owner,
			AssetID:      req.NFTMint,
			Amount:       req.SolAmount,
			LockFee:      req.LockFeeAmount,
			ProtocolFee:  req.ProtocolFeeAmount,
			ProtocolAcct: req.ProtocolFeeAccount,
			Timestamp:    ts,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"op":            "create",
		"collection_id": id.String(),
		"owner":         req.Owner.String(),
	}).Info("collection created")

	m.publish(ctx, recorded)
	return c.Clone(), nil
}

// Lock charges the lock and protocol fees and marks the collection locked.
// Transfers and the state change commit together or not at all.
func (m *Manager) Lock(ctx context.Context, req LockRequest) (*domain.Collection, error) {
	return m.transition(ctx, true, req)
}

// Unlock charges the lock and protocol fees and marks the collection free.
func (m *Manager) Unlock(ctx context.Context, req LockRequest) (*domain.Collection, error) {
	return m.transition(ctx, false, req)
}

func (m *Manager) transition(ctx context.Context, lock bool, req LockRequest) (c *domain.Collection, err error) {
	op, kind := "unlock", domain.EventCollectionUnlocked
	if lock {
		op, kind = "lock", domain.EventCollectionLocked
	}

	start := m.now()
	defer func() { m.finish(op, start, err) }()

	if req.FeeReceiver.IsZero() {
		return nil, fmt.Errorf("%w: %s fee receiver is the default key", domain.ErrInvalidAccount, op)
	}

	var recorded []*domain.CustodyEvent
	err = m.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.Collections().GetForUpdate(ctx, req.CollectionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: collection %s", domain.ErrNotFound, req.CollectionID)
			}
			return fmt.Errorf("get collection: %w", err)
		}

		if err := m.checkTransition(lock, current, req.FeeReceiver); err != nil {
			return err
		}

		lg := ledger.New(tx)
		if _, err := lg.Authorize(ctx, req.Caller, req.PayerAccount); err != nil {
			return err
		}

		// Lock fee first, protocol fee second.
		if err := lg.Transfer(ctx, req.PayerAccount, req.FeeReceiver, current.LockFeeAmount); err != nil {
			return ledger.TransferFailed(op+" fee", err)
		}
		if err := lg.Transfer(ctx, req.PayerAccount, current.ProtocolFeeAccount, current.ProtocolFeeAmount); err != nil {
			return ledger.TransferFailed("protocol fee", err)
		}

		ts := m.now().UnixMilli()
		current.Locked = lock
		current.LockFeeAccount = solana.PublicKey{}
		if lock {
			current.LockFeeAccount = req.FeeReceiver
		}
		current.UpdatedAt = ts

		if err := current.CheckInvariants(); err != nil {
			return err
		}
		if err := tx.Collections().UpdateLockState(ctx, current); err != nil {
			return fmt.Errorf("update collection: %w", err)
		}

		recorded, err = m.record(ctx, tx, &domain.CustodyEvent{
			Kind:         kind,
			CollectionID: current.ID,
			Actor:        req.Caller,
			Payer:        req.PayerAccount,
			Receiver:     req.FeeReceiver,
			AssetID:      current.NFTMint,
			LockFee:      current.LockFeeAmount,
			ProtocolFee:  current.ProtocolFeeAmount,
			ProtocolAcct: current.ProtocolFeeAccount,
			Timestamp:    ts,
		})
		if err != nil {
			return err
		}

		c = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordFees(c.LockFeeAmount, c.ProtocolFeeAmount)
	m.log.WithFields(logrus.Fields{
		"op":            op,
		"collection_id": c.ID.String(),
		"caller":        req.Caller.String(),
		"fee_receiver":  req.FeeReceiver.String(),
		"lock_fee":      c.LockFeeAmount,
		"protocol_fee":  c.ProtocolFeeAmount,
	}).Info("collection " + op + "ed")

	m.publish(ctx, recorded)
	return c, nil
}

func (m *Manager) checkTransition(lock bool, c *domain.Collection, receiver solana.PublicKey) error {
	if m.policy.StrictTransitions {
		if lock && c.Locked {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyLocked, c.ID)
		}
		if !lock && !c.Locked {
			return fmt.Errorf("%w: %s", domain.ErrNotLocked, c.ID)
		}
	}
	if !lock && m.policy.RequireMatchingUnlockReceiver && c.Locked && receiver != c.LockFeeAccount {
		return fmt.Errorf("%w: got %s, locked with %s", domain.ErrUnlockReceiverMismatch, receiver, c.LockFeeAccount)
	}
	return nil
}

// Get returns a collection by ID.
func (m *Manager) Get(ctx context.Context, id solana.PublicKey) (*domain.Collection, error) {
	var c *domain.Collection
	err := m.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		c, err = tx.Collections().GetByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

// ListByOwner returns the collections created by owner, oldest first.
func (m *Manager) ListByOwner(ctx context.Context, owner solana.PublicKey) ([]*domain.Collection, error) {
	var list []*domain.Collection
	err := m.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		list, err = tx.Collections().GetByOwner(ctx, owner)
		return err
	})
	return list, err
}

// History returns the custody events of a collection in commit order.
func (m *Manager) History(ctx context.Context, id solana.PublicKey) ([]*domain.CustodyEvent, error) {
	var history []*domain.CustodyEvent
	err := m.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Collections().GetByID(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: collection %s", domain.ErrNotFound, id)
			}
			return err
		}
		var err error
		history, err = tx.Events().GetByCollectionID(ctx, id)
		return err
	})
	return history, err
}

// record assigns the event its ID (indexed by the collection's history
// length) and stores it in tx.
func (m *Manager) record(ctx context.Context, tx storage.Tx, e *domain.CustodyEvent) ([]*domain.CustodyEvent, error) {
	history, err := tx.Events().GetByCollectionID(ctx, e.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	e.EventID = idhash.ComputeEventID(e.Kind, e.CollectionID.String(), e.Actor.String(), e.Timestamp, len(history))

	batch := []*domain.CustodyEvent{e}
	if err := tx.Events().InsertBulk(ctx, batch); err != nil {
		return nil, fmt.Errorf("record %s event: %w", e.Kind, err)
	}
	return batch, nil
}

func (m *Manager) publish(ctx context.Context, batch []*domain.CustodyEvent) {
	if err := m.publisher.Publish(ctx, batch); err != nil {
		m.log.WithError(err).WithField("events", len(batch)).Warn("publish custody events")
	}
}

func (m *Manager) finish(op string, start time.Time, err error) {
	observability.RecordOperation(op, m.now().Sub(start).Seconds(), err)
	if err == nil {
		observability.UpdateLastSuccessfulOperation(m.now().Unix())
		return
	}
	m.log.WithFields(logrus.Fields{
		"op":   op,
		"code": domain.ErrorCode(err),
	}).WithError(err).Debug("operation rejected")
}
