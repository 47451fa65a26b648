// Package swap executes one-shot exchanges of a collectible for settlement balance.
package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/events"
	"solana-nft-custody/internal/idhash"
	"solana-nft-custody/internal/ledger"
	"solana-nft-custody/internal/observability"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// Executor is the Swap Executor.
//
// Without an external custodian the asset lives in the same storage as the
// balances and a swap settles in one transaction. With one, settlement is a
// saga: the payment is held in the swap's escrow account while the asset
// moves, then released to the seller, or refunded if the asset transfer fails.
type Executor struct {
	db        storage.TxManager
	custodian ledger.AssetCustodian
	publisher events.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

// Option configures Executor.
type Option func(*Executor)

// WithCustodian moves assets through an external service.
func WithCustodian(c ledger.AssetCustodian) Option {
	return func(e *Executor) {
		e.custodian = c
	}
}

// WithPublisher sets the post-commit event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Executor) {
		e.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an Executor.
func NewExecutor(db storage.TxManager, opts ...Option) *Executor {
	e := &Executor{
		db:        db,
		publisher: events.Nop,
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterRequest describes a swap offered by the current asset holder.
type RegisterRequest struct {
	Seller                 solana.PublicKey
	AssetID                solana.PublicKey
	SellerReceivingAccount solana.PublicKey
	Nonce                  string // random when empty
}

// ExecuteRequest holds the inputs of executeSwap.
type ExecuteRequest struct {
	SwapID                 string
	Caller                 solana.PublicKey // authority of BuyerAccount; receives the asset
	AssetID                solana.PublicKey
	Amount                 uint64
	BuyerAccount           solana.PublicKey
	SellerReceivingAccount solana.PublicKey // optional; must match the swap record when set
}

// Register stores an open swap. The seller must currently hold the asset.
func (e *Executor) Register(ctx context.Context, req RegisterRequest) (s *domain.Swap, err error) {
	start := e.now()
	defer func() { e.finish("register", start, err) }()

	switch {
	case req.Seller.IsZero():
		return nil, fmt.Errorf("%w: seller is the default key", domain.ErrInvalidAccount)
	case req.AssetID.IsZero():
		return nil, fmt.Errorf("%w: asset is the default key", domain.ErrInvalidAsset)
	case req.SellerReceivingAccount.IsZero():
		return nil, fmt.Errorf("%w: seller receiving account is the default key", domain.ErrInvalidAccount)
	}

	nonce := req.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}

	ts := start.UnixMilli()
	s = &domain.Swap{
		ID:                     idhash.ComputeSwapID(req.AssetID.String(), req.Seller.String(), req.SellerReceivingAccount.String(), nonce),
		AssetID:                req.AssetID,
		Seller:                 req.Seller,
		SellerReceivingAccount: req.SellerReceivingAccount,
		Status:                 domain.SwapStatusOpen,
		CreatedAt:              ts,
	}

	if e.custodian != nil {
		if err := e.checkHolder(ctx, e.custodian, req.AssetID, req.Seller); err != nil {
			return nil, err
		}
	}

	var recorded []*domain.CustodyEvent
	err = e.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		lg := ledger.New(tx)
		if e.custodian == nil {
			if err := e.checkHolder(ctx, lg, req.AssetID, req.Seller); err != nil {
				return err
			}
		}
		if _, err := lg.Account(ctx, req.SellerReceivingAccount); err != nil {
			return err
		}

		if err := tx.Swaps().Insert(ctx, s); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				return fmt.Errorf("%w: swap %s already registered", domain.ErrSwapClosed, s.ID)
			}
			return fmt.Errorf("insert swap: %w", err)
		}

		var err error
		recorded, err = e.record(ctx, tx, &domain.CustodyEvent{
			Kind:      domain.EventSwapRegistered,
			SwapID:    s.ID,
			Actor:     req.Seller,
			Receiver:  req.SellerReceivingAccount,
			AssetID:   req.AssetID,
			Timestamp: ts,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"op":       "register",
		"swap_id":  s.ID,
		"asset_id": req.AssetID.String(),
		"seller":   req.Seller.String(),
	}).Info("swap registered")

	e.publish(ctx, recorded)
	return s.Clone(), nil
}

func (e *Executor) checkHolder(ctx context.Context, c ledger.AssetCustodian, assetID, seller solana.PublicKey) error {
	holder, err := c.AssetOwner(ctx, assetID)
	if err != nil {
		return err
	}
	if holder != seller {
		return fmt.Errorf("%w: %s does not hold %s", domain.ErrUnauthorized, seller, assetID)
	}
	return nil
}

// Get returns a swap by ID.
func (e *Executor) Get(ctx context.Context, id string) (*domain.Swap, error) {
	var s *domain.Swap
	err := e.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		s, err = tx.Swaps().GetByID(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: swap %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return s, nil
}

// History returns the events of a swap in commit order.
func (e *Executor) History(ctx context.Context, id string) ([]*domain.CustodyEvent, error) {
	var history []*domain.CustodyEvent
	err := e.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		history, err = tx.Events().GetBySwapID(ctx, id)
		return err
	})
	return history, err
}

// Execute validates the request against the swap record, then moves amount
// from the buyer account to the seller receiving account and the asset from
// the seller to the caller. Either both move or neither does.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (s *domain.Swap, err error) {
	start := e.now()
	defer func() { e.finish("execute", start, err) }()

	if e.custodian == nil {
		s, err = e.executeInLedger(ctx, req)
	} else {
		s, err = e.executeSaga(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	observability.RecordSwapExecuted(s.Amount)
	e.log.WithFields(logrus.Fields{
		"op":      "execute",
		"swap_id": s.ID,
		"buyer":   s.Buyer.String(),
		"amount":  s.Amount,
	}).Info("swap executed")
	return s, nil
}

// prepare loads the swap under lock and checks every precondition. It moves nothing.
func (e *Executor) prepare(ctx context.Context, tx storage.Tx, req ExecuteRequest) (*domain.Swap, *domain.BalanceAccount, error) {
	s, err := tx.Swaps().GetForUpdate(ctx, req.SwapID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: swap %s", domain.ErrNotFound, req.SwapID)
		}
		return nil, nil, fmt.Errorf("get swap: %w", err)
	}

	if s.Status != domain.SwapStatusOpen {
		return nil, nil, fmt.Errorf("%w: swap %s is %s", domain.ErrSwapClosed, s.ID, s.Status)
	}
	if s.AssetID != req.AssetID {
		return nil, nil, fmt.Errorf("%w: swap holds %s, request names %s", domain.ErrAssetMismatch, s.AssetID, req.AssetID)
	}
	if req.Amount == 0 {
		return nil, nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	if !req.SellerReceivingAccount.IsZero() && req.SellerReceivingAccount != s.SellerReceivingAccount {
		return nil, nil, fmt.Errorf("%w: seller receiving account %s does not match swap", domain.ErrInvalidAccount, req.SellerReceivingAccount)
	}

	buyer, err := ledger.New(tx).Authorize(ctx, req.Caller, req.BuyerAccount)
	if err != nil {
		return nil, nil, err
	}
	if buyer.Balance < req.Amount {
		return nil, nil, fmt.Errorf("%w: buyer holds %d, swap needs %d", domain.ErrInsufficientFunds, buyer.Balance, req.Amount)
	}
	return s, buyer, nil
}

func (e *Executor) executeInLedger(ctx context.Context, req ExecuteRequest) (*domain.Swap, error) {
	var s *domain.Swap
	var recorded []*domain.CustodyEvent

	err := e.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, buyer, err := e.prepare(ctx, tx, req)
		if err != nil {
			return err
		}

		lg := ledger.New(tx)
		if err := lg.Transfer(ctx, buyer.Address, current.SellerReceivingAccount, req.Amount); err != nil {
			return ledger.TransferFailed("swap balance", err)
		}
		if err := lg.TransferAsset(ctx, current.AssetID, current.Seller, req.Caller); err != nil {
			return ledger.TransferFailed("swap asset", err)
		}

		ts := e.now().UnixMilli()
		markExecuted(current, req, ts)
		if err := tx.Swaps().UpdateStatus(ctx, current); err != nil {
			return fmt.Errorf("update swap: %w", err)
		}

		recorded, err = e.record(ctx, tx, executedEvent(current, req, ts))
		if err != nil {
			return err
		}
		s = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, recorded)
	return s, nil
}

func (e *Executor) executeSaga(ctx context.Context, req ExecuteRequest) (*domain.Swap, error) {
	// Step 1: hold the payment in escrow and park the swap in settling.
	var settling *domain.Swap
	err := e.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, buyer, err := e.prepare(ctx, tx, req)
		if err != nil {
			return err
		}

		lg := ledger.New(tx)
		escrow, err := lg.OpenEscrow(ctx, current.ID, e.now().UnixMilli())
		if err != nil {
			return err
		}
		if err := lg.Transfer(ctx, buyer.Address, escrow, req.Amount); err != nil {
			return ledger.TransferFailed("swap balance", err)
		}

		current.Status = domain.SwapStatusSettling
		current.Buyer = req.Caller
		current.Amount = req.Amount
		if err := tx.Swaps().UpdateStatus(ctx, current); err != nil {
			return fmt.Errorf("update swap: %w", err)
		}
		settling = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Step 2: external asset transfer.
	assetErr := e.custodian.TransferAsset(ctx, settling.AssetID, settling.Seller, req.Caller)

	// Step 3: finish or compensate. Uses a context that outlives the caller's
	// so a cancelled request cannot strand the swap in settling.
	finishCtx := context.WithoutCancel(ctx)
	if assetErr == nil {
		return e.completeSaga(finishCtx, req)
	}

	if err := e.compensate(finishCtx, req); err != nil {
		e.log.WithFields(logrus.Fields{
			"op":      "compensate",
			"swap_id": req.SwapID,
			"amount":  req.Amount,
		}).WithError(err).Error("swap left in settling; balance must be reconciled manually")
		return nil, errors.Join(ledger.TransferFailed("swap asset", assetErr), fmt.Errorf("compensate: %w", err))
	}
	return nil, ledger.TransferFailed("swap asset", assetErr)
}

func (e *Executor) completeSaga(ctx context.Context, req ExecuteRequest) (*domain.Swap, error) {
	var s *domain.Swap
	var recorded []*domain.CustodyEvent

	err := e.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.Swaps().GetForUpdate(ctx, req.SwapID)
		if err != nil {
			return fmt.Errorf("get swap: %w", err)
		}
		if current.Status != domain.SwapStatusSettling {
			return fmt.Errorf("swap %s is %s, expected %s", current.ID, current.Status, domain.SwapStatusSettling)
		}

		escrow := ledger.EscrowAddress(current.ID)
		if err := ledger.New(tx).Transfer(ctx, escrow, current.SellerReceivingAccount, current.Amount); err != nil {
			return fmt.Errorf("release escrow: %w", err)
		}

		ts := e.now().UnixMilli()
		markExecuted(current, req, ts)
		if err := tx.Swaps().UpdateStatus(ctx, current); err != nil {
			return fmt.Errorf("update swap: %w", err)
		}

		recorded, err = e.record(ctx, tx, executedEvent(current, req, ts))
		if err != nil {
			return err
		}
		s = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, recorded)
	return s, nil
}

// compensate refunds the escrowed payment and reopens the swap.
func (e *Executor) compensate(ctx context.Context, req ExecuteRequest) error {
	var recorded []*domain.CustodyEvent

	err := e.db.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.Swaps().GetForUpdate(ctx, req.SwapID)
		if err != nil {
			return fmt.Errorf("get swap: %w", err)
		}
		if current.Status != domain.SwapStatusSettling {
			return fmt.Errorf("swap %s is %s, expected %s", current.ID, current.Status, domain.SwapStatusSettling)
		}

		escrow := ledger.EscrowAddress(current.ID)
		if err := ledger.New(tx).Transfer(ctx, escrow, req.BuyerAccount, current.Amount); err != nil {
			return fmt.Errorf("refund escrow: %w", err)
		}

		amount := current.Amount
		current.Status = domain.SwapStatusOpen
		current.Buyer = solana.PublicKey{}
		current.Amount = 0
		if err := tx.Swaps().UpdateStatus(ctx, current); err != nil {
			return fmt.Errorf("reopen swap: %w", err)
		}

		recorded, err = e.record(ctx, tx, &domain.CustodyEvent{
			Kind:      domain.EventSwapCompensated,
			SwapID:    current.ID,
			Actor:     req.Caller,
			Payer:     escrow,
			Receiver:  req.BuyerAccount,
			AssetID:   current.AssetID,
			Amount:    amount,
			Timestamp: e.now().UnixMilli(),
		})
		return err
	})
	if err != nil {
		return err
	}

	observability.RecordSwapCompensated()
	e.log.WithFields(logrus.Fields{
		"op":      "compensate",
		"swap_id": req.SwapID,
	}).Warn("asset transfer failed; swap payment refunded")

	e.publish(ctx, recorded)
	return nil
}

func markExecuted(s *domain.Swap, req ExecuteRequest, ts int64) {
	s.Status = domain.SwapStatusExecuted
	s.Buyer = req.Caller
	s.Amount = req.Amount
	s.ExecutedAt = &ts
}

func executedEvent(s *domain.Swap, req ExecuteRequest, ts int64) *domain.CustodyEvent {
	return &domain.CustodyEvent{
		Kind:      domain.EventSwapExecuted,
		SwapID:    s.ID,
		Actor:     req.Caller,
		Payer:     req.BuyerAccount,
		Receiver:  s.SellerReceivingAccount,
		AssetID:   s.AssetID,
		Amount:    req.Amount,
		Timestamp: ts,
	}
}

func (e *Executor) record(ctx context.Context, tx storage.Tx, ev *domain.CustodyEvent) ([]*domain.CustodyEvent, error) {
	history, err := tx.Events().GetBySwapID(ctx, ev.SwapID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	ev.EventID = idhash.ComputeEventID(ev.Kind, ev.SwapID, ev.Actor.String(), ev.Timestamp, len(history))

	batch := []*domain.CustodyEvent{ev}
	if err := tx.Events().InsertBulk(ctx, batch); err != nil {
		return nil, fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return batch, nil
}

func (e *Executor) publish(ctx context.Context, batch []*domain.CustodyEvent) {
	if err := e.publisher.Publish(ctx, batch); err != nil {
		e.log.WithError(err).WithField("events", len(batch)).Warn("publish swap events")
	}
}

func (e *Executor) finish(op string, start time.Time, err error) {
	observability.RecordOperation("swap_"+op, e.now().Sub(start).Seconds(), err)
	if err == nil {
		observability.UpdateLastSuccessfulOperation(e.now().Unix())
		return
	}
	e.log.WithFields(logrus.Fields{
		"op":   "swap_" + op,
		"code": domain.ErrorCode(err),
	}).WithError(err).Debug("operation rejected")
}
