package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	q pgx.Tx
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `
	event_id, kind, collection_id, swap_id, actor, payer, receiver, asset_id,
	amount, lock_fee, protocol_fee, protocol_account, timestamp
`

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
// Runs inside a savepoint so a duplicate leaves the outer transaction usable.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.CustodyEvent) error {
	if len(events) == 0 {
		return nil
	}

	sp, err := s.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	defer sp.Rollback(ctx)

	query := `INSERT INTO custody_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	batch := &pgx.Batch{}
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		args, err := eventArgs(e)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}

	br := sp.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			br.Close()
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert custody event: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// GetByCollectionID retrieves events for a collection, ordered by timestamp ASC.
func (s *EventStore) GetByCollectionID(ctx context.Context, id solana.PublicKey) ([]*domain.CustodyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM custody_events WHERE collection_id = $1 ORDER BY timestamp ASC, seq ASC`
	return s.query(ctx, query, keyArg(id))
}

// GetBySwapID retrieves events for a swap, ordered by timestamp ASC.
func (s *EventStore) GetBySwapID(ctx context.Context, swapID string) ([]*domain.CustodyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM custody_events WHERE swap_id = $1 ORDER BY timestamp ASC, seq ASC`
	return s.query(ctx, query, swapID)
}

func (s *EventStore) query(ctx context.Context, query string, arg any) ([]*domain.CustodyEvent, error) {
	rows, err := s.q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query custody events: %w", err)
	}
	defer rows.Close()

	var result []*domain.CustodyEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custody events: %w", err)
	}

	return result, nil
}

func eventArgs(e *domain.CustodyEvent) ([]any, error) {
	amount, err := amountArg(e.Amount)
	if err != nil {
		return nil, err
	}
	lockFee, err := amountArg(e.LockFee)
	if err != nil {
		return nil, err
	}
	protocolFee, err := amountArg(e.ProtocolFee)
	if err != nil {
		return nil, err
	}

	return []any{
		e.EventID,
		string(e.Kind),
		keyArg(e.CollectionID),
		e.SwapID,
		keyArg(e.Actor),
		keyArg(e.Payer),
		keyArg(e.Receiver),
		keyArg(e.AssetID),
		amount,
		lockFee,
		protocolFee,
		keyArg(e.ProtocolAcct),
		e.Timestamp,
	}, nil
}

func scanEvent(row pgx.Row) (*domain.CustodyEvent, error) {
	var e domain.CustodyEvent
	var kind, collectionID, actor, payer, receiver, assetID, protocolAcct string
	var amount, lockFee, protocolFee int64

	err := row.Scan(
		&e.EventID,
		&kind,
		&collectionID,
		&e.SwapID,
		&actor,
		&payer,
		&receiver,
		&assetID,
		&amount,
		&lockFee,
		&protocolFee,
		&protocolAcct,
		&e.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("scan custody event: %w", err)
	}

	err = parseKeys(
		keyColumn{"collection_id", collectionID, &e.CollectionID},
		keyColumn{"actor", actor, &e.Actor},
		keyColumn{"payer", payer, &e.Payer},
		keyColumn{"receiver", receiver, &e.Receiver},
		keyColumn{"asset_id", assetID, &e.AssetID},
		keyColumn{"protocol_account", protocolAcct, &e.ProtocolAcct},
	)
	if err != nil {
		return nil, err
	}

	e.Kind = domain.EventKind(kind)
	e.Amount = uint64(amount)
	e.LockFee = uint64(lockFee)
	e.ProtocolFee = uint64(protocolFee)
	return &e, nil
}
