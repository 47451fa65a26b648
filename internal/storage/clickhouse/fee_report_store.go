package clickhouse

import (
	"context"
	"fmt"
	"sort"

	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
)

// FeeReportStore implements storage.FeeReportStore using ClickHouse.
type FeeReportStore struct {
	conn *Conn
}

// NewFeeReportStore creates a new FeeReportStore.
func NewFeeReportStore(conn *Conn) *FeeReportStore {
	return &FeeReportStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeeReportStore = (*FeeReportStore)(nil)

// InsertBulk appends events. Fails entire batch on any duplicate event_id.
func (s *FeeReportStore) InsertBulk(ctx context.Context, events []*domain.CustodyEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	ids := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.EventID] = struct{}{}
		ids = append(ids, e.EventID)
	}

	// MergeTree does not enforce uniqueness; check existing rows explicitly.
	var existing uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM custody_events WHERE has(?, event_id)`, ids).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check existing events: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO custody_events (
			event_id, kind, collection_id, swap_id, actor, payer, receiver, asset_id,
			amount, lock_fee, protocol_fee, protocol_account, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.EventID,
			string(e.Kind),
			keyString(e.CollectionID),
			e.SwapID,
			keyString(e.Actor),
			keyString(e.Payer),
			keyString(e.Receiver),
			keyString(e.AssetID),
			e.Amount,
			e.LockFee,
			e.ProtocolFee,
			keyString(e.ProtocolAcct),
			e.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// FeeTotals sums fees per receiver and event kind for events at or after since (ms).
func (s *FeeReportStore) FeeTotals(ctx context.Context, since int64) ([]*domain.FeeTotal, error) {
	query := `
		SELECT receiver AS account, kind, count() AS events, sum(lock_fee) AS total
		FROM custody_events
		WHERE timestamp_ms >= ? AND kind IN (?, ?) AND lock_fee > 0
		GROUP BY account, kind
		UNION ALL
		SELECT protocol_account AS account, kind, count() AS events, sum(protocol_fee) AS total
		FROM custody_events
		WHERE timestamp_ms >= ? AND kind IN (?, ?) AND protocol_fee > 0
		GROUP BY account, kind
	`

	locked, unlocked := string(domain.EventCollectionLocked), string(domain.EventCollectionUnlocked)
	rows, err := s.conn.Query(ctx, query, since, locked, unlocked, since, locked, unlocked)
	if err != nil {
		return nil, fmt.Errorf("query fee totals: %w", err)
	}
	defer rows.Close()

	type key struct {
		account string
		kind    string
	}
	merged := make(map[key]*domain.FeeTotal)

	for rows.Next() {
		var account, kind string
		var events, total uint64
		if err := rows.Scan(&account, &kind, &events, &total); err != nil {
			return nil, fmt.Errorf("scan fee total: %w", err)
		}

		k := key{account: account, kind: kind}
		ft, ok := merged[k]
		if !ok {
			var receiver solana.PublicKey
			if err := receiver.UnmarshalText([]byte(account)); err != nil {
				return nil, fmt.Errorf("decode receiver: %w", err)
			}
			ft = &domain.FeeTotal{Receiver: receiver, Kind: domain.EventKind(kind)}
			merged[k] = ft
		}
		// An account that is both lock fee receiver and protocol account
		// appears in both halves of the union.
		ft.Events += events
		ft.Total += total
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fee totals: %w", err)
	}

	result := make([]*domain.FeeTotal, 0, len(merged))
	for _, ft := range merged {
		result = append(result, ft)
	}
	sort.Slice(result, func(i, j int) bool {
		ri, rj := result[i].Receiver.String(), result[j].Receiver.String()
		if ri != rj {
			return ri < rj
		}
		return result[i].Kind < result[j].Kind
	})

	return result, nil
}

// keyString renders the zero key as ''.
func keyString(pk solana.PublicKey) string {
	if pk.IsZero() {
		return ""
	}
	return pk.String()
}
