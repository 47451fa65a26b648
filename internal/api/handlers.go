package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"solana-nft-custody/internal/custody"
	"solana-nft-custody/internal/domain"
	"solana-nft-custody/internal/ledger"
	"solana-nft-custody/internal/solana"
	"solana-nft-custody/internal/storage"
	"solana-nft-custody/internal/swap"
)

type collectionView struct {
	ID                 solana.PublicKey `json:"id"`
	Owner              solana.PublicKey `json:"owner"`
	Metadata           string           `json:"metadata"`
	Image              []byte           `json:"image"`
	Locked             bool             `json:"locked"`
	LockFeeAccount     solana.PublicKey `json:"lock_fee_account"`
	LockFeeAmount      uint64           `json:"lock_fee_amount"`
	ProtocolFeeAccount solana.PublicKey `json:"protocol_fee_account"`
	ProtocolFeeAmount  uint64           `json:"protocol_fee_amount"`
	NFTMint            solana.PublicKey `json:"nft_mint"`
	SolAmount          uint64           `json:"sol_amount"`
	CreatedAt          int64            `json:"created_at"`
	UpdatedAt          int64            `json:"updated_at"`
}

func newCollectionView(c *domain.Collection) collectionView {
	return collectionView{
		ID:                 c.ID,
		Owner:              c.Owner,
		Metadata:           c.Metadata,
		Image:              c.Image,
		Locked:             c.Locked,
		LockFeeAccount:     c.LockFeeAccount,
		LockFeeAmount:      c.LockFeeAmount,
		ProtocolFeeAccount: c.ProtocolFeeAccount,
		ProtocolFeeAmount:  c.ProtocolFeeAmount,
		NFTMint:            c.NFTMint,
		SolAmount:          c.SolAmount,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

type swapView struct {
	ID                     string            `json:"id"`
	AssetID                solana.PublicKey  `json:"asset_id"`
	Seller                 solana.PublicKey  `json:"seller"`
	SellerReceivingAccount solana.PublicKey  `json:"seller_receiving_account"`
	Status                 domain.SwapStatus `json:"status"`
	Buyer                  *solana.PublicKey `json:"buyer,omitempty"`
	Amount                 uint64            `json:"amount"`
	CreatedAt              int64             `json:"created_at"`
	ExecutedAt             *int64            `json:"executed_at,omitempty"`
}

func newSwapView(s *domain.Swap) swapView {
	v := swapView{
		ID:                     s.ID,
		AssetID:                s.AssetID,
		Seller:                 s.Seller,
		SellerReceivingAccount: s.SellerReceivingAccount,
		Status:                 s.Status,
		Amount:                 s.Amount,
		CreatedAt:              s.CreatedAt,
		ExecutedAt:             s.ExecutedAt,
	}
	if !s.Buyer.IsZero() {
		buyer := s.Buyer
		v.Buyer = &buyer
	}
	return v
}

type accountView struct {
	Address   solana.PublicKey `json:"address"`
	Authority solana.PublicKey `json:"authority"`
	Balance   uint64           `json:"balance"`
	UpdatedAt int64            `json:"updated_at"`
}

type createCollectionRequest struct {
	Metadata           string           `json:"metadata"`
	Image              []byte           `json:"image"`
	LockFeeAmount      uint64           `json:"lock_fee_amount"`
	ProtocolFeeAccount solana.PublicKey `json:"protocol_fee_account"`
	ProtocolFeeAmount  uint64           `json:"protocol_fee_amount"`
	NFTMint            solana.PublicKey `json:"nft_mint"`
	SolAmount          uint64           `json:"sol_amount"`
}

type lockRequest struct {
	PayerAccount solana.PublicKey `json:"payer_account"`
	FeeReceiver  solana.PublicKey `json:"fee_receiver"`
}

type registerSwapRequest struct {
	AssetID                solana.PublicKey `json:"asset_id"`
	SellerReceivingAccount solana.PublicKey `json:"seller_receiving_account"`
	Nonce                  string           `json:"nonce"`
}

type executeSwapRequest struct {
	AssetID                solana.PublicKey `json:"asset_id"`
	Amount                 uint64           `json:"amount"`
	BuyerAccount           solana.PublicKey `json:"buyer_account"`
	SellerReceivingAccount solana.PublicKey `json:"seller_receiving_account"`
}

func keyParam(c *gin.Context, name string) (solana.PublicKey, bool) {
	pk, err := solana.ParsePublicKey(c.Param(name))
	if err != nil {
		abort(c, http.StatusBadRequest, codeInvalidRequest, name+": "+err.Error())
		return solana.PublicKey{}, false
	}
	return pk, true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abort(c, http.StatusBadRequest, codeInvalidRequest, "decode body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) createCollection(c *gin.Context) {
	var req createCollectionRequest
	if !bindJSON(c, &req) {
		return
	}

	col, err := s.collections.Create(c.Request.Context(), custody.CreateRequest{
		Owner:              callerOf(c),
		Metadata:           req.Metadata,
		Image:              req.Image,
		LockFeeAmount:      req.LockFeeAmount,
		ProtocolFeeAccount: req.ProtocolFeeAccount,
		ProtocolFeeAmount:  req.ProtocolFeeAmount,
		NFTMint:            req.NFTMint,
		SolAmount:          req.SolAmount,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCollectionView(col))
}

func (s *Server) lockCollection(c *gin.Context) {
	s.transition(c, s.collections.Lock)
}

func (s *Server) unlockCollection(c *gin.Context) {
	s.transition(c, s.collections.Unlock)
}

func (s *Server) transition(c *gin.Context, op func(context.Context, custody.LockRequest) (*domain.Collection, error)) {
	id, ok := keyParam(c, "id")
	if !ok {
		return
	}
	var req lockRequest
	if !bindJSON(c, &req) {
		return
	}

	col, err := op(c.Request.Context(), custody.LockRequest{
		CollectionID: id,
		Caller:       callerOf(c),
		PayerAccount: req.PayerAccount,
		FeeReceiver:  req.FeeReceiver,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCollectionView(col))
}

func (s *Server) getCollection(c *gin.Context) {
	id, ok := keyParam(c, "id")
	if !ok {
		return
	}
	col, err := s.collections.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newCollectionView(col))
}

func (s *Server) listCollections(c *gin.Context) {
	owner, ok := keyParam(c, "owner")
	if !ok {
		return
	}
	cols, err := s.collections.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]collectionView, 0, len(cols))
	for _, col := range cols {
		views = append(views, newCollectionView(col))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) collectionHistory(c *gin.Context) {
	id, ok := keyParam(c, "id")
	if !ok {
		return
	}
	history, err := s.collections.History(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(history))
}

func (s *Server) registerSwap(c *gin.Context) {
	var req registerSwapRequest
	if !bindJSON(c, &req) {
		return
	}

	sw, err := s.swaps.Register(c.Request.Context(), swap.RegisterRequest{
		Seller:                 callerOf(c),
		AssetID:                req.AssetID,
		SellerReceivingAccount: req.SellerReceivingAccount,
		Nonce:                  req.Nonce,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSwapView(sw))
}

func (s *Server) getSwap(c *gin.Context) {
	sw, err := s.swaps.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSwapView(sw))
}

func (s *Server) swapHistory(c *gin.Context) {
	history, err := s.swaps.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(history))
}

func (s *Server) executeSwap(c *gin.Context) {
	var req executeSwapRequest
	if !bindJSON(c, &req) {
		return
	}

	sw, err := s.swaps.Execute(c.Request.Context(), swap.ExecuteRequest{
		SwapID:                 c.Param("id"),
		Caller:                 callerOf(c),
		AssetID:                req.AssetID,
		Amount:                 req.Amount,
		BuyerAccount:           req.BuyerAccount,
		SellerReceivingAccount: req.SellerReceivingAccount,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newSwapView(sw))
}

func (s *Server) getAccount(c *gin.Context) {
	address, ok := keyParam(c, "address")
	if !ok {
		return
	}

	var view accountView
	err := s.accounts.WithTx(c.Request.Context(), func(ctx context.Context, tx storage.Tx) error {
		a, err := ledger.New(tx).Account(ctx, address)
		if err != nil {
			return err
		}
		view = accountView{Address: a.Address, Authority: a.Authority, Balance: a.Balance, UpdatedAt: a.UpdatedAt}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAccount) {
			abort(c, http.StatusNotFound, "NotFound", err.Error())
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) feeTotals(c *gin.Context) {
	if s.fees == nil {
		abort(c, http.StatusServiceUnavailable, codeUnavailable, "fee analytics store not configured")
		return
	}

	var since int64
	if v := c.Query("since"); v != "" {
		var err error
		since, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			abort(c, http.StatusBadRequest, codeInvalidRequest, "since: "+err.Error())
			return
		}
	}

	totals, err := s.fees.FeeTotals(c.Request.Context(), since)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(totals))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
