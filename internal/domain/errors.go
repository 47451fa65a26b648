package domain

import "errors"

// Error kinds surfaced by custody and swap operations.
var (
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetMismatch     = errors.New("asset mismatch")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrInvalidAsset      = errors.New("invalid asset")

	ErrNotFound               = errors.New("not found")
	ErrCollectionExists       = errors.New("collection already exists")
	ErrAlreadyLocked          = errors.New("collection already locked")
	ErrNotLocked              = errors.New("collection not locked")
	ErrUnlockReceiverMismatch = errors.New("unlock fee receiver does not match lock fee account")
	ErrSwapClosed             = errors.New("swap is not open")
	ErrInvalidAmount          = errors.New("invalid amount")
)

// codes is ordered: the first match wins, so specific causes precede
// ErrTransferFailed which wraps them.
var codes = []struct {
	err  error
	code string
}{
	{ErrPayloadTooLarge, "PayloadTooLarge"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrAssetMismatch, "AssetMismatch"},
	{ErrInvalidAccount, "InvalidAccount"},
	{ErrInvalidAsset, "InvalidAsset"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrNotFound, "NotFound"},
	{ErrCollectionExists, "CollectionExists"},
	{ErrAlreadyLocked, "AlreadyLocked"},
	{ErrNotLocked, "NotLocked"},
	{ErrUnlockReceiverMismatch, "UnlockReceiverMismatch"},
	{ErrSwapClosed, "SwapClosed"},
	{ErrInvalidAmount, "InvalidAmount"},
}

// ErrorCode returns a stable code for err, or "Internal".
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
