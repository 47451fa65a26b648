package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"solana-nft-custody/internal/domain"
)

// Codes produced by the HTTP layer itself.
const (
	codeInvalidRequest  = "InvalidRequest"
	codeUnauthenticated = "Unauthenticated"
	codeUnavailable     = "Unavailable"
	codeInternal        = "Internal"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

var statusByCode = map[string]int{
	"PayloadTooLarge":        http.StatusRequestEntityTooLarge,
	"Unauthorized":           http.StatusForbidden,
	"InsufficientFunds":      http.StatusPaymentRequired,
	"AssetMismatch":          http.StatusConflict,
	"AlreadyLocked":          http.StatusConflict,
	"NotLocked":              http.StatusConflict,
	"SwapClosed":             http.StatusConflict,
	"CollectionExists":       http.StatusConflict,
	"TransferFailed":         http.StatusConflict,
	"UnlockReceiverMismatch": http.StatusConflict,
	"InvalidAccount":         http.StatusBadRequest,
	"InvalidAsset":           http.StatusBadRequest,
	"InvalidAmount":          http.StatusBadRequest,
	"NotFound":               http.StatusNotFound,
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:     code,
		Message:   msg,
		RequestID: c.GetString(ctxRequestID),
	})
}

// fail writes err using its domain code.
func (s *Server) fail(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		s.log.WithField("request_id", c.GetString(ctxRequestID)).WithError(err).Error("internal error")
		abort(c, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}
	abort(c, status, code, err.Error())
}
