package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"solana-nft-custody/internal/solana"
)

// Request headers.
const (
	headerRequestID = "X-Request-ID"
	headerCaller    = "X-Caller"    // base58 identity
	headerTimestamp = "X-Timestamp" // unix ms
	headerSignature = "X-Signature" // base58 ed25519 signature
)

// Gin context keys.
const (
	ctxRequestID = "request_id"
	ctxCaller    = "caller"
)

// SigningMessage is the byte string a caller signs:
// METHOD \n PATH \n TIMESTAMP \n hex(sha256(body)).
func SigningMessage(method, path string, timestampMs int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s", method, path, timestampMs, hex.EncodeToString(sum[:])))
}

func (s *Server) requestID(c *gin.Context) {
	id := c.GetHeader(headerRequestID)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(ctxRequestID, id)
	c.Header(headerRequestID, id)
	c.Next()
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()

	fields := logrus.Fields{
		"method":     c.Request.Method,
		"path":       c.FullPath(),
		"status":     c.Writer.Status(),
		"latency_ms": time.Since(start).Milliseconds(),
		"request_id": c.GetString(ctxRequestID),
	}
	if caller, ok := c.Get(ctxCaller); ok {
		fields["caller"] = caller.(solana.PublicKey).String()
	}
	entry := s.log.WithFields(fields)
	if c.Writer.Status() >= http.StatusInternalServerError {
		entry.Error("request failed")
		return
	}
	entry.Debug("request served")
}

// authenticate verifies the request signature and stores the caller.
// The body is read here, bounded by MaxBodyBytes, and replaced for handlers.
func (s *Server) authenticate(c *gin.Context) {
	caller, err := solana.ParsePublicKey(c.GetHeader(headerCaller))
	if err != nil || caller.IsZero() {
		abort(c, http.StatusUnauthorized, codeUnauthenticated, "missing or malformed "+headerCaller)
		return
	}

	ts, err := strconv.ParseInt(c.GetHeader(headerTimestamp), 10, 64)
	if err != nil {
		abort(c, http.StatusUnauthorized, codeUnauthenticated, "missing or malformed "+headerTimestamp)
		return
	}
	skew := s.now().Sub(time.UnixMilli(ts))
	if skew < -s.config.SignatureSkew || skew > s.config.SignatureSkew {
		abort(c, http.StatusUnauthorized, codeUnauthenticated, "request timestamp outside the allowed window")
		return
	}

	sig, err := base58.Decode(c.GetHeader(headerSignature))
	if err != nil {
		abort(c, http.StatusUnauthorized, codeUnauthenticated, "malformed "+headerSignature)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, "PayloadTooLarge", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		abort(c, http.StatusBadRequest, codeInvalidRequest, "read body: "+err.Error())
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	msg := SigningMessage(c.Request.Method, c.Request.URL.Path, ts, body)
	if !solana.Verify(caller, msg, sig) {
		abort(c, http.StatusUnauthorized, codeUnauthenticated, "signature does not verify")
		return
	}

	c.Set(ctxCaller, caller)
	c.Next()
}

func callerOf(c *gin.Context) solana.PublicKey {
	return c.MustGet(ctxCaller).(solana.PublicKey)
}
