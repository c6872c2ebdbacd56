// Package apicommon holds the gin wiring shared by all four HTTP
// services: the health-check route, a signed-request envelope, and the
// error taxonomy every handler maps its errors onto (spec §7).
package apicommon

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/intlog"
)

// ErrorKind is the coarse error taxonomy spec §7 asks every service to
// report, so clients can decide whether to retry, resubmit, or surface the
// error to a user.
type ErrorKind string

const (
	ErrorValidation  ErrorKind = "validation"
	ErrorTransient   ErrorKind = "transient"
	ErrorConsistency ErrorKind = "consistency"
	ErrorPending     ErrorKind = "pending"
)

var statusByKind = map[ErrorKind]int{
	ErrorValidation:  http.StatusBadRequest,
	ErrorTransient:   http.StatusServiceUnavailable,
	ErrorConsistency: http.StatusConflict,
	ErrorPending:     http.StatusAccepted,
}

// APIError is the JSON error body every handler returns on failure.
type APIError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func Fail(c *gin.Context, kind ErrorKind, err error) {
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	intlog.For("api").WithField("kind", kind).WithField("path", c.Request.URL.Path).Warn(err.Error())
	c.JSON(status, APIError{Kind: kind, Message: err.Error()})
}

// SignedEnvelope wraps a request or response body together with the
// sender's public key and a BLS signature. The signature domain is the
// SHA-256 digest of the canonical JSON encoding of Content: the spec's
// source signs over a bincode-serialized content field, and canonical
// JSON is this codebase's equivalent stable wire encoding since every
// service already speaks JSON over gin (see DESIGN.md's Open Question
// decision on the auth envelope).
type SignedEnvelope struct {
	Content   json.RawMessage `json:"content"`
	PublicKey [32]byte        `json:"public_key"`
	Signature [128]byte       `json:"signature"`
}

// SignableBytes returns the exact bytes a signer/verifier should hash.
func SignableBytes(content json.RawMessage) []byte {
	sum := sha256.Sum256(content)
	return sum[:]
}

func RegisterHealthCheck(r *gin.Engine) {
	r.GET("/health-check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
