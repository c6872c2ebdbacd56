package withdrawal

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/apicommon"
	"github.com/intmax2/rollup-node/rolluptypes"
)

type requestWithdrawalBody struct {
	Withdrawal rolluptypes.Withdrawal `json:"withdrawal" binding:"required"`
	Proof      []byte                 `json:"proof" binding:"required"`
}

// RegisterRoutes wires the withdrawal server's HTTP surface (spec §6.1)
// onto a gin engine.
func RegisterRoutes(r *gin.Engine, s *Server) {
	apicommon.RegisterHealthCheck(r)

	r.POST("/request-withdrawal", func(c *gin.Context) {
		var body requestWithdrawalBody
		if err := c.ShouldBindJSON(&body); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		if err := s.RequestWithdrawal(body.Withdrawal, body.Proof); err != nil {
			kind := apicommon.ErrorConsistency
			if err == ErrProofInvalid {
				kind = apicommon.ErrorValidation
			}
			apicommon.Fail(c, kind, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})

	r.GET("/get-withdrawal-info", func(c *gin.Context) {
		var nullifier rolluptypes.Hash
		if err := nullifier.UnmarshalText([]byte(c.Query("nullifier"))); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		state, err := s.GetWithdrawalInfo(nullifier)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorConsistency, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": state})
	})
}
