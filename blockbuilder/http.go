package blockbuilder

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/apicommon"
	"github.com/intmax2/rollup-node/bn254crypto"
	"github.com/intmax2/rollup-node/rolluptypes"
)

type sendTxRequestBody struct {
	IsRegistration   bool               `json:"is_registration"`
	Sender           rolluptypes.PubKey `json:"sender" binding:"required"`
	TransferTreeRoot rolluptypes.Hash   `json:"transfer_tree_root" binding:"required"`
	Nonce            uint64             `json:"nonce"`
}

type postSignatureBody struct {
	Sender    rolluptypes.PubKey `json:"sender" binding:"required"`
	PublicKey []byte             `json:"public_key" binding:"required"`
	Signature []byte             `json:"signature" binding:"required"`
}

// RegisterRoutes wires the block builder's HTTP surface (spec §6.1) onto
// a gin engine, the teacher's own HTTP framework.
func RegisterRoutes(r *gin.Engine, b *Builder) {
	apicommon.RegisterHealthCheck(r)

	r.POST("/send-tx-request", func(c *gin.Context) {
		var body sendTxRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		tx := rolluptypes.Tx{TransferTreeRoot: body.TransferTreeRoot, Nonce: body.Nonce}
		if err := b.SendTxRequest(body.IsRegistration, body.Sender, tx); err != nil {
			kind := apicommon.ErrorConsistency
			if err == ErrWrongPhase {
				kind = apicommon.ErrorPending
			}
			apicommon.Fail(c, kind, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})

	r.GET("/query-proposal", func(c *gin.Context) {
		var sender rolluptypes.PubKey
		if err := sender.UnmarshalText([]byte(c.Query("sender"))); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		proposal, err := b.QueryProposal(sender)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorPending, err)
			return
		}
		c.JSON(http.StatusOK, proposal)
	})

	r.POST("/post-signature", func(c *gin.Context) {
		var body postSignatureBody
		if err := c.ShouldBindJSON(&body); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		pubKey, err := bn254crypto.G1FromBytes(body.PublicKey)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		sig, err := bn254crypto.G2FromBytes(body.Signature)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		if err := b.PostSignature(body.Sender, pubKey, sig); err != nil {
			apicommon.Fail(c, apicommon.ErrorConsistency, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})

	r.POST("/post-block", func(c *gin.Context) {
		block, err := b.PostBlock()
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorConsistency, err)
			return
		}
		c.JSON(http.StatusOK, block)
	})
}
