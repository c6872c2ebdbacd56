package validityprover

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/apicommon"
	"github.com/intmax2/rollup-node/rolluptypes"
)

// RegisterRoutes wires the validity prover's query surface (spec §6.1)
// onto a gin engine.
func RegisterRoutes(r *gin.Engine, p *Prover) {
	apicommon.RegisterHealthCheck(r)

	r.GET("/get-account-info", func(c *gin.Context) {
		var pubKey rolluptypes.PubKey
		if err := pubKey.UnmarshalText([]byte(c.Query("pubkey"))); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		id, found, err := p.GetAccountInfo(pubKey)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorTransient, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account_id": id, "found": found})
	})

	r.GET("/get-deposit-info", func(c *gin.Context) {
		idx, err := strconv.ParseUint(c.Query("deposit_index"), 10, 64)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		proof, err := p.GetDepositInfo(idx)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorConsistency, err)
			return
		}
		c.JSON(http.StatusOK, proof)
	})

	r.GET("/get-update-witness", func(c *gin.Context) {
		var pubKey rolluptypes.PubKey
		if err := pubKey.UnmarshalText([]byte(c.Query("pubkey"))); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		idx, err := strconv.ParseUint(c.Query("block_index"), 10, 32)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		witness, err := p.GetUpdateWitness(pubKey, uint32(idx))
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorConsistency, err)
			return
		}
		c.JSON(http.StatusOK, witness)
	})

	r.GET("/get-block-number-by-tx-tree-root", func(c *gin.Context) {
		var root rolluptypes.Hash
		if err := root.UnmarshalText([]byte(c.Query("tx_tree_root"))); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		n, err := p.GetBlockNumberByTxTreeRoot(root)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorConsistency, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"block_number": n})
	})

	r.GET("/block-number", func(c *gin.Context) {
		idx, err := strconv.ParseUint(c.Query("block_number"), 10, 32)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": p.HasProcessedBlock(uint32(idx))})
	})
}
