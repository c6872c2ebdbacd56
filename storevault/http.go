package storevault

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/apicommon"
	"github.com/intmax2/rollup-node/rolluptypes"
)

type saveUserDataBody struct {
	Owner      rolluptypes.PubKey `json:"owner" binding:"required"`
	PrevDigest rolluptypes.Hash   `json:"prev_digest"`
	Ciphertext []byte             `json:"ciphertext" binding:"required"`
}

type saveDataBody struct {
	Owner       rolluptypes.PubKey    `json:"owner" binding:"required"`
	DataType    rolluptypes.DataType  `json:"data_type" binding:"required"`
	Ciphertext  []byte                `json:"ciphertext" binding:"required"`
	BlockNumber uint32                `json:"block_number"`
}

// RegisterRoutes wires the store vault's HTTP surface (spec §6.1) onto a
// gin engine.
func RegisterRoutes(r *gin.Engine, v *Vault) {
	apicommon.RegisterHealthCheck(r)

	r.POST("/save-user-data", func(c *gin.Context) {
		var body saveUserDataBody
		if err := c.ShouldBindJSON(&body); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		digest, err := v.SaveUserData(body.Owner, body.PrevDigest, body.Ciphertext)
		if err != nil {
			kind := apicommon.ErrorConsistency
			if err != ErrDigestMismatch {
				kind = apicommon.ErrorTransient
			}
			apicommon.Fail(c, kind, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"digest": digest})
	})

	r.GET("/get-user-data", func(c *gin.Context) {
		var owner rolluptypes.PubKey
		if err := owner.UnmarshalText([]byte(c.Query("owner"))); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		blob, err := v.GetUserData(owner)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorConsistency, err)
			return
		}
		c.JSON(http.StatusOK, blob)
	})

	r.POST("/save-data", func(c *gin.Context) {
		var body saveDataBody
		if err := c.ShouldBindJSON(&body); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		id, err := v.SaveData(body.Owner, body.DataType, body.Ciphertext, body.BlockNumber)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorTransient, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"uuid": id})
	})

	r.GET("/get-data-all-after", func(c *gin.Context) {
		var owner rolluptypes.PubKey
		if err := owner.UnmarshalText([]byte(c.Query("owner"))); err != nil {
			apicommon.Fail(c, apicommon.ErrorValidation, err)
			return
		}
		dt := rolluptypes.DataType(c.Query("data_type"))
		sinceUnix, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
		since := time.Unix(sinceUnix, 0).UTC()
		entries, err := v.GetDataAllAfter(owner, dt, since)
		if err != nil {
			apicommon.Fail(c, apicommon.ErrorTransient, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})
}
