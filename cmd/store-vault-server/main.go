// Command store-vault-server runs the Store Vault service (spec §4.6): a
// per-user encrypted blob store with compare-and-swap user_data writes and
// append-only typed streams for deposits, transfers, txs and withdrawals.
package main

import (
	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/config"
	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/storevault"
)

func main() {
	cfg, err := config.LoadStoreVault()
	if err != nil {
		panic(err)
	}
	if err := intlog.SetOutput(cfg.LogLevel); err != nil {
		panic(err)
	}
	log := intlog.For("store-vault-server")

	storage, err := intdb.Open(cfg.DataDir)
	if err != nil {
		log.WithField("err", err).Fatal("failed to open storage")
	}
	defer storage.Close()

	vault := storevault.New(storage)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	storevault.RegisterRoutes(r, vault)

	log.WithField("addr", cfg.HTTPAddr).Info("store vault listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.WithField("err", err).Fatal("server exited")
	}
}
