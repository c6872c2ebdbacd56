// Command withdrawal-server runs the Withdrawal Server service (spec
// §4.7): verify single-withdrawal proofs, enqueue withdrawals, and drive
// them through relay to L1.
package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/config"
	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/rolluptypes"
	"github.com/intmax2/rollup-node/withdrawal"
)

// acceptingVerifier stands in for the real single-withdrawal circuit
// verifier (spec component E's sibling circuit, an external collaborator
// per spec §1 Non-goals); it accepts any non-empty proof.
type acceptingVerifier struct{}

func (acceptingVerifier) Verify(w rolluptypes.Withdrawal, proof []byte) (bool, error) {
	return len(proof) > 0, nil
}

// loggingRelayer stands in for the real L1 withdrawal relay client; it
// only logs the relay it would have submitted.
type loggingRelayer struct{}

func (loggingRelayer) RelayWithdrawal(w rolluptypes.Withdrawal) (string, error) {
	intlog.For("withdrawal-server").WithField("nullifier", w.Nullifier.String()).Info("relaying withdrawal to L1")
	return fmt.Sprintf("0x%x", w.Nullifier.Bytes()), nil
}

func main() {
	cfg, err := config.LoadWithdrawalServer()
	if err != nil {
		panic(err)
	}
	if err := intlog.SetOutput(cfg.LogLevel); err != nil {
		panic(err)
	}
	log := intlog.For("withdrawal-server")

	storage, err := intdb.Open(cfg.DataDir)
	if err != nil {
		log.WithField("err", err).Fatal("failed to open storage")
	}
	defer storage.Close()

	server := withdrawal.New(storage, acceptingVerifier{}, loggingRelayer{})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	withdrawal.RegisterRoutes(r, server)

	log.WithField("addr", cfg.HTTPAddr).Info("withdrawal server listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.WithField("err", err).Fatal("server exited")
	}
}
