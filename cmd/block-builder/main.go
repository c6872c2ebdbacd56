// Command block-builder runs the Block Builder service (spec §4.4): it
// accepts sender tx requests, assembles a tx tree, collects aggregate
// signatures, and posts finished blocks to L1.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/blockbuilder"
	"github.com/intmax2/rollup-node/config"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/rolluptypes"
)

// loggingPoster stands in for the real L1 contract client (spec §1 treats
// the rollup contract as external); it only logs the block it would have
// posted.
type loggingPoster struct{}

func (loggingPoster) PostBlock(block rolluptypes.SignedTxBlock) error {
	intlog.For("block-builder").WithField("num_senders", len(block.SenderPublicKeys)).
		WithField("tx_tree_root", block.TxTreeRoot.String()).Info("posting block to L1")
	return nil
}

func main() {
	cfg, err := config.LoadBlockBuilder()
	if err != nil {
		panic(err)
	}
	if err := intlog.SetOutput(cfg.LogLevel); err != nil {
		panic(err)
	}
	log := intlog.For("block-builder")

	builder := blockbuilder.New(cfg.AcceptingDuration, cfg.ProposingDuration, cfg.RegistrationOnly, loggingPoster{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go builder.RunScheduler(ctx)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	blockbuilder.RegisterRoutes(r, builder)

	log.WithField("addr", cfg.HTTPAddr).Info("block builder listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.WithField("err", err).Fatal("server exited")
	}
}
