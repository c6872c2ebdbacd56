// Command validity-prover runs the Validity Prover service (spec §4.3): it
// tails L1 events, extends the recursive validity proof chain one block at
// a time, and answers account/deposit/update-witness queries.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/intmax2/rollup-node/config"
	"github.com/intmax2/rollup-node/intdb"
	"github.com/intmax2/rollup-node/intlog"
	"github.com/intmax2/rollup-node/observer"
	"github.com/intmax2/rollup-node/validityprover"
)

// emptyL1Source stands in for the real L1 client (spec §1 Non-goals treats
// chain-following as an external concern); it always reports no new events,
// leaving the observer's cursor unchanged.
type emptyL1Source struct{}

func (emptyL1Source) BlockPostedSince(ctx context.Context, fromL1Block uint64) ([]observer.BlockPostedEvent, uint64, error) {
	return nil, fromL1Block, nil
}

func (emptyL1Source) DepositLeafInsertedSince(ctx context.Context, fromL1Block uint64) ([]observer.DepositLeafInsertedEvent, uint64, error) {
	return nil, fromL1Block, nil
}

// storageCursor persists the observer's per-kind cursors in the same
// badger-backed storage as every other piece of state, rather than keeping
// them only in memory.
type storageCursor struct {
	storage *intdb.Storage
}

var (
	keyBlockPostedCursor = []byte("cursor:block_posted")
	keyDepositCursor     = []byte("cursor:deposit")
)

func (c storageCursor) LastBlockPostedCursor() (uint64, error) {
	return loadCursor(c.storage, keyBlockPostedCursor)
}

func (c storageCursor) SetBlockPostedCursor(v uint64) error {
	return c.storage.StoreJSON(keyBlockPostedCursor, v)
}

func (c storageCursor) LastDepositCursor() (uint64, error) {
	return loadCursor(c.storage, keyDepositCursor)
}

func (c storageCursor) SetDepositCursor(v uint64) error {
	return c.storage.StoreJSON(keyDepositCursor, v)
}

func loadCursor(storage *intdb.Storage, key []byte) (uint64, error) {
	var v uint64
	err := storage.LoadJSON(key, &v)
	if err == intdb.ErrNotFound {
		return 0, nil
	}
	return v, err
}

func main() {
	cfg, err := config.LoadValidityProver()
	if err != nil {
		panic(err)
	}
	if err := intlog.SetOutput(cfg.LogLevel); err != nil {
		panic(err)
	}
	log := intlog.For("validity-prover")

	storage, err := intdb.Open(cfg.DataDir)
	if err != nil {
		log.WithField("err", err).Fatal("failed to open storage")
	}
	defer storage.Close()

	proofSystem := validityprover.NewCircomProofSystem(
		os.Getenv("VALIDITY_PROVING_KEY_PATH"),
		os.Getenv("VALIDITY_VERIFYING_KEY_PATH"),
		true,
		nil, // witness calculator is circuit-specific tooling, wired by deployment (see validityprover.WitnessCalculator)
	)

	prover, err := validityprover.New(storage.WithPrefix([]byte("validity_prover:")), proofSystem)
	if err != nil {
		log.WithField("err", err).Fatal("failed to initialize prover")
	}

	obs := observer.New(emptyL1Source{}, storageCursor{storage: storage.WithPrefix([]byte("observer:"))}, prover)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := obs.Sync(ctx); err != nil {
					log.WithField("err", err).Warn("sync failed")
				}
			}
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	validityprover.RegisterRoutes(r, prover)

	log.WithField("addr", cfg.HTTPAddr).Info("validity prover listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.WithField("err", err).Fatal("server exited")
	}
}
