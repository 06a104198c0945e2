package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ads-marketplace/deposit-tracker/internal/cache"
	"github.com/ads-marketplace/deposit-tracker/internal/config"
	"github.com/ads-marketplace/deposit-tracker/internal/db"
	"github.com/ads-marketplace/deposit-tracker/internal/events"
	"github.com/ads-marketplace/deposit-tracker/internal/repositories"
	"github.com/ads-marketplace/deposit-tracker/internal/services"
	chain "github.com/ads-marketplace/deposit-tracker/internal/ton"
	"github.com/redis/go-redis/v9"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

const (
	redisCursorLT   = "ton-indexer:cursor:lt"
	redisCursorHash = "ton-indexer:cursor:hash"
	redisProcessed  = "ton-indexer:tx:"
	processedTTL    = 7 * 24 * time.Hour
	pollInterval    = 5 * time.Second
	txBatchSize     = 100
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TONHotWalletAddress == "" {
		log.Fatal("TON_HOT_WALLET_ADDRESS is required")
	}

	hotWallet, err := address.ParseAddr(cfg.TONHotWalletAddress)
	if err != nil {
		log.Fatal("invalid TON_HOT_WALLET_ADDRESS", zap.String("addr", cfg.TONHotWalletAddress), zap.Error(err))
	}

	tolerance, err := chain.ParseNano(cfg.OverpayToleranceNano)
	if err != nil {
		log.Fatal("invalid DEPOSIT_OVERPAY_TOLERANCE_NANO", zap.Error(err))
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	tracker := services.NewDepositTracker(
		repositories.NewEscrowRepo(pool),
		repositories.NewDealRepo(pool),
		repositories.NewAuditRepo(pool),
		cache.NewDealCache(rdb, cfg.DealCacheTTL, log),
		events.NewRedisPublisher(rdb, log),
		cfg.RequiredConfirmations,
		tolerance,
		log,
	)

	api, err := chain.Connect(ctx, chain.LiteConfig{
		Network: cfg.TONNetwork,
		Host:    cfg.LiteServerHost,
		Port:    cfg.LiteServerPort,
		Key:     cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}

	log.Info("TON indexer started",
		zap.String("hot_wallet", hotWallet.String()),
		zap.String("network", cfg.TONNetwork),
		zap.Int("required_confirmations", cfg.RequiredConfirmations),
	)

	initCursor(ctx, api, hotWallet, rdb, log)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := pollAndProcess(ctx, api, hotWallet, tracker, rdb, log); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down TON indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// initCursor stores the current account LastTxLT on first run so that only
// transactions arriving after startup are processed.
func initCursor(ctx context.Context, api ton.APIClientWrapped, addr *address.Address, rdb *redis.Client, log *zap.Logger) {
	existing, _ := rdb.Get(ctx, redisCursorLT).Result()
	if existing != "" {
		log.Info("resuming from saved cursor", zap.String("lt", existing))
		return
	}

	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		log.Warn("failed to get master block for cursor init", zap.Error(err))
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	account, err := api.GetAccount(ctx, block, addr)
	if err != nil || account == nil || !account.IsActive || account.LastTxLT == 0 {
		log.Info("hot wallet has no usable state yet, starting from LT=0", zap.Error(err))
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	saveCursor(ctx, rdb, account.LastTxLT, account.LastTxHash)
	log.Info("cursor initialized at current account state",
		zap.Uint64("lt", account.LastTxLT),
		zap.String("hash", hex.EncodeToString(account.LastTxHash)),
	)
}

func loadCursorLT(ctx context.Context, rdb *redis.Client) uint64 {
	val, err := rdb.Get(ctx, redisCursorLT).Result()
	if err != nil || val == "" {
		return 0
	}
	lt, _ := strconv.ParseUint(val, 10, 64)
	return lt
}

func saveCursor(ctx context.Context, rdb *redis.Client, lt uint64, hash []byte) {
	rdb.Set(ctx, redisCursorLT, strconv.FormatUint(lt, 10), 0)
	rdb.Set(ctx, redisCursorHash, hex.EncodeToString(hash), 0)
}

// pollAndProcess records new transfers to the hot wallet, then advances the
// confirmation depth of every detected deposit against the same masterchain block.
func pollAndProcess(
	ctx context.Context,
	api ton.APIClientWrapped,
	addr *address.Address,
	tracker *services.DepositTracker,
	rdb *redis.Client,
	log *zap.Logger,
) error {
	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return fmt.Errorf("get master block: %w", err)
	}

	if err := scanTransfers(ctx, api, block, addr, tracker, rdb, log); err != nil {
		log.Error("transfer scan failed", zap.Error(err))
	}

	if err := tracker.AdvanceConfirmations(ctx, block.SeqNo); err != nil {
		return fmt.Errorf("advance confirmations: %w", err)
	}
	return nil
}

func scanTransfers(
	ctx context.Context,
	api ton.APIClientWrapped,
	block *ton.BlockIDExt,
	addr *address.Address,
	tracker *services.DepositTracker,
	rdb *redis.Client,
	log *zap.Logger,
) error {
	cursorLT := loadCursorLT(ctx, rdb)

	account, err := api.GetAccount(ctx, block, addr)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if account == nil || !account.IsActive || account.LastTxLT <= cursorLT {
		return nil
	}

	newTxs, err := fetchNewTransactions(ctx, api, addr, account, cursorLT)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}

	if len(newTxs) > 0 {
		log.Info("found new transactions", zap.Int("count", len(newTxs)))
	}
	for _, tx := range newTxs {
		if err := processIncomingTx(ctx, tx, block.SeqNo, tracker, rdb, log); err != nil {
			// keep the cursor so the failed transfer is retried next cycle
			return err
		}
	}

	saveCursor(ctx, rdb, account.LastTxLT, account.LastTxHash)
	return nil
}

// fetchNewTransactions returns transactions with LT > cursorLT, oldest first.
func fetchNewTransactions(
	ctx context.Context,
	api ton.APIClientWrapped,
	addr *address.Address,
	account *tlb.Account,
	cursorLT uint64,
) ([]*tlb.Transaction, error) {
	var allTxs []*tlb.Transaction

	lt := account.LastTxLT
	hash := account.LastTxHash

	for {
		txs, err := api.ListTransactions(ctx, addr, uint32(txBatchSize), lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(txs) == 0 {
			break
		}

		reachedCursor := false
		for _, tx := range txs {
			if tx.LT <= cursorLT {
				reachedCursor = true
				continue
			}
			allTxs = append(allTxs, tx)
		}

		if reachedCursor || len(txs) < txBatchSize || txs[0].PrevTxLT == 0 {
			break
		}
		lt = txs[0].PrevTxLT
		hash = txs[0].PrevTxHash
	}

	sort.Slice(allTxs, func(i, j int) bool {
		return allTxs[i].LT < allTxs[j].LT
	})
	return allTxs, nil
}

// processIncomingTx hands one incoming TON transfer with a memo to the tracker.
// Each transaction is recorded at most once via a Redis marker.
func processIncomingTx(
	ctx context.Context,
	tx *tlb.Transaction,
	seqno uint32,
	tracker *services.DepositTracker,
	rdb *redis.Client,
	log *zap.Logger,
) error {
	if tx.IO.In == nil {
		return nil
	}
	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil || inMsg.Bounced || inMsg.Amount.Nano().Sign() <= 0 {
		return nil
	}

	memo := extractComment(inMsg)
	if memo == "" {
		log.Debug("transfer without memo, skipping",
			zap.Uint64("lt", tx.LT),
			zap.String("from", inMsg.SrcAddr.String()),
			zap.String("amount", inMsg.Amount.String()),
		)
		return nil
	}

	txKey := fmt.Sprintf("%s%d", redisProcessed, tx.LT)
	if rdb.Exists(ctx, txKey).Val() > 0 {
		return nil
	}

	outcome, err := tracker.HandleTransfer(ctx, services.Transfer{
		Memo:   memo,
		Amount: inMsg.Amount.Nano(),
		TxHash: hex.EncodeToString(tx.Hash),
		From:   inMsg.SrcAddr.String(),
	}, seqno)
	if err != nil {
		return fmt.Errorf("handle transfer lt=%d: %w", tx.LT, err)
	}

	rdb.Set(ctx, txKey, outcome, processedTTL)
	log.Info("incoming transfer handled",
		zap.Uint64("lt", tx.LT),
		zap.String("memo", memo),
		zap.String("amount", inMsg.Amount.String()),
		zap.String("outcome", outcome),
		zap.Uint32("seqno", seqno),
	)
	return nil
}

// extractComment reads a text comment (opcode 0 followed by UTF-8) from a message body.
func extractComment(inMsg *tlb.InternalMessage) string {
	if inMsg.Body == nil {
		return ""
	}

	slice := inMsg.Body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}
	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}
	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
