package cli

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/remindfi/remind-network/pkg/claims"
	"github.com/remindfi/remind-network/pkg/log"
	"github.com/remindfi/remind-network/reminders/chain"
	"github.com/remindfi/remind-network/reminders/chain/client"
	"github.com/remindfi/remind-network/reminders/config"
	"github.com/remindfi/remind-network/reminders/db"
	"github.com/remindfi/remind-network/reminders/db/leveldb"
	"github.com/remindfi/remind-network/reminders/db/postgres"
)

func openStore(ctx context.Context, c *config.Config) (db.Storage, error) {
	if c.DB.Engine == config.DBEnginePostgres {
		pg, err := postgres.NewDB(ctx, c.DB.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return pg, nil
	}

	d, fresh, err := openLevelDB(c.DB.Path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", c.DB.Path).Bool("fresh", fresh).Msg("leveldb opened")
	return d, nil
}

func openLevelDB(path string) (*leveldb.DB, bool, error) {
	d, fresh, err := leveldb.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open leveldb: %w", err)
	}

	if err = d.Migrate(context.Background(), true); err != nil {
		d.Close()
		return nil, false, fmt.Errorf("failed to run migrations: %w", err)
	}
	return d, fresh, nil
}

func chainConfig(c config.ChainConfig) chain.Config {
	return chain.Config{
		Retries:        c.Retries,
		Backoff:        time.Duration(c.BackoffMs) * time.Millisecond,
		AttemptTimeout: time.Duration(c.AttemptTimeoutSec) * time.Second,
		BatchSize:      c.BatchSize,
		Parallel:       c.Parallel,
		BatchDelay:     time.Duration(c.BatchDelayMs) * time.Millisecond,
	}
}

func cacheConfig(c config.ChainConfig) chain.CacheConfig {
	cc := chain.DefaultCacheConfig()
	if c.CacheTTLSec > 0 {
		cc.TTL = time.Duration(c.CacheTTLSec) * time.Second
	}
	if c.MinRefreshSec > 0 {
		cc.MinRefreshInterval = time.Duration(c.MinRefreshSec) * time.Second
	}
	return cc
}

// chainEnabled reports whether enough is configured to talk to the ledger.
func chainEnabled(c *config.Config) bool {
	return len(c.Chain.Endpoints) > 0 && common.IsHexAddress(c.Chain.ContractAddress)
}

func openLedger(ctx context.Context, c *config.Config) (*client.Ledger, error) {
	if !chainEnabled(c) {
		return nil, fmt.Errorf("chain endpoints and a valid contract address are required")
	}

	reader, err := chain.Dial(ctx, c.Chain.Endpoints, chainConfig(c.Chain), logger)
	if err != nil {
		return nil, err
	}

	var relayer *ecdsa.PrivateKey
	if c.RelayerPrivateKey != "" {
		if relayer, err = parseKey(c.RelayerPrivateKey); err != nil {
			return nil, fmt.Errorf("incorrect relayer key: %w", err)
		}
	}

	return client.NewLedger(reader, common.HexToAddress(c.Chain.ContractAddress), relayer, big.NewInt(c.Chain.ChainID))
}

func openSigner(c *config.Config) (*claims.Signer, error) {
	if c.SignerPrivateKey == "" {
		return nil, nil
	}

	s, err := claims.NewSignerFromHex(c.SignerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("incorrect signer key: %w", err)
	}
	return s, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
}
