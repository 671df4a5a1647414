package main

import (
	"context"
	"fmt"
	"math/bits"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const defaultDataDir = "./data"

// Config holds every setting named in spec.md 6 plus the ambient settings
// (logging, database, pool network/tag) a complete deployment needs. It is
// loaded from a single TOML file.
type Config struct {
	RPCHost     string `toml:"rpc_host"`
	RPCPort     int    `toml:"rpc_port"`
	RPCUser     string `toml:"rpc_user"`
	RPCPassword string `toml:"rpc_password"`

	StratumHost                    string  `toml:"stratum_host"`
	StratumPort                    int     `toml:"stratum_port"`
	StratumMaxConnections          int     `toml:"stratum_max_connections"`
	StratumDifficulty              float64 `toml:"stratum_difficulty"`
	StratumAcceptSuggestedDifficulty bool  `toml:"stratum_accept_suggested_difficulty"`

	PoolAddress    string `toml:"pool_address"`
	PoolCoinbaseTag string `toml:"pool_coinbase_tag"`
	PoolNetwork    string `toml:"pool_network"`

	NotifyHost string `toml:"notify_host"`
	NotifyPort int    `toml:"notify_port"`

	DatabasePath string `toml:"database_path"`
	DataDir      string `toml:"data_dir"`

	LogLevel       string `toml:"log_level"`
	PoolLogPath    string `toml:"pool_log_path"`
	ErrorLogPath   string `toml:"error_log_path"`
	LogStdout      bool   `toml:"log_stdout"`

	HashSIMD bool `toml:"hash_simd"`

	Extranonce2Size         int `toml:"-"`
	TemplateExtraNonce2Size int `toml:"-"`
	MaxRecentJobs           int `toml:"-"`

	CoinbaseMsg               string `toml:"-"`
	JobEntropy                int    `toml:"-"`
	PoolEntropy               string `toml:"-"`
	CoinbaseScriptSigMaxBytes int    `toml:"-"`

	VersionMask           uint32 `toml:"version_mask"`
	VersionMaskConfigured bool   `toml:"-"`
	MinVersionBits        int    `toml:"-"`
}

// defaultConfig mirrors spec.md 6's named defaults: stratum.max_connections
// 100, stratum.difficulty 1.0, plus the coinbase pool tag carried over from
// the original Python source (spec.md 4.3).
func defaultConfig() Config {
	return Config{
		RPCHost:                          "127.0.0.1",
		RPCPort:                          8332,
		StratumHost:                      "0.0.0.0",
		StratumPort:                      3333,
		StratumMaxConnections:            100,
		StratumDifficulty:                1.0,
		StratumAcceptSuggestedDifficulty: true,
		PoolCoinbaseTag:                  "Kazumyon Mining Pool",
		PoolNetwork:                      "mainnet",
		NotifyPort:                       28332,
		DataDir:                          defaultDataDir,
		DatabasePath:                     defaultDataDir + "/pool.db",
		LogLevel:                         "info",
		LogStdout:                        true,
		HashSIMD:                         true,
		Extranonce2Size:                  4,
		TemplateExtraNonce2Size:          4,
		MaxRecentJobs:                    20,
		CoinbaseScriptSigMaxBytes:        100,
	}
}

// loadConfig reads a TOML config file, applying defaultConfig for any field
// left unset in the file.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.PoolAddress = strings.TrimSpace(cfg.PoolAddress)
	cfg.PoolCoinbaseTag = normalizeCoinbaseTagSetting(cfg.PoolCoinbaseTag)
	cfg.CoinbaseMsg = cfg.PoolCoinbaseTag

	if cfg.VersionMask != 0 {
		cfg.VersionMaskConfigured = true
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalizeCoinbaseTagSetting(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "Kazumyon Mining Pool"
	}
	return tag
}

func (cfg Config) validate() error {
	if cfg.RPCHost == "" {
		return fmt.Errorf("rpc_host is required")
	}
	if cfg.RPCPort <= 0 {
		return fmt.Errorf("rpc_port must be positive")
	}
	if cfg.StratumPort <= 0 {
		return fmt.Errorf("stratum_port must be positive")
	}
	if cfg.StratumMaxConnections <= 0 {
		return fmt.Errorf("stratum_max_connections must be positive")
	}
	if cfg.StratumDifficulty <= 0 {
		return fmt.Errorf("stratum_difficulty must be positive")
	}
	if cfg.PoolAddress == "" {
		return fmt.Errorf("pool_address is required")
	}
	return nil
}

// sanitizePayoutAddress strips anything but alphanumerics from an address
// string, guarding against copy-paste whitespace/control characters before
// it reaches the address decoder.
func sanitizePayoutAddress(addr string) string {
	if addr == "" {
		return addr
	}
	var cleaned []rune
	for _, r := range addr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			cleaned = append(cleaned, r)
		}
	}
	if len(cleaned) == 0 {
		return ""
	}
	return string(cleaned)
}

// versionMaskRPC is the minimal RPC surface autoConfigureVersionMaskFromNode
// needs; satisfied by *RPCClient.
type versionMaskRPC interface {
	callCtx(ctx context.Context, method string, params []interface{}, out interface{}) error
}

// autoConfigureVersionMaskFromNode inspects the connected node's chain to
// pick a sensible base version-rolling mask when the operator did not set
// one explicitly: mainnet/testnet use defaultVersionMask, regtest uses a
// wider mask since it commonly clears bit 29.
func autoConfigureVersionMaskFromNode(ctx context.Context, rpc versionMaskRPC, cfg *Config) {
	if rpc == nil || cfg == nil || cfg.VersionMaskConfigured {
		return
	}

	type blockchainInfo struct {
		Chain string `json:"chain"`
	}

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var info blockchainInfo
	if err := rpc.callCtx(callCtx, "getblockchaininfo", nil, &info); err != nil {
		logger.Warn("auto version mask from node failed; using default", "error", err)
		return
	}

	var base uint32
	switch strings.ToLower(strings.TrimSpace(info.Chain)) {
	case "main", "mainnet", "":
		base = defaultVersionMask
	case "test", "testnet", "testnet3", "testnet4", "signet":
		base = defaultVersionMask
	case "regtest":
		base = uint32(0x3fffe000)
	default:
		logger.Warn("unknown bitcoin chain; using default version mask", "chain", info.Chain)
		return
	}
	if base == 0 {
		return
	}

	cfg.VersionMask = base
	cfg.VersionMaskConfigured = true

	availableBits := bits.OnesCount32(cfg.VersionMask)
	if cfg.MinVersionBits > availableBits {
		cfg.MinVersionBits = availableBits
	}
}

func parseLogLevel(s string) logLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logLevelDebug
	case "warn", "warning":
		return logLevelWarn
	case "error":
		return logLevelError
	default:
		return logLevelInfo
	}
}
