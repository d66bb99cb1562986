package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Config carries the node settings loaded from the TOML file. Addresses are
// 0x-prefixed hex strings and amounts are decimal strings so the file stays
// editable by hand.
type Config struct {
	RPCAddress string `toml:"RPCAddress"`
	DataDir    string `toml:"DataDir"`
	LogPath    string `toml:"LogPath"`

	ArchivePath string `toml:"ArchivePath"`

	CustodyAddress  string `toml:"CustodyAddress"`
	TreasuryAddress string `toml:"TreasuryAddress"`
	FeeBps          uint32 `toml:"FeeBps"`

	MinValidatedAmount     string `toml:"MinValidatedAmount"`
	MaxOpenSwapsPerUser    int    `toml:"MaxOpenSwapsPerUser"`
	MaxSwapDurationSeconds int64  `toml:"MaxSwapDurationSeconds"`

	MinCodeSize       int    `toml:"MinCodeSize"`
	MaxBatchValidate  int    `toml:"MaxBatchValidate"`
	TokenManifestPath string `toml:"TokenManifestPath"`

	PruneRetentionSeconds int64 `toml:"PruneRetentionSeconds"`
	PruneIntervalSeconds  int64 `toml:"PruneIntervalSeconds"`

	RPCRateLimit float64 `toml:"RPCRateLimit"`
	RPCRateBurst int     `toml:"RPCRateBurst"`
}

// Load reads the configuration at path, writing and returning defaults when
// the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./otc-data"
	}
	if strings.TrimSpace(cfg.ArchivePath) == "" {
		cfg.ArchivePath = filepath.Join(cfg.DataDir, "archive.db")
	}
	if cfg.MaxOpenSwapsPerUser <= 0 {
		cfg.MaxOpenSwapsPerUser = 50
	}
	if cfg.MaxSwapDurationSeconds <= 0 {
		cfg.MaxSwapDurationSeconds = 30 * 24 * 3600
	}
	if cfg.MinCodeSize <= 0 {
		cfg.MinCodeSize = 100
	}
	if cfg.MaxBatchValidate <= 0 {
		cfg.MaxBatchValidate = 500
	}
	if cfg.PruneRetentionSeconds <= 0 {
		cfg.PruneRetentionSeconds = 7 * 24 * 3600
	}
	if cfg.PruneIntervalSeconds <= 0 {
		cfg.PruneIntervalSeconds = 3600
	}
	if cfg.RPCRateLimit <= 0 {
		cfg.RPCRateLimit = 50
	}
	if cfg.RPCRateBurst <= 0 {
		cfg.RPCRateBurst = 100
	}
	if strings.TrimSpace(cfg.MinValidatedAmount) == "" {
		cfg.MinValidatedAmount = "0"
	}
}

// Validate rejects settings the node cannot run with.
func (cfg *Config) Validate() error {
	if cfg.FeeBps > 10_000 {
		return fmt.Errorf("config: FeeBps %d exceeds 10000", cfg.FeeBps)
	}
	if cfg.FeeBps > 0 && strings.TrimSpace(cfg.TreasuryAddress) == "" {
		return fmt.Errorf("config: FeeBps set without a TreasuryAddress")
	}
	for name, value := range map[string]string{
		"CustodyAddress":  cfg.CustodyAddress,
		"TreasuryAddress": cfg.TreasuryAddress,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if !ethcommon.IsHexAddress(value) {
			return fmt.Errorf("config: %s %q is not a valid hex address", name, value)
		}
	}
	if _, err := cfg.MinValidatedAmountInt(); err != nil {
		return err
	}
	return nil
}

// MinValidatedAmountInt parses the configured validated-class floor.
func (cfg *Config) MinValidatedAmountInt() (*big.Int, error) {
	raw := strings.TrimSpace(cfg.MinValidatedAmount)
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("config: MinValidatedAmount %q is not a non-negative decimal", cfg.MinValidatedAmount)
	}
	return amount, nil
}

// Custody returns the parsed custody address, or the zero address when unset.
func (cfg *Config) Custody() [20]byte {
	return parseAddr(cfg.CustodyAddress)
}

// Treasury returns the parsed treasury address, or the zero address when
// unset.
func (cfg *Config) Treasury() [20]byte {
	return parseAddr(cfg.TreasuryAddress)
}

func parseAddr(raw string) [20]byte {
	var out [20]byte
	raw = strings.TrimSpace(raw)
	if raw == "" || !ethcommon.IsHexAddress(raw) {
		return out
	}
	copy(out[:], ethcommon.HexToAddress(raw).Bytes())
	return out
}

// createDefault writes a default configuration file and returns it.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
