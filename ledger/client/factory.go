package client

import (
	"fmt"
	"log"
	"path/filepath"

	"graintrust/config"
	"graintrust/ledger/client/chainmaker"
)

// LedgerType represents the type of ledger client
type LedgerType string

const (
	ChainMaker LedgerType = "chainmaker"
	Memory     LedgerType = "memory" // in-process ledger for local runs and tests
)

// LoadChainSpecificConfig loads chain-specific configuration based on ledger type
func LoadChainSpecificConfig(ledgerType string, configDir string) (any, error) {
	switch LedgerType(ledgerType) {
	case ChainMaker, "":
		// Default to ChainMaker if not specified
		chainmakerConfigPath := filepath.Join(configDir, "clients", "chainmaker.yml")
		return chainmaker.LoadChainMakerConfig(chainmakerConfigPath)
	case Memory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", ledgerType)
	}
}

// NewLedgerClient creates a ledger client based on the configuration
func NewLedgerClient(cfg *config.LedgerConfig, logger *log.Logger) (LedgerClient, error) {
	switch LedgerType(cfg.LedgerType) {
	case ChainMaker, "":
		// Default to ChainMaker if not specified
		return chainmaker.NewChainMakerClient(cfg, logger)
	case Memory:
		return NewMemoryLedger(logger), nil
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.LedgerType)
	}
}

// NewLedgerClientFromFile creates a ledger client from configuration files
func NewLedgerClientFromFile(configPath string, logger *log.Logger) (LedgerClient, error) {
	// Load common configuration
	cfg, err := config.LoadLedgerConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load common config from file '%s': %w", configPath, err)
	}

	// Load chain-specific configuration
	configDir := filepath.Dir(configPath)
	chainSpecificCfg, err := LoadChainSpecificConfig(cfg.LedgerType, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain-specific config: %w", err)
	}

	cfg.ChainSpecific = chainSpecificCfg
	return NewLedgerClient(cfg, logger)
}
