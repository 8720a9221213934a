package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the complete application configuration
type Config struct {
	Gateway *GatewayConfig
	Engine  *EngineConfig
	Ledger  *LedgerConfig
}

// LoadConfig loads all configuration files from a directory
func LoadConfig(configDir string) (*Config, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config directory: %w", err)
	}

	config := &Config{}

	// Load gateway config
	gatewayPath := filepath.Join(absDir, "gateway.defaults.yml")
	if _, err := os.Stat(gatewayPath); err == nil {
		gatewayCfg, err := LoadGatewayConfig(gatewayPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load gateway config: %w", err)
		}
		config.Gateway = gatewayCfg
	}

	// Load engine config
	enginePath := filepath.Join(absDir, "engine.defaults.yml")
	if _, err := os.Stat(enginePath); err == nil {
		engineCfg, err := LoadEngineConfig(enginePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load engine config: %w", err)
		}
		config.Engine = engineCfg
	}

	// Load ledger client config
	ledgerPath := filepath.Join(absDir, "client_config.yml")
	if _, err := os.Stat(ledgerPath); err == nil {
		ledgerCfg, err := LoadLedgerConfig(ledgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger config: %w", err)
		}
		config.Ledger = ledgerCfg
	}

	return config, nil
}
