package chainmaker

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// NodeConfig stores detailed configuration for a single ChainMaker node
type NodeConfig struct {
	Address     string   `yaml:"address"`
	ConnCount   int      `yaml:"conn_count"`
	UseTLS      bool     `yaml:"use_tls"`
	TLSHostName string   `yaml:"tls_host_name"`
	CaPaths     []string `yaml:"ca_paths"`
}

// ChainMakerConfig stores ChainMaker-specific configuration
type ChainMakerConfig struct {
	// --- SDK Connection Required ---
	ChainID string `yaml:"chain_id"`
	OrgID   string `yaml:"org_id"`

	// TLS Connection Credentials
	UserKeyPath  string `yaml:"user_key_path"`
	UserCertPath string `yaml:"user_cert_path"`

	// Transaction Signing Credentials
	UserSignKeyPath  string `yaml:"user_sign_key_path"`
	UserSignCertPath string `yaml:"user_sign_cert_path"`

	Nodes []NodeConfig `yaml:"nodes"`

	// --- Business Logic Required ---
	ContractName         string `yaml:"contract_name"`
	CreateBatchMethod    string `yaml:"create_batch_method_name"`
	AddStageMethod       string `yaml:"add_stage_method_name"`
	QueryBatchMethod     string `yaml:"query_batch_method_name"`
	GetHistoryMethod     string `yaml:"get_history_method_name"`
	ParamKeyBatchCode    string `yaml:"param_key_batch_code"`
	ParamKeyFarmerName   string `yaml:"param_key_farmer_name"`
	ParamKeyCropType     string `yaml:"param_key_crop_type"`
	ParamKeyQuantity     string `yaml:"param_key_quantity"`
	ParamKeyImageHash    string `yaml:"param_key_image_hash"`
	ParamKeyLocation     string `yaml:"param_key_location"`
	ParamKeyStageName    string `yaml:"param_key_stage_name"`
}

// LoadChainMakerConfig loads ChainMaker configuration from the specified YAML file path
func LoadChainMakerConfig(path string) (*ChainMakerConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of ChainMaker config file: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ChainMaker config file '%s': %w", absPath, err)
	}

	var cfg ChainMakerConfig
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ChainMaker YAML config file: %w", err)
	}

	return &cfg, nil
}
