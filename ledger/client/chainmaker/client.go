package chainmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"graintrust/config"
	"graintrust/ledger/types"

	"chainmaker.org/chainmaker/pb-go/v2/common"
	sdk "chainmaker.org/chainmaker/sdk-go/v2"
)

// Client is the wrapper around the ChainMaker SDK client
type Client struct {
	sdkClient sdk.ChainClient
	cfg       *config.LedgerConfig
	logger    *log.Logger
}

// NewChainMakerClient initializes the ChainMaker SDK client with the combined configuration
func NewChainMakerClient(cfg *config.LedgerConfig, logger *log.Logger) (*Client, error) {
	logger.Println("Initializing ChainMaker SDK client using builder pattern...")

	// Extract ChainMaker-specific configuration
	chainmakerCfg, ok := cfg.ChainSpecific.(*ChainMakerConfig)
	if !ok {
		return nil, fmt.Errorf("invalid ChainMaker configuration type")
	}

	var clientOptions []sdk.ChainClientOption
	clientOptions = append(clientOptions, sdk.WithChainClientOrgId(chainmakerCfg.OrgID))
	clientOptions = append(clientOptions, sdk.WithChainClientChainId(chainmakerCfg.ChainID))
	clientOptions = append(clientOptions, sdk.WithUserKeyFilePath(chainmakerCfg.UserKeyPath))
	clientOptions = append(clientOptions, sdk.WithUserCrtFilePath(chainmakerCfg.UserCertPath))
	clientOptions = append(clientOptions, sdk.WithUserSignKeyFilePath(chainmakerCfg.UserSignKeyPath))
	clientOptions = append(clientOptions, sdk.WithUserSignCrtFilePath(chainmakerCfg.UserSignCertPath))

	if len(chainmakerCfg.Nodes) == 0 {
		return nil, fmt.Errorf("no node configurations provided in config")
	}
	for _, nodeCfg := range chainmakerCfg.Nodes {
		if nodeCfg.UseTLS && len(nodeCfg.CaPaths) == 0 {
			return nil, fmt.Errorf("node %s has TLS enabled but no CaPaths provided", nodeCfg.Address)
		}
		sdkNodeConfig := sdk.NewNodeConfig(
			sdk.WithNodeAddr(nodeCfg.Address),
			sdk.WithNodeConnCnt(nodeCfg.ConnCount),
			sdk.WithNodeUseTLS(nodeCfg.UseTLS),
			sdk.WithNodeCAPaths(nodeCfg.CaPaths),
			sdk.WithNodeTLSHostName(nodeCfg.TLSHostName),
		)
		clientOptions = append(clientOptions, sdk.AddChainClientNodeConfig(sdkNodeConfig))
	}

	// Apply common configuration (retry, timeout, etc.)
	if cfg.RetryLimit > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryLimit(cfg.RetryLimit))
	}
	if cfg.RetryInterval > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryInterval(cfg.RetryInterval))
	}

	client, err := sdk.NewChainClient(clientOptions...)
	if err != nil {
		logger.Printf("Failed to build ChainMaker SDK client: %v\n", err)
		return nil, err
	}

	err = client.EnableCertHash()
	if err != nil {
		logger.Printf("Warning: Failed to enable cert hash: %v\n", err)
	}

	logger.Println("ChainMaker SDK client initialized successfully.")

	return &Client{
		sdkClient: *client,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Config returns the configuration associated with the client.
func (c *Client) Config() any {
	if c.cfg == nil || c.cfg.ChainSpecific == nil {
		log.Println("Warning: Accessing client config before initialization.")
		return &ChainMakerConfig{} // Return empty config to avoid nil pointer panic
	}
	return c.cfg.ChainSpecific
}

// Close stops the SDK client
func (c *Client) Close() error {
	c.logger.Println("Closing ChainMaker SDK client...")
	if err := c.sdkClient.Stop(); err != nil {
		c.logger.Printf("Error stopping ChainMaker SDK client: %v", err)
		return fmt.Errorf("failed to stop ChainMaker SDK client: %w", err)
	}
	return nil
}

func (c *Client) chainCfg() *ChainMakerConfig {
	return c.cfg.ChainSpecific.(*ChainMakerConfig)
}

// timeoutSeconds is the bounded per-transaction timeout passed to the SDK.
func (c *Client) timeoutSeconds() int64 {
	return int64(c.cfg.TimeoutSeconds)
}

// CreateBatch submits the create-batch transaction carrying the batch code,
// farmer display name, product and quantity descriptors, the fingerprint of
// the first stage's first evidence item, and the location descriptor.
func (c *Client) CreateBatch(ctx context.Context, req *types.CreateBatchRequest) (*types.TxProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := c.chainCfg()
	kvs := []*common.KeyValuePair{
		{Key: cfg.ParamKeyBatchCode, Value: []byte(req.BatchCode)},
		{Key: cfg.ParamKeyFarmerName, Value: []byte(req.FarmerName)},
		{Key: cfg.ParamKeyCropType, Value: []byte(req.CropType)},
		{Key: cfg.ParamKeyQuantity, Value: []byte(req.Quantity)},
		{Key: cfg.ParamKeyImageHash, Value: []byte(req.ImageHash)},
		{Key: cfg.ParamKeyLocation, Value: []byte(req.Location)},
		{Key: cfg.ParamKeyStageName, Value: []byte(req.StageName)},
	}

	resp, err := c.sdkClient.InvokeContract(cfg.ContractName, cfg.CreateBatchMethod, "", kvs, c.timeoutSeconds(), true)
	if err != nil {
		return nil, fmt.Errorf("SDK invoke failed: %w", err)
	}
	if resp.Code != common.TxStatusCode_SUCCESS {
		if strings.Contains(resp.Message, "already exists") {
			return nil, fmt.Errorf("create batch %s: %w", req.BatchCode, types.ErrDuplicate)
		}
		return nil, fmt.Errorf("contract execution failed: %s (code: %d)", resp.Message, resp.Code)
	}

	return &types.TxProof{TransactionID: resp.TxId, BlockHeight: resp.TxBlockHeight}, nil
}

// AddStage submits an add-stage transaction for an existing batch
func (c *Client) AddStage(ctx context.Context, req *types.AddStageRequest) (*types.TxProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := c.chainCfg()
	kvs := []*common.KeyValuePair{
		{Key: cfg.ParamKeyBatchCode, Value: []byte(req.BatchCode)},
		{Key: cfg.ParamKeyStageName, Value: []byte(req.StageName)},
		{Key: cfg.ParamKeyImageHash, Value: []byte(req.ImageHash)},
		{Key: cfg.ParamKeyLocation, Value: []byte(req.Location)},
	}

	resp, err := c.sdkClient.InvokeContract(cfg.ContractName, cfg.AddStageMethod, "", kvs, c.timeoutSeconds(), true)
	if err != nil {
		return nil, fmt.Errorf("SDK invoke failed: %w", err)
	}
	if resp.Code != common.TxStatusCode_SUCCESS {
		return nil, fmt.Errorf("contract execution failed: %s (code: %d)", resp.Message, resp.Code)
	}

	return &types.TxProof{TransactionID: resp.TxId, BlockHeight: resp.TxBlockHeight}, nil
}

// QueryBatch queries the contract for the full batch record
func (c *Client) QueryBatch(ctx context.Context, batchCode string) (*types.BatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := c.chainCfg()
	kvs := []*common.KeyValuePair{{Key: cfg.ParamKeyBatchCode, Value: []byte(batchCode)}}

	resp, err := c.sdkClient.QueryContract(cfg.ContractName, cfg.QueryBatchMethod, kvs, c.timeoutSeconds())
	if err != nil {
		return nil, fmt.Errorf("SDK query failed: %w", err)
	}
	if resp.Code != common.TxStatusCode_SUCCESS {
		if strings.Contains(resp.Message, "does not exist") || strings.Contains(resp.Message, "not found") {
			return nil, fmt.Errorf("query batch %s: %w", batchCode, types.ErrNotFound)
		}
		return nil, fmt.Errorf("contract query failed: %s (code: %d)", resp.Message, resp.Code)
	}
	if resp.ContractResult == nil || len(resp.ContractResult.Result) == 0 {
		return nil, fmt.Errorf("query batch %s: %w", batchCode, types.ErrNotFound)
	}

	var record types.BatchRecord
	if err := json.Unmarshal(resp.ContractResult.Result, &record); err != nil {
		c.logger.Printf("Failed to unmarshal batch record JSON (TxID: %s). Raw result: %s", resp.TxId, string(resp.ContractResult.Result))
		return nil, fmt.Errorf("failed to unmarshal batch record: %w", err)
	}
	return &record, nil
}

// GetHistory queries the contract for a batch's transaction history
func (c *Client) GetHistory(ctx context.Context, batchCode string) ([]types.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := c.chainCfg()
	kvs := []*common.KeyValuePair{{Key: cfg.ParamKeyBatchCode, Value: []byte(batchCode)}}

	resp, err := c.sdkClient.QueryContract(cfg.ContractName, cfg.GetHistoryMethod, kvs, c.timeoutSeconds())
	if err != nil {
		return nil, fmt.Errorf("SDK query failed: %w", err)
	}
	if resp.Code != common.TxStatusCode_SUCCESS {
		return nil, fmt.Errorf("contract query failed: %s (code: %d)", resp.Message, resp.Code)
	}

	var history []types.HistoryEntry
	if len(resp.ContractResult.Result) > 0 {
		if err := json.Unmarshal(resp.ContractResult.Result, &history); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch history: %w", err)
		}
	}
	return history, nil
}
