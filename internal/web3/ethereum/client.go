package ethereum

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/pkg/logger"
)

// DefaultConfirmTimeout bounds how long WaitConfirmed waits for a receipt.
const DefaultConfirmTimeout = 120 * time.Second

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name           string
	RPCURL         string
	ConfirmTimeout time.Duration
}

// Backend is the subset of an EVM node the exchange workflows rely on. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client wraps a go-ethereum backend and translates its failures into coded
// errors.
type Client struct {
	name           string
	rpcClient      *gethrpc.Client
	eth            *ethclient.Client
	backend        Backend
	chainID        *big.Int
	confirmTimeout time.Duration
	logger         *slog.Logger
	mu             sync.Mutex
}

// NewClient dials the configured RPC endpoint and resolves the chain id.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, classify(err, "连接以太坊节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, classify(err, "获取链 ID 失败")
	}

	client := newClient(cfg.Name, eth, cfg.ConfirmTimeout)
	client.rpcClient = rpcClient
	client.eth = eth
	client.chainID = chainID
	return client, nil
}

// NewBackendClient wraps an already connected backend, typically the
// go-ethereum simulated backend used in tests.
func NewBackendClient(ctx context.Context, name string, backend Backend, confirmTimeout time.Duration) (*Client, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "客户端缺少链访问后端")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, classify(err, "获取链 ID 失败")
	}
	client := newClient(name, backend, confirmTimeout)
	client.chainID = chainID
	return client, nil
}

func newClient(name string, backend Backend, confirmTimeout time.Duration) *Client {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	if name == "" {
		name = "default"
	}
	return &Client{
		name:           name,
		backend:        backend,
		confirmTimeout: confirmTimeout,
		logger:         logger.Named("ethereum").With(slog.String("chain", name)),
	}
}

// Name returns the configured deployment name.
func (c *Client) Name() string { return c.name }

// ChainID returns the chain id resolved at construction time.
func (c *Client) ChainID() *big.Int {
	if c.chainID == nil {
		return nil
	}
	return new(big.Int).Set(c.chainID)
}

// Backend exposes the contract backend for binding contracts.
func (c *Client) Backend() Backend { return c.backend }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

// BalanceAt returns the latest native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, classify(err, "查询余额失败")
	}
	return balance, nil
}

// HasCode reports whether a contract is deployed at address.
func (c *Client) HasCode(ctx context.Context, address common.Address) (bool, error) {
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return false, classify(err, "查询合约代码失败")
	}
	return len(code) > 0, nil
}

// WaitConfirmed blocks until tx is mined or the confirmation timeout expires.
// A receipt with a failed status is reported as LEDGER_REJECTED with the
// replayed revert reason when the node provides one.
func (c *Client) WaitConfirmed(ctx context.Context, tx *coretypes.Transaction) (*coretypes.Receipt, error) {
	if tx == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易不能为空")
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("等待交易 %s 确认失败", tx.Hash().Hex()))
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		c.logger.Debug("交易已确认",
			slog.String("tx_hash", tx.Hash().Hex()),
			slog.Uint64("block", receipt.BlockNumber.Uint64()),
			slog.Uint64("gas_used", receipt.GasUsed),
		)
		return receipt, nil
	}

	reason := c.replayRevert(ctx, tx, receipt)
	return receipt, xerrors.Wrap(xerrors.CodeLedgerRejection, reason, "交易执行失败",
		xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
}

// replayRevert re-executes a failed transaction as a call at its block to
// recover the revert reason.
func (c *Client) replayRevert(ctx context.Context, tx *coretypes.Transaction, receipt *coretypes.Receipt) error {
	fallback := fmt.Errorf("交易 %s 已回滚", tx.Hash().Hex())
	signer := coretypes.LatestSignerForChainID(tx.ChainId())
	from, err := coretypes.Sender(signer, tx)
	if err != nil {
		return fallback
	}
	msg := gethcore.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, callErr := c.backend.CallContract(ctx, msg, receipt.BlockNumber)
	if callErr == nil {
		return fallback
	}
	return reasonError(callErr)
}
