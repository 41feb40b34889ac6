package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"ExchangeMCP-Chain/internal/config"
	xerrors "ExchangeMCP-Chain/internal/errors"
	"ExchangeMCP-Chain/internal/exchange"
	"ExchangeMCP-Chain/internal/web3/ethereum"
	"ExchangeMCP-Chain/pkg/logger"
)

// Session owns the ledger connection established at start-up.
type Session struct {
	Deployment string
	Ledger     *exchange.Ledger
	client     *ethereum.Client
}

// Connect dials the configured node, builds the signer and binds the pool and
// token contracts. Any failure is an INITIALIZATION_FAILURE: the caller should
// abort start-up rather than register tools against a half-built ledger.
func Connect(ctx context.Context, cfg config.LedgerConfig) (*Session, error) {
	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:           cfg.Deployment,
		RPCURL:         cfg.RPCURL,
		ConfirmTimeout: cfg.ConfirmTimeout(),
	})
	if err != nil {
		return nil, initFailure(err, "连接链节点失败")
	}
	session, err := Bind(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return session, nil
}

// Bind builds a session on top of an existing client.
func Bind(ctx context.Context, client *ethereum.Client, cfg config.LedgerConfig) (*Session, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}
	chainID := client.ChainID()
	if cfg.ChainID != 0 && (chainID == nil || chainID.Int64() != cfg.ChainID) {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链 ID 不匹配: 期望 %d, 节点返回 %v", cfg.ChainID, chainID))
	}

	pool, err := parseAddress("pool_address", cfg.PoolAddress)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token_address", cfg.TokenAddress)
	if err != nil {
		return nil, err
	}

	signer, err := buildSigner(cfg, client)
	if err != nil {
		return nil, err
	}

	for name, address := range map[string]common.Address{"流动性池": pool, "Token": token} {
		ok, err := client.HasCode(ctx, address)
		if err != nil {
			return nil, initFailure(err, fmt.Sprintf("检查%s合约失败", name))
		}
		if !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("%s地址 %s 上没有合约代码", name, address.Hex()))
		}
	}

	backend := client.Backend()
	ledger := &exchange.Ledger{
		Signer:        signer.Address(),
		Token:         ethereum.NewTokenContract(token, backend, signer),
		Pool:          ethereum.NewPoolContract(pool, backend, signer),
		Chain:         client,
		TokenDecimals: decimalsOrDefault(cfg.TokenDecimals),
		BaseDecimals:  decimalsOrDefault(cfg.BaseDecimals),
	}
	if err := ledger.Validate(); err != nil {
		return nil, err
	}

	logger.Named("provider").Info("链上上下文已就绪",
		slog.String("deployment", client.Name()),
		slog.String("chain_id", chainID.String()),
		slog.String("signer", ledger.Signer.Hex()),
		slog.String("pool", pool.Hex()),
		slog.String("token", token.Hex()),
	)
	return &Session{Deployment: client.Name(), Ledger: ledger, client: client}, nil
}

// Close releases the node connection.
func (s *Session) Close() {
	if s == nil || s.client == nil {
		return
	}
	s.client.Close()
}

func buildSigner(cfg config.LedgerConfig, client *ethereum.Client) (*ethereum.Signer, error) {
	switch {
	case strings.TrimSpace(cfg.PrivateKey) != "":
		return ethereum.NewKeySigner(cfg.PrivateKey, client.ChainID())
	case strings.TrimSpace(cfg.KeystorePath) != "":
		return ethereum.NewKeystoreSigner(cfg.KeystorePath, cfg.KeystorePassword, client.ChainID())
	default:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签名者: 需要 private_key 或 keystore_path")
	}
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("未配置 %s", field))
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("%s 不是有效的地址: %s", field, value))
	}
	return common.HexToAddress(value), nil
}

func decimalsOrDefault(value int) int {
	if value == 0 {
		return exchange.DefaultDecimals
	}
	return value
}

func initFailure(err error, message string) error {
	if xerrors.CodeOf(err) == xerrors.CodeInitializationFailure {
		return err
	}
	return xerrors.Wrap(xerrors.CodeInitializationFailure, err, message)
}
