package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

// TokenABI covers the ERC20 methods the allowance guard needs.
const TokenABI = `[
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

// PoolABI covers the liquidity pool entry points.
const PoolABI = `[
	{"type":"function","name":"addLiquidity","stateMutability":"payable",
	 "inputs":[{"name":"amountOfToken","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenToEthSwap","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokensToSwap","type":"uint256"},{"name":"minEthToReceive","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"getReserve","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	tokenABI = mustParseABI(TokenABI)
	poolABI  = mustParseABI(PoolABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析 ABI 失败: %v", err))
	}
	return parsed
}

// Signer holds the transactor used for every ledger write.
type Signer struct {
	opts *bind.TransactOpts
}

// NewKeySigner builds a signer from a hex encoded secp256k1 private key.
func NewKeySigner(hexKey string, chainID *big.Int) (*Signer, error) {
	key, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建交易签名器失败")
	}
	return &Signer{opts: opts}, nil
}

// NewKeystoreSigner decrypts a keystore v3 JSON file.
func NewKeystoreSigner(path, password string, chainID *big.Int) (*Signer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取 keystore 文件失败")
	}
	defer file.Close()

	opts, err := bind.NewTransactorWithChainID(file, password, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解密 keystore 失败")
	}
	return &Signer{opts: opts}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签名私钥")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析签名私钥失败")
	}
	return key, nil
}

// Address returns the signing account.
func (s *Signer) Address() common.Address { return s.opts.From }

// WithGasLimit returns a copy that skips gas estimation and uses limit.
func (s *Signer) WithGasLimit(limit uint64) *Signer {
	opts := *s.opts
	opts.GasLimit = limit
	return &Signer{opts: &opts}
}

func (s *Signer) transactOpts(ctx context.Context, value *big.Int) *bind.TransactOpts {
	opts := *s.opts
	opts.Context = ctx
	opts.Value = value
	return &opts
}

// TokenContract binds the ERC20 token used by the pool.
type TokenContract struct {
	address  common.Address
	contract *bind.BoundContract
	signer   *Signer
}

// NewTokenContract binds the token at address.
func NewTokenContract(address common.Address, backend bind.ContractBackend, signer *Signer) *TokenContract {
	return &TokenContract{
		address:  address,
		contract: bind.NewBoundContract(address, tokenABI, backend, backend, backend),
		signer:   signer,
	}
}

// Address returns the token contract address.
func (t *TokenContract) Address() common.Address { return t.address }

// Allowance reads allowance(owner, spender).
func (t *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx, From: owner}, &out, "allowance", owner, spender); err != nil {
		return nil, classify(err, "查询授权额度失败")
	}
	return firstUint(out)
}

// Approve submits approve(spender, amount).
func (t *TokenContract) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*coretypes.Transaction, error) {
	tx, err := t.contract.Transact(t.signer.transactOpts(ctx, nil), "approve", spender, amount)
	if err != nil {
		return nil, classify(err, "提交授权交易失败")
	}
	return tx, nil
}

// PoolContract binds the liquidity pool.
type PoolContract struct {
	address  common.Address
	contract *bind.BoundContract
	signer   *Signer
}

// NewPoolContract binds the pool at address.
func NewPoolContract(address common.Address, backend bind.ContractBackend, signer *Signer) *PoolContract {
	return &PoolContract{
		address:  address,
		contract: bind.NewBoundContract(address, poolABI, backend, backend, backend),
		signer:   signer,
	}
}

// Address returns the pool contract address.
func (p *PoolContract) Address() common.Address { return p.address }

// AddLiquidity submits addLiquidity(tokenAmount) carrying value wei.
func (p *PoolContract) AddLiquidity(ctx context.Context, tokenAmount, value *big.Int) (*coretypes.Transaction, error) {
	tx, err := p.contract.Transact(p.signer.transactOpts(ctx, value), "addLiquidity", tokenAmount)
	if err != nil {
		return nil, classify(err, "提交添加流动性交易失败")
	}
	return tx, nil
}

// TokenToEthSwap submits tokenToEthSwap(tokensIn, minBaseOut).
func (p *PoolContract) TokenToEthSwap(ctx context.Context, tokensIn, minBaseOut *big.Int) (*coretypes.Transaction, error) {
	tx, err := p.contract.Transact(p.signer.transactOpts(ctx, nil), "tokenToEthSwap", tokensIn, minBaseOut)
	if err != nil {
		return nil, classify(err, "提交兑换交易失败")
	}
	return tx, nil
}

// Reserve reads getReserve().
func (p *PoolContract) Reserve(ctx context.Context) (*big.Int, error) {
	var out []any
	if err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReserve"); err != nil {
		return nil, classify(err, "读取 Token 储备失败")
	}
	return firstUint(out)
}

func firstUint(out []any) (*big.Int, error) {
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeLedgerRejection, "合约调用未返回结果")
	}
	value := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if value == nil {
		return new(big.Int), nil
	}
	return value, nil
}
