package exchange

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	testSigner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testToken  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testPool   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// spyLedger 同时实现 Token、Pool 与 Chain，记录每次调用。
type spyLedger struct {
	mu sync.Mutex

	allowance    *big.Int
	allowances   []*big.Int // 依次返回，耗尽后回落到 allowance
	allowanceErr error
	approveErr   error
	submitErr    error
	reserve      *big.Int
	reserveErr   error
	balance      *big.Int
	balanceErr   error
	waitErrs     map[string]error // 按调用名称（approve / addLiquidity / tokenToEthSwap）覆盖等待结果

	calls      []string
	approvals  []*big.Int
	deposits   [][2]*big.Int
	swaps      [][2]*big.Int
	nonce      uint64
	txKinds    map[common.Hash]string
	approvedTo []common.Address
}

func newSpyLedger() *spyLedger {
	return &spyLedger{
		allowance: new(big.Int),
		reserve:   new(big.Int),
		balance:   new(big.Int),
		waitErrs:  map[string]error{},
		txKinds:   map[common.Hash]string{},
	}
}

func (s *spyLedger) ledger() *Ledger {
	return &Ledger{
		Signer:        testSigner,
		Token:         s,
		Pool:          poolView{s},
		Chain:         s,
		TokenDecimals: DefaultDecimals,
		BaseDecimals:  DefaultDecimals,
	}
}

func (s *spyLedger) record(name string) {
	s.calls = append(s.calls, name)
}

func (s *spyLedger) newTx(kind string) *types.Transaction {
	s.nonce++
	tx := types.NewTx(&types.LegacyTx{Nonce: s.nonce, GasPrice: big.NewInt(1), Gas: 21000})
	s.txKinds[tx.Hash()] = kind
	return tx
}

func (s *spyLedger) Address() common.Address { return testToken }

func (s *spyLedger) Allowance(_ context.Context, _, _ common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("allowance")
	if s.allowanceErr != nil {
		return nil, s.allowanceErr
	}
	if len(s.allowances) > 0 {
		next := s.allowances[0]
		s.allowances = s.allowances[1:]
		return new(big.Int).Set(next), nil
	}
	return new(big.Int).Set(s.allowance), nil
}

func (s *spyLedger) Approve(_ context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("approve")
	if s.approveErr != nil {
		return nil, s.approveErr
	}
	s.approvals = append(s.approvals, new(big.Int).Set(amount))
	s.approvedTo = append(s.approvedTo, spender)
	return s.newTx("approve"), nil
}

func (s *spyLedger) BalanceAt(_ context.Context, _ common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("balance")
	if s.balanceErr != nil {
		return nil, s.balanceErr
	}
	return new(big.Int).Set(s.balance), nil
}

func (s *spyLedger) WaitConfirmed(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := s.txKinds[tx.Hash()]
	s.record("wait:" + kind)
	if err := s.waitErrs[kind]; err != nil {
		return nil, err
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

func (s *spyLedger) primaryCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deposits) + len(s.swaps)
}

func (s *spyLedger) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// poolView 把池子相关方法与 Token 的 Address 区分开。
type poolView struct{ s *spyLedger }

func (p poolView) Address() common.Address { return testPool }

func (p poolView) AddLiquidity(_ context.Context, tokenAmount, value *big.Int) (*types.Transaction, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.record("addLiquidity")
	if p.s.submitErr != nil {
		return nil, p.s.submitErr
	}
	p.s.deposits = append(p.s.deposits, [2]*big.Int{new(big.Int).Set(tokenAmount), new(big.Int).Set(value)})
	return p.s.newTx("addLiquidity"), nil
}

func (p poolView) TokenToEthSwap(_ context.Context, tokensIn, minBaseOut *big.Int) (*types.Transaction, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.record("tokenToEthSwap")
	if p.s.submitErr != nil {
		return nil, p.s.submitErr
	}
	p.s.swaps = append(p.s.swaps, [2]*big.Int{new(big.Int).Set(tokensIn), new(big.Int).Set(minBaseOut)})
	return p.s.newTx("tokenToEthSwap"), nil
}

func (p poolView) Reserve(_ context.Context) (*big.Int, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.record("reserve")
	if p.s.reserveErr != nil {
		return nil, p.s.reserveErr
	}
	return new(big.Int).Set(p.s.reserve), nil
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
