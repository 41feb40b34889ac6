package ethereum

import (
	"context"
	stdErrors "errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "ExchangeMCP-Chain/internal/errors"
)

var connectivityMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"eof",
}

var rejectionMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"nonce too low",
	"replacement transaction underpriced",
	"gas required exceeds allowance",
	"intrinsic gas too low",
}

// classify 将 go-ethereum 返回的错误映射为统一错误码。已带错误码的错误原样返回。
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(codeFor(err), reasonError(err), message)
}

func codeFor(err error) xerrors.Code {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded), stdErrors.Is(err, context.Canceled):
		return xerrors.CodeTimeout
	}

	lower := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(lower, marker) {
			return xerrors.CodeLedgerRejection
		}
	}

	var rpcErr gethrpc.Error
	if stdErrors.As(err, &rpcErr) {
		return xerrors.CodeLedgerRejection
	}
	var httpErr gethrpc.HTTPError
	if stdErrors.As(err, &httpErr) {
		return xerrors.CodeConnectivity
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		if netErr.Timeout() {
			return xerrors.CodeTimeout
		}
		return xerrors.CodeConnectivity
	}
	for _, marker := range connectivityMarkers {
		if strings.Contains(lower, marker) {
			return xerrors.CodeConnectivity
		}
	}
	return xerrors.CodeLedgerRejection
}

// reasonError 在节点返回回滚数据时，把解码后的原因拼接到错误文本中。
func reasonError(err error) error {
	reason, ok := revertReason(err)
	if !ok || strings.Contains(err.Error(), reason) {
		return err
	}
	return &revertError{cause: err, reason: reason}
}

// revertReason 尝试从 rpc.DataError 中解码 Error(string) 回滚原因。
func revertReason(err error) (string, bool) {
	var dataErr gethrpc.DataError
	if !stdErrors.As(err, &dataErr) {
		return "", false
	}
	var raw []byte
	switch data := dataErr.ErrorData().(type) {
	case string:
		raw = common.FromHex(data)
	case []byte:
		raw = data
	default:
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(raw)
	if unpackErr != nil || reason == "" {
		return "", false
	}
	return reason, true
}

type revertError struct {
	cause  error
	reason string
}

func (e *revertError) Error() string { return "execution reverted: " + e.reason }

func (e *revertError) Unwrap() error { return e.cause }
