package chain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	vaultAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenAddr   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	spenderAddr = common.HexToAddress("0x0000000000001ff3684f28c67538d4d072c22734")
	operator    = common.HexToAddress("0x00000000000000000000000000000000000000e0")
)

type fakeBackend struct {
	mu sync.Mutex

	vault       common.Address
	balance     *big.Int
	allowance   *big.Int
	estimateErr error
	sendErr     error
	pending     uint64
	receiptMiss int

	sent        []*types.Transaction
	nonceReads  int
	receiptHits int
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	sel := call.Data[:4]
	switch {
	case bytes.Equal(sel, factoryABI.Methods["vaults"].ID):
		return factoryABI.Methods["vaults"].Outputs.Pack(f.vault)
	case bytes.Equal(sel, erc20ABI.Methods["balanceOf"].ID):
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(f.balance)
	case bytes.Equal(sel, erc20ABI.Methods["allowance"].ID):
		return erc20ABI.Methods["allowance"].Outputs.Pack(f.allowance)
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 180_000, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceReads++
	return f.pending, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(5_000_000)}, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptHits < f.receiptMiss {
		f.receiptHits++
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42), GasUsed: 150_000}, nil
}

type stubSigner struct{}

func (stubSigner) Address() common.Address { return operator }
func (stubSigner) ChainID() *big.Int       { return big.NewInt(8453) }
func (stubSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string  { return e.msg }
func (e dataError) ErrorData() any { return e.data }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveVault(t *testing.T) {
	backend := &fakeBackend{vault: vaultAddr}
	reg := NewVaultRegistry(backend, factoryAddr)

	got, err := reg.ResolveVault(context.Background(), ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, vaultAddr, got)

	backend.vault = common.Address{}
	_, err = reg.ResolveVault(context.Background(), ownerAddr)
	assert.ErrorIs(t, err, ErrNoVault)
	assert.ErrorIs(t, err, domain.ErrNoVault)
}

func TestBalanceAndAllowance(t *testing.T) {
	backend := &fakeBackend{balance: big.NewInt(5_000_000), allowance: big.NewInt(7)}
	op := NewVaultOperator(backend, stubSigner{}, OperatorConfig{}, discardLogger())

	bal, err := op.BalanceOf(context.Background(), tokenAddr, vaultAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), bal.Int64())

	allow, err := op.Allowance(context.Background(), tokenAddr, vaultAddr, spenderAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(7), allow.Int64())
}

func TestSendExecuteNonceSequencing(t *testing.T) {
	backend := &fakeBackend{pending: 9}
	op := NewVaultOperator(backend, stubSigner{}, OperatorConfig{}, discardLogger())
	call := domain.VaultCall{Target: spenderAddr, Value: big.NewInt(0), Data: []byte{0x01}}

	for i := 0; i < 3; i++ {
		_, err := op.SendExecute(context.Background(), vaultAddr, call, 500_000)
		require.NoError(t, err)
	}
	require.Len(t, backend.sent, 3)
	for i, tx := range backend.sent {
		assert.Equal(t, uint64(9+i), tx.Nonce())
		assert.Equal(t, uint64(500_000), tx.Gas())
		assert.Equal(t, vaultAddr, *tx.To())
		assert.Equal(t, big.NewInt(11_000_000), tx.GasFeeCap())
	}
	assert.Equal(t, 1, backend.nonceReads)

	// A failed send forces a fresh nonce read.
	backend.sendErr = errors.New("nonce too low")
	_, err := op.SendExecute(context.Background(), vaultAddr, call, 500_000)
	require.Error(t, err)
	backend.sendErr = nil
	_, err = op.SendExecute(context.Background(), vaultAddr, call, 500_000)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.nonceReads)
}

func TestSendExecuteEncodesCall(t *testing.T) {
	backend := &fakeBackend{}
	op := NewVaultOperator(backend, stubSigner{}, OperatorConfig{}, discardLogger())
	approve, err := EncodeApprove(spenderAddr, MaxUint256)
	require.NoError(t, err)

	_, err = op.SendExecute(context.Background(), vaultAddr,
		domain.VaultCall{Target: tokenAddr, Data: approve}, 200_000)
	require.NoError(t, err)

	data := backend.sent[0].Data()
	assert.Equal(t, vaultABI.Methods["execute"].ID, data[:4])
	args, err := vaultABI.Methods["execute"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, tokenAddr, args[0].(common.Address))
	assert.Zero(t, args[1].(*big.Int).Sign())
	assert.Equal(t, approve, args[2].([]byte))
}

func TestEstimateExecuteRevertDiagnostic(t *testing.T) {
	stringTy, _ := abi.NewType("string", "", nil)
	payload, err := abi.Arguments{{Type: stringTy}}.Pack("insufficient output")
	require.NoError(t, err)
	revert := append([]byte{0x08, 0xc3, 0x79, 0xa0}, payload...)

	backend := &fakeBackend{estimateErr: dataError{msg: "execution reverted", data: hexutil.Encode(revert)}}
	op := NewVaultOperator(backend, stubSigner{}, OperatorConfig{}, discardLogger())

	_, err = op.EstimateExecute(context.Background(), vaultAddr, domain.VaultCall{Target: spenderAddr})
	var rev *RevertError
	require.ErrorAs(t, err, &rev)
	assert.Equal(t, "insufficient output", rev.Reason)
	assert.Contains(t, err.Error(), "insufficient output")
}

func TestWaitMinedPolls(t *testing.T) {
	backend := &fakeBackend{receiptMiss: 2}
	op := NewVaultOperator(backend, stubSigner{}, OperatorConfig{PollInterval: time.Millisecond}, discardLogger())

	hash := common.HexToHash("0x01")
	rcpt, err := op.WaitMined(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, rcpt.Succeeded())
	assert.Equal(t, uint64(42), rcpt.BlockNumber)
	assert.Equal(t, 2, backend.receiptHits)
}

func TestWaitMinedTimeout(t *testing.T) {
	backend := &fakeBackend{receiptMiss: 1 << 30}
	op := NewVaultOperator(backend, stubSigner{}, OperatorConfig{
		PollInterval:   time.Millisecond,
		ConfirmTimeout: 20 * time.Millisecond,
	}, discardLogger())

	_, err := op.WaitMined(context.Background(), common.HexToHash("0x02"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitMinedTimeoutResyncsNonce(t *testing.T) {
	backend := &fakeBackend{pending: 4, receiptMiss: 1 << 30}
	op := NewVaultOperator(backend, stubSigner{}, OperatorConfig{
		PollInterval:   time.Millisecond,
		ConfirmTimeout: 10 * time.Millisecond,
	}, discardLogger())
	call := domain.VaultCall{Target: spenderAddr, Data: []byte{0x01}}

	hash, err := op.SendExecute(context.Background(), vaultAddr, call, 100_000)
	require.NoError(t, err)
	_, err = op.WaitMined(context.Background(), hash)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The node dropped the tx: its pending nonce never advanced.
	_, err = op.SendExecute(context.Background(), vaultAddr, call, 100_000)
	require.NoError(t, err)

	require.Len(t, backend.sent, 2)
	assert.Equal(t, uint64(4), backend.sent[1].Nonce())
	assert.Equal(t, 2, backend.nonceReads)
}
