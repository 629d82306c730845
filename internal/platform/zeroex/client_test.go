package zeroex

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	usdc  = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	aave  = common.HexToAddress("0x63706e401c06ac8513145b7687A14804d17f814b")
	vault = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/allowance-holder/quote", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("0x-api-key"))
		assert.Equal(t, "v2", r.Header.Get("0x-version"))
		q := r.URL.Query()
		assert.Equal(t, "8453", q.Get("chainId"))
		assert.Equal(t, usdc.Hex(), q.Get("sellToken"))
		assert.Equal(t, aave.Hex(), q.Get("buyToken"))
		assert.Equal(t, "2000000", q.Get("sellAmount"))
		assert.Equal(t, vault.Hex(), q.Get("taker"))
		_, _ = w.Write([]byte(`{
			"liquidityAvailable": true,
			"buyAmount": "19000000000000000",
			"transaction": {"to": "0x0000000000001ff3684f28c67538d4d072c22734", "data": "0xdeadbeef", "value": "0", "gas": "210000"},
			"issues": {"allowance": {"spender": "0x0000000000001ff3684f28c67538d4d072c22734", "actual": "0"}}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", ChainID: 8453})
	quote, err := c.Quote(context.Background(), QuoteRequest{
		SellToken: usdc, BuyToken: aave, SellAmount: big.NewInt(2_000_000), Taker: vault,
	})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x0000000000001ff3684f28c67538d4d072c22734"), quote.Transaction.To)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, quote.Transaction.Data)
	assert.Zero(t, quote.Transaction.Value.Sign())
	assert.Equal(t, uint64(210000), quote.Transaction.Gas)
	assert.Equal(t, "19000000000000000", quote.BuyAmount.String())
	assert.Equal(t, quote.Transaction.To, quote.AllowanceTarget)
}

func TestQuoteNoLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"liquidityAvailable": false}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL, ChainID: 8453}).Quote(context.Background(), QuoteRequest{
		SellToken: usdc, BuyToken: aave, SellAmount: big.NewInt(1), Taker: vault,
	})
	assert.ErrorIs(t, err, ErrNoLiquidity)
}

func TestQuoteRejectsZeroAmount(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"})
	_, err := c.Quote(context.Background(), QuoteRequest{SellAmount: big.NewInt(0)})
	assert.Error(t, err)
}

func TestQuoteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"name":"INPUT_INVALID"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}).Quote(context.Background(), QuoteRequest{
		SellToken: usdc, BuyToken: aave, SellAmount: big.NewInt(5), Taker: vault,
	})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}
