package onchain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

type fakeChain struct {
	native   *big.Int
	balances map[common.Address]*big.Int
	calls    []ethereum.CallMsg
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.native, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	bal, ok := f.balances[*msg.To]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return common.LeftPadBytes(bal.Bytes(), 32), nil
}

type fixedPrices map[string]float64

func (p fixedPrices) Mids(context.Context) (map[string]float64, error) { return p, nil }

var (
	owner = "0x1111111111111111111111111111111111111111"
	usdc  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	weth  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	arb   = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func TestBalances(t *testing.T) {
	ether := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	chain := &fakeChain{
		native: new(big.Int).Mul(big.NewInt(2), ether),
		balances: map[common.Address]*big.Int{
			usdc: big.NewInt(1_500_000_000), // 1500 USDC, 6 decimals
			weth: new(big.Int).Div(ether, big.NewInt(2)),
			arb:  big.NewInt(0),
		},
	}
	reader := NewBalanceReader(chain, fixedPrices{"ETH": 3000}, "eth", []Token{
		{Symbol: "USDC", Address: usdc, Decimals: 6},
		{Symbol: "WETH", Address: weth, Decimals: 18, PriceSymbol: "ETH"},
		{Symbol: "ARB", Address: arb, Decimals: 18},
	})

	balances, err := reader.Balances(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, balances, 3)

	assert.Equal(t, domain.AssetBalance{Symbol: "ETH", Source: domain.BalanceSpot, Amount: 2, ValueUSD: 6000}, balances[0])
	assert.Equal(t, domain.AssetBalance{Symbol: "USDC", Source: domain.BalanceSpot, Amount: 1500, ValueUSD: 1500}, balances[1])
	assert.Equal(t, domain.AssetBalance{Symbol: "WETH", Source: domain.BalanceSpot, Amount: 0.5, ValueUSD: 1500}, balances[2])

	require.Len(t, chain.calls, 3)
	data := chain.calls[0].Data
	require.Len(t, data, 36)
	assert.True(t, bytes.Equal([]byte{0x70, 0xa0, 0x82, 0x31}, data[:4]))
	assert.True(t, bytes.Equal(common.HexToAddress(owner).Bytes(), data[16:]))
}

func TestBalancesErrors(t *testing.T) {
	reader := NewBalanceReader(&fakeChain{native: big.NewInt(0)}, fixedPrices{}, "", []Token{
		{Symbol: "USDC", Address: usdc, Decimals: 6},
	})
	_, err := reader.Balances(context.Background(), owner)
	assert.ErrorContains(t, err, "USDC balance")

	_, err = reader.Balances(context.Background(), "not-an-address")
	assert.Error(t, err)
}
