// Package onchain reads wallet balances from an EVM chain and values them in
// USD for exposure aggregation.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// balanceOfSelector is the 4-byte selector of ERC-20 balanceOf(address).
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

var usdStablecoins = map[string]bool{"USDC": true, "USDT": true, "DAI": true, "USDC.E": true}

// ChainReader is the subset of ethclient used here.
type ChainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Token is an ERC-20 token whose balance counts as spot exposure.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	// PriceSymbol is the mid-price key; defaults to Symbol.
	PriceSymbol string
}

// BalanceReader implements domain.BalanceSource for the native coin and a
// fixed token list.
type BalanceReader struct {
	chain        ChainReader
	prices       domain.PriceSource
	nativeSymbol string
	tokens       []Token
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial: %w", err)
	}
	return client, nil
}

// NewBalanceReader creates a reader. nativeSymbol may be empty to skip the
// native balance.
func NewBalanceReader(chain ChainReader, prices domain.PriceSource, nativeSymbol string, tokens []Token) *BalanceReader {
	return &BalanceReader{
		chain:        chain,
		prices:       prices,
		nativeSymbol: strings.ToUpper(nativeSymbol),
		tokens:       tokens,
	}
}

// Balances reads every configured balance of account. Zero balances are
// omitted. A token whose price is unknown is reported with zero value.
func (r *BalanceReader) Balances(ctx context.Context, account string) ([]domain.AssetBalance, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("onchain: invalid account %q", account)
	}
	owner := common.HexToAddress(account)

	mids, err := r.prices.Mids(ctx)
	if err != nil {
		return nil, fmt.Errorf("onchain: prices: %w", err)
	}

	var out []domain.AssetBalance
	if r.nativeSymbol != "" {
		wei, err := r.chain.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("onchain: native balance: %w", err)
		}
		if b, ok := valued(r.nativeSymbol, r.nativeSymbol, wei, 18, mids); ok {
			out = append(out, b)
		}
	}

	for _, tok := range r.tokens {
		raw, err := r.balanceOf(ctx, tok.Address, owner)
		if err != nil {
			return nil, fmt.Errorf("onchain: %s balance: %w", tok.Symbol, err)
		}
		priceSym := tok.PriceSymbol
		if priceSym == "" {
			priceSym = tok.Symbol
		}
		if b, ok := valued(tok.Symbol, priceSym, raw, tok.Decimals, mids); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *BalanceReader) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	res, err := r.chain.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(res) < 32 {
		return nil, fmt.Errorf("short balanceOf result (%d bytes)", len(res))
	}
	return new(big.Int).SetBytes(res[:32]), nil
}

func valued(symbol, priceSymbol string, raw *big.Int, decimals int32, mids map[string]float64) (domain.AssetBalance, bool) {
	if raw == nil || raw.Sign() == 0 {
		return domain.AssetBalance{}, false
	}
	amount := decimal.NewFromBigInt(raw, -decimals)
	sym := strings.ToUpper(symbol)
	px := decimal.NewFromFloat(mids[strings.ToUpper(priceSymbol)])
	if usdStablecoins[sym] {
		px = decimal.NewFromInt(1)
	}
	return domain.AssetBalance{
		Symbol:   sym,
		Source:   domain.BalanceSpot,
		Amount:   amount.InexactFloat64(),
		ValueUSD: amount.Mul(px).Round(8).InexactFloat64(),
	}, true
}

var _ domain.BalanceSource = (*BalanceReader)(nil)
