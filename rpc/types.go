package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"otcswap/native/otc"
)

// SwapResult is the JSON shape of a swap record. Amounts are decimal strings
// so values beyond the float64 range survive serialization.
type SwapResult struct {
	ID           uint64 `json:"id"`
	Initiator    string `json:"initiator"`
	Counterparty string `json:"counterparty,omitempty"`
	AssetA       string `json:"assetA"`
	AssetB       string `json:"assetB"`
	AmountA      string `json:"amountA"`
	AmountB      string `json:"amountB"`
	CreatedAt    int64  `json:"createdAt"`
	ExpiresAt    int64  `json:"expiresAt"`
	ResolvedAt   int64  `json:"resolvedAt,omitempty"`
	Status       string `json:"status"`
	Expired      bool   `json:"expired"`
}

func swapResult(s *otc.Swap, now int64) SwapResult {
	result := SwapResult{
		ID:         s.ID,
		Initiator:  formatAddress(s.Initiator),
		AssetA:     formatAddress(s.AssetA),
		AssetB:     formatAddress(s.AssetB),
		AmountA:    decimalString(s.AmountA),
		AmountB:    decimalString(s.AmountB),
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		ResolvedAt: s.ResolvedAt,
		Status:     s.Status.String(),
		Expired:    s.IsExpired(now),
	}
	if s.Counterparty != ([20]byte{}) {
		result.Counterparty = formatAddress(s.Counterparty)
	}
	return result
}

// MarketDataResult is the JSON shape of an aggregated order book. Prices are
// decimal strings scaled by 10^18.
type MarketDataResult struct {
	Token           string `json:"token"`
	SellOrders      int    `json:"sellOrders"`
	BuyOrders       int    `json:"buyOrders"`
	LowestSellPrice string `json:"lowestSellPrice"`
	HighestBuyPrice string `json:"highestBuyPrice"`
	Volume          string `json:"volume"`
}

func formatAddress(addr [20]byte) string {
	return ethcommon.BytesToAddress(addr[:]).Hex()
}

func decimalString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	raw = strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(raw) {
		return out, fmt.Errorf("invalid address %q", raw)
	}
	copy(out[:], ethcommon.HexToAddress(raw).Bytes())
	return out, nil
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	return amount, nil
}

// decodeParams unmarshals the first params entry into dst.
func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("parameter object required")
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
