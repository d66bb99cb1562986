package otc

import "math/big"

// Status mask bits combined by ByStatusMask.
const (
	StatusFlagActive   uint8 = 1 << 0
	StatusFlagFilled   uint8 = 1 << 1
	StatusFlagCanceled uint8 = 1 << 2
	StatusFlagExpired  uint8 = 1 << 3
)

// priceScale is the fixed-point scale for implied unit prices: the ratio of
// the counterpart amount to the asset amount, scaled by 10^18.
var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MarketData aggregates the active order book for a single asset. When no
// active sell-side swap exists, LowestSellPrice is zero rather than a
// sentinel maximum.
type MarketData struct {
	SellOrders      int
	BuyOrders       int
	LowestSellPrice *big.Int
	HighestBuyPrice *big.Int
	Volume          *big.Int
}

// GetSwap returns the full record for an id, or false when unknown.
func (e *Engine) GetSwap(id uint64) (*Swap, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	swap, ok := e.state.SwapGet(id)
	if !ok {
		return nil, false
	}
	return swap.Clone(), true
}

// UserOpenSwaps returns the caller's open swap ids in index order.
func (e *Engine) UserOpenSwaps(owner [20]byte) []uint64 {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.List(owner)
}

// ActiveSwaps returns the ids of every open, unexpired swap. The scan walks
// all assigned ids and skips pruned records silently.
func (e *Engine) ActiveSwaps() []uint64 {
	return e.ByStatusMask(StatusFlagActive, 0)
}

// ByStatusMask returns swap ids whose effective status matches any of the
// supplied flag bits. An Open swap past its deadline matches Expired, not
// Active. A non-positive limit returns all matches.
func (e *Engine) ByStatusMask(mask uint8, limit int) []uint64 {
	if e == nil || e.state == nil || mask == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	counter := e.state.SwapCounter()
	var ids []uint64
	for id := uint64(1); id <= counter; id++ {
		if limit > 0 && len(ids) >= limit {
			break
		}
		swap, ok := e.state.SwapGet(id)
		if !ok {
			continue
		}
		if mask&e.statusFlag(swap, now) != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// ByToken returns swap ids trading the supplied asset on either leg. With
// onlyActive set, expired and terminal swaps are skipped.
func (e *Engine) ByToken(token [20]byte, onlyActive bool, limit int) []uint64 {
	if e == nil || e.state == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	counter := e.state.SwapCounter()
	var ids []uint64
	for id := uint64(1); id <= counter; id++ {
		if limit > 0 && len(ids) >= limit {
			break
		}
		swap, ok := e.state.SwapGet(id)
		if !ok {
			continue
		}
		if swap.AssetA != token && swap.AssetB != token {
			continue
		}
		if onlyActive && (swap.Status != SwapOpen || swap.IsExpired(now)) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// MarketData aggregates active swaps trading the asset: sell-side swaps offer
// the asset (asset A leg), buy-side swaps request it (asset B leg). Prices
// are the counterpart amount scaled by 10^18 and divided by the asset amount.
func (e *Engine) MarketData(token [20]byte) MarketData {
	data := MarketData{
		LowestSellPrice: big.NewInt(0),
		HighestBuyPrice: big.NewInt(0),
		Volume:          big.NewInt(0),
	}
	if e == nil || e.state == nil {
		return data
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	counter := e.state.SwapCounter()
	for id := uint64(1); id <= counter; id++ {
		swap, ok := e.state.SwapGet(id)
		if !ok {
			continue
		}
		if swap.Status != SwapOpen || swap.IsExpired(now) {
			continue
		}
		switch token {
		case swap.AssetA:
			data.SellOrders++
			data.Volume.Add(data.Volume, swap.AmountA)
			price := impliedPrice(swap.AmountB, swap.AmountA)
			if data.SellOrders == 1 || price.Cmp(data.LowestSellPrice) < 0 {
				data.LowestSellPrice = price
			}
		case swap.AssetB:
			data.BuyOrders++
			data.Volume.Add(data.Volume, swap.AmountB)
			price := impliedPrice(swap.AmountA, swap.AmountB)
			if price.Cmp(data.HighestBuyPrice) > 0 {
				data.HighestBuyPrice = price
			}
		}
	}
	return data
}

func (e *Engine) statusFlag(swap *Swap, now int64) uint8 {
	switch swap.Status {
	case SwapFilled:
		return StatusFlagFilled
	case SwapCanceled:
		return StatusFlagCanceled
	case SwapOpen:
		if swap.IsExpired(now) {
			return StatusFlagExpired
		}
		return StatusFlagActive
	default:
		return 0
	}
}

// impliedPrice computes counterpart*10^18/amount with full precision.
func impliedPrice(counterpart, amount *big.Int) *big.Int {
	if counterpart == nil || amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	price := new(big.Int).Mul(counterpart, priceScale)
	return price.Div(price, amount)
}
