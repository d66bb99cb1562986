package rpc

import (
	"errors"
	"net/http"

	"otcswap/native/bank"
	"otcswap/native/common"
	"otcswap/native/otc"
	"otcswap/observability"
)

type createSwapParams struct {
	From      string `json:"from"`
	AssetA    string `json:"assetA"`
	AmountA   string `json:"amountA"`
	AssetB    string `json:"assetB"`
	AmountB   string `json:"amountB"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (s *Server) handleCreateSwap(w http.ResponseWriter, req *RPCRequest) {
	var params createSwapParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	from, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	assetA, err := parseAddress(params.AssetA)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid assetA address", err.Error())
		return
	}
	assetB, err := parseAddress(params.AssetB)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid assetB address", err.Error())
		return
	}
	amountA, err := parseAmount(params.AmountA)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amountA", err.Error())
		return
	}
	amountB, err := parseAmount(params.AmountB)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amountB", err.Error())
		return
	}

	swap, err := s.engine.Create(from, assetA, amountA, assetB, amountB, params.ExpiresAt)
	observability.SwapMetrics().RecordOperation("create", err)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.logger.Info("swap created", "id", swap.ID, "initiator", params.From)
	writeResult(w, req.ID, swapResult(swap, swap.CreatedAt))
}

type swapActionParams struct {
	From string `json:"from"`
	ID   uint64 `json:"id"`
}

func (s *Server) swapAction(w http.ResponseWriter, req *RPCRequest, operation string, action func(caller [20]byte, id uint64) (*otc.Swap, error)) {
	var params swapActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", err.Error())
		return
	}
	swap, err := action(caller, params.ID)
	observability.SwapMetrics().RecordOperation(operation, err)
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	s.logger.Info("swap "+operation, "id", swap.ID, "caller", params.From)
	writeResult(w, req.ID, swapResult(swap, swap.ResolvedAt))
}

func (s *Server) handleAcceptSwap(w http.ResponseWriter, req *RPCRequest) {
	s.swapAction(w, req, "accept", s.engine.Accept)
}

func (s *Server) handleCancelSwap(w http.ResponseWriter, req *RPCRequest) {
	s.swapAction(w, req, "cancel", s.engine.Cancel)
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, req *RPCRequest) {
	s.swapAction(w, req, "emergency_withdraw", s.engine.EmergencyWithdraw)
}

type getSwapParams struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleGetSwap(w http.ResponseWriter, req *RPCRequest) {
	var params getSwapParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	swap, ok := s.engine.GetSwap(params.ID)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "swap not found", nil)
		return
	}
	writeResult(w, req.ID, swapResult(swap, s.nowUnix()))
}

func (s *Server) handleListActive(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, s.engine.ActiveSwaps())
}

type listByStatusParams struct {
	Mask  uint8 `json:"mask"`
	Limit int   `json:"limit"`
}

func (s *Server) handleListByStatus(w http.ResponseWriter, req *RPCRequest) {
	var params listByStatusParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	limit := clampLimit(params.Limit)
	writeResult(w, req.ID, s.engine.ByStatusMask(params.Mask, limit))
}

type listByTokenParams struct {
	Token      string `json:"token"`
	OnlyActive bool   `json:"onlyActive"`
	Limit      int    `json:"limit"`
}

func (s *Server) handleListByToken(w http.ResponseWriter, req *RPCRequest) {
	var params listByTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token address", err.Error())
		return
	}
	limit := clampLimit(params.Limit)
	writeResult(w, req.ID, s.engine.ByToken(token, params.OnlyActive, limit))
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleUserOpenSwaps(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	ids := s.engine.UserOpenSwaps(owner)
	if ids == nil {
		ids = []uint64{}
	}
	writeResult(w, req.ID, ids)
}

type marketDataParams struct {
	Token string `json:"token"`
}

func (s *Server) handleMarketData(w http.ResponseWriter, req *RPCRequest) {
	var params marketDataParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token address", err.Error())
		return
	}
	data := s.engine.MarketData(token)
	writeResult(w, req.ID, MarketDataResult{
		Token:           formatAddress(token),
		SellOrders:      data.SellOrders,
		BuyOrders:       data.BuyOrders,
		LowestSellPrice: decimalString(data.LowestSellPrice),
		HighestBuyPrice: decimalString(data.HighestBuyPrice),
		Volume:          decimalString(data.Volume),
	})
}

type balanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token address", err.Error())
		return
	}
	balance, err := s.ledger.BalanceOf(token, owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": formatAddress(owner),
		"token":   formatAddress(token),
		"balance": decimalString(balance),
	})
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > otc.DefaultMaxBatchRead {
		return otc.DefaultMaxBatchRead
	}
	return limit
}

func (s *Server) nowUnix() int64 {
	return s.engine.Now()
}

// writeEngineError maps domain errors onto stable RPC status codes so clients
// can distinguish caller mistakes from node faults.
func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, otc.ErrSwapNotFound):
		status = http.StatusNotFound
	case errors.Is(err, otc.ErrSwapNotOpen),
		errors.Is(err, otc.ErrSwapExpired),
		errors.Is(err, otc.ErrSelfTrade),
		errors.Is(err, otc.ErrNotInitiator),
		errors.Is(err, otc.ErrInvalidAsset),
		errors.Is(err, otc.ErrInvalidAmount),
		errors.Is(err, otc.ErrInvalidExpiry),
		errors.Is(err, otc.ErrExpiryTooFar),
		errors.Is(err, otc.ErrTokenNotEligible),
		errors.Is(err, otc.ErrTokenBlacklisted),
		errors.Is(err, otc.ErrAmountBelowMinimum),
		errors.Is(err, otc.ErrTooManyOpenSwaps),
		errors.Is(err, bank.ErrInsufficientBalance):
		status = http.StatusBadRequest
		code = codeInvalidParams
	case errors.Is(err, common.ErrModulePaused),
		errors.Is(err, common.ErrShutdownActive),
		errors.Is(err, common.ErrShutdownInactive):
		status = http.StatusConflict
	}
	writeError(w, status, id, code, err.Error(), nil)
}
