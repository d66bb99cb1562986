package rpc

import (
	"errors"
	"net/http"

	"otcswap/native/registry"
	"otcswap/observability"
)

// scanResultJSON is the JSON shape of a batch validation outcome.
type scanResultJSON struct {
	NextCursor uint64 `json:"nextCursor"`
	Validated  int    `json:"validated"`
	Exhausted  bool   `json:"exhausted"`
}

type scanParams struct {
	StartID uint64 `json:"startId"`
	Count   uint64 `json:"count"`
	Budget  uint64 `json:"budget"`
}

func (s *Server) handleValidateRange(w http.ResponseWriter, req *RPCRequest) {
	s.runScan(w, req, "validate_range", s.registry.ValidateRange)
}

func (s *Server) handleRecheckEmpty(w http.ResponseWriter, req *RPCRequest) {
	s.runScan(w, req, "recheck_empty", s.registry.RecheckEmpty)
}

func (s *Server) runScan(w http.ResponseWriter, req *RPCRequest, operation string, scan func(startID, count, budget uint64) (registry.ScanResult, error)) {
	var params scanParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	result, err := scan(params.StartID, params.Count, params.Budget)
	if err != nil {
		s.writeRegistryError(w, req.ID, err)
		return
	}
	if result.NextCursor > params.StartID {
		observability.SwapMetrics().RecordExamined(result.NextCursor - params.StartID)
	}
	s.logger.Info("registry scan", "operation", operation, "start", params.StartID, "next", result.NextCursor, "validated", result.Validated, "exhausted", result.Exhausted)
	s.persistRegistry()
	writeResult(w, req.ID, scanResultJSON{
		NextCursor: result.NextCursor,
		Validated:  result.Validated,
		Exhausted:  result.Exhausted,
	})
}

type submitTokenParams struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleSubmitToken(w http.ResponseWriter, req *RPCRequest) {
	var params submitTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	validated, err := s.registry.SubmitSingle(params.ID)
	if err != nil {
		s.writeRegistryError(w, req.ID, err)
		return
	}
	if validated {
		s.persistRegistry()
	}
	writeResult(w, req.ID, map[string]bool{"validated": validated})
}

type tokenFlagParams struct {
	Token string `json:"token"`
	Flag  bool   `json:"flag"`
}

func (s *Server) tokenFlag(w http.ResponseWriter, req *RPCRequest, apply func(token [20]byte, flag bool) error) {
	var params tokenFlagParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token address", err.Error())
		return
	}
	if err := apply(token, params.Flag); err != nil {
		s.writeRegistryError(w, req.ID, err)
		return
	}
	s.persistRegistry()
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleSetApproved(w http.ResponseWriter, req *RPCRequest) {
	s.tokenFlag(w, req, s.registry.SetApproved)
}

func (s *Server) handleSetBlacklisted(w http.ResponseWriter, req *RPCRequest) {
	s.tokenFlag(w, req, s.registry.SetBlacklisted)
}

type tokenParams struct {
	Token string `json:"token"`
}

func (s *Server) handleRemoveValidated(w http.ResponseWriter, req *RPCRequest) {
	var params tokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := parseAddress(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token address", err.Error())
		return
	}
	if err := s.registry.Remove(token); err != nil {
		s.writeRegistryError(w, req.ID, err)
		return
	}
	s.persistRegistry()
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleRegistryInfo(w http.ResponseWriter, req *RPCRequest) {
	validated := s.registry.ValidatedTokens()
	approved := s.registry.ApprovedTokens()
	validatedHex := make([]string, 0, len(validated))
	for _, token := range validated {
		validatedHex = append(validatedHex, formatAddress(token))
	}
	approvedHex := make([]string, 0, len(approved))
	for _, token := range approved {
		approvedHex = append(approvedHex, formatAddress(token))
	}
	writeResult(w, req.ID, map[string]interface{}{
		"validated":    validatedHex,
		"approved":     approvedHex,
		"lastExamined": s.registry.LastExamined(),
	})
}

type setPausedParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, req *RPCRequest) {
	var params setPausedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if params.Module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "module required", nil)
		return
	}
	s.flags.SetPaused(params.Module, params.Paused)
	s.logger.Warn("module pause flag changed", "module", params.Module, "paused", params.Paused)
	writeResult(w, req.ID, map[string]bool{"paused": params.Paused})
}

type setShutdownParams struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetShutdown(w http.ResponseWriter, req *RPCRequest) {
	var params setShutdownParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.flags.SetShutdown(params.Active)
	s.logger.Warn("shutdown flag changed", "active", params.Active)
	writeResult(w, req.ID, map[string]bool{"shutdown": params.Active})
}

func (s *Server) handlePrune(w http.ResponseWriter, req *RPCRequest) {
	pruned, err := s.engine.Prune(s.nowUnix())
	if err != nil {
		s.writeEngineError(w, req.ID, err)
		return
	}
	if s.archive != nil && len(pruned) > 0 {
		if err := s.archive.SaveSwaps(pruned); err != nil {
			s.logger.Error("failed to archive pruned swaps", "err", err)
		}
	}
	observability.SwapMetrics().RecordPruned(len(pruned))
	ids := make([]uint64, 0, len(pruned))
	for _, swap := range pruned {
		ids = append(ids, swap.ID)
	}
	writeResult(w, req.ID, map[string]interface{}{
		"pruned": len(pruned),
		"ids":    ids,
	})
}

func (s *Server) writeRegistryError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, registry.ErrAssetZero),
		errors.Is(err, registry.ErrNotListed),
		errors.Is(err, registry.ErrSanityCheck),
		errors.Is(err, registry.ErrBatchTooLarge),
		errors.Is(err, registry.ErrNotRecheckable):
		status = http.StatusBadRequest
		code = codeInvalidParams
	case errors.Is(err, registry.ErrOracleNotConfigured):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, id, code, err.Error(), nil)
}
