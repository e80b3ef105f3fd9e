package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/brojonat/symfeed/service/session"
	"github.com/brojonat/symfeed/service/symbol"
	"github.com/brojonat/symfeed/service/tracker"
	"github.com/brojonat/symfeed/service/transfer"
	"github.com/goccy/go-json"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxRecordsLimit    = 1000
)

// handleListRecords returns a handler that lists the tracked records,
// most recent first.
// GET /api/v1/records?limit=N
func handleListRecords(feed Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 || parsed > maxRecordsLimit {
				writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		records, err := feed.Records(r.Context())
		if err != nil {
			writeFeedError(w, logger, "failed to list records", err)
			return
		}
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}
		if records == nil {
			records = []tracker.Record{}
		}

		logger.Debug("records listed", "count", len(records))
		writeJSON(w, map[string]interface{}{
			"records": records,
			"count":   len(records),
		}, http.StatusOK)
	})
}

// handleGetRecord returns a handler that retrieves a single record by hash.
// GET /api/v1/records/{hash}
func handleGetRecord(feed Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := strings.ToUpper(strings.TrimSpace(r.PathValue("hash")))
		if hash == "" {
			writeError(w, "hash is required", http.StatusBadRequest)
			return
		}

		rec, ok, err := feed.Record(r.Context(), hash)
		if err != nil {
			writeFeedError(w, logger, "failed to get record", err)
			return
		}
		if !ok {
			writeError(w, "record not found", http.StatusNotFound)
			return
		}
		writeJSON(w, rec, http.StatusOK)
	})
}

// handleStatus returns a handler that summarizes the tracking session.
// GET /api/v1/status
func handleStatus(feed Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := feed.Status(r.Context())
		if err != nil {
			writeFeedError(w, logger, "failed to get status", err)
			return
		}
		writeJSON(w, st, http.StatusOK)
	})
}

// handleGetAccount returns a handler that reports the native balance of the
// tracked account.
// GET /api/v1/account
func handleGetAccount(feed Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bal, err := feed.Balance(r.Context())
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				writeError(w, "no account is being tracked", http.StatusNotFound)
				return
			}
			logger.Warn("failed to fetch balance", "error", err)
			writeError(w, "failed to fetch balance from node", http.StatusBadGateway)
			return
		}
		writeJSON(w, bal, http.StatusOK)
	})
}

// handleSwitchAccount returns a handler that starts tracking another account.
// The previous session and its records are discarded.
// PUT /api/v1/account
func handleSwitchAccount(feed Feed, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address string `json:"address"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if strings.TrimSpace(req.Address) == "" {
			writeError(w, "address is required", http.StatusBadRequest)
			return
		}
		if _, _, err := symbol.ParseAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		s, err := feed.SwitchAccount(req.Address)
		if err != nil {
			if errors.Is(err, symbol.ErrInvalidAddress) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Error("failed to switch account", "address", req.Address, "error", err)
			writeError(w, "failed to switch account", http.StatusInternalServerError)
			return
		}

		logger.Info("tracked account switched", "address", s.Address, "network", s.Network, "session_id", s.ID)
		writeJSON(w, map[string]interface{}{
			"session_id": s.ID,
			"address":    s.Address,
			"network":    s.Network,
			"endpoint":   s.Endpoint,
		}, http.StatusOK)
	})
}

// handleSubmitTransaction returns a handler that signs and announces a
// transaction payload. Each request is a single attempt.
// POST /api/v1/transactions
func handleSubmitTransaction(submitter Submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if submitter == nil {
			writeError(w, "no signer configured", http.StatusServiceUnavailable)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Payload string `json:"payload"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}

		res, err := submitter.Submit(r.Context(), req.Payload)
		switch {
		case err == nil:
			writeJSON(w, res, http.StatusAccepted)
		case errors.Is(err, transfer.ErrInvalidPayload):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, transfer.ErrSignFailed), errors.Is(err, transfer.ErrAnnounceFailed):
			writeError(w, err.Error(), http.StatusBadGateway)
		case errors.Is(err, session.ErrNoSession):
			writeError(w, "no account is being tracked", http.StatusConflict)
		default:
			logger.Error("transaction submission failed", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
		}
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, v interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Debug("failed to read request body", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		logger.Debug("failed to decode request body", "error", err)
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeFeedError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	if errors.Is(err, session.ErrNoSession) {
		writeError(w, "no account is being tracked", http.StatusNotFound)
		return
	}
	logger.Error(msg, "error", err)
	writeError(w, "internal server error", http.StatusInternalServerError)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
