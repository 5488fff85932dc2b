package handler

import (
	"context"
	"log/slog"
	"net/http"

	mw "github.com/kiranshivaraju/facematch/internal/api/middleware"
	"github.com/kiranshivaraju/facematch/internal/api/response"
	"github.com/kiranshivaraju/facematch/internal/matcher"
)

// BatchRunner runs one match-generation batch.
type BatchRunner interface {
	ProcessBatch(ctx context.Context) (*matcher.BatchSummary, error)
}

type triggerError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewTriggerHandler returns the handler for POST /api/v1/match-generator.
// The body is ignored. The summary is written without the data envelope
// because external cron callers read it as is.
func NewTriggerHandler(runner BatchRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Claimed jobs must reach a final state even if the caller hangs up;
		// the processor applies its own batch deadline.
		ctx := context.WithoutCancel(r.Context())
		keyID, _ := mw.GetAPIKeyID(r)

		summary, err := runner.ProcessBatch(ctx)
		if err != nil {
			slog.Error("match batch failed", "key_id", keyID, "error", err)
			response.Raw(w, http.StatusInternalServerError, triggerError{Success: false, Error: err.Error()})
			return
		}

		slog.Info("match batch finished",
			"key_id", keyID,
			"processed", summary.ProcessedCount,
			"message", summary.Message,
		)
		response.Raw(w, http.StatusOK, summary)
	}
}
