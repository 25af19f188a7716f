package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"payclassd/llm"
	"payclassd/manager"
)

type classifyRequest struct {
	PaymentText   string   `json:"payment_text" validate:"required"`
	Categories    []string `json:"categories" validate:"required,min=1"`
	Provider      string   `json:"provider" validate:"required"`
	Model         string   `json:"model"`
	UseSearch     bool     `json:"use_search"`
	CorrelationID string   `json:"correlation_id"`
}

type classifyResponse struct {
	Category         string   `json:"category"`
	Reasoning        string   `json:"reasoning"`
	Confidence       *float64 `json:"confidence,omitempty"`
	SearchUsed       bool     `json:"search_used"`
	CorrelationID    string   `json:"correlation_id"`
	Model            string   `json:"model"`
	ProcessingTimeMS float64  `json:"processing_time_ms"`
}

type classificationEntry struct {
	ID               int64    `json:"id"`
	PaymentText      string   `json:"payment_text"`
	Category         string   `json:"category"`
	Reasoning        string   `json:"reasoning"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Provider         string   `json:"provider"`
	Model            string   `json:"model"`
	CorrelationID    string   `json:"correlation_id"`
	SearchUsed       bool     `json:"search_used"`
	ProcessingTimeMS float64  `json:"processing_time_ms"`
	CreatedAt        string   `json:"created_at"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid request: "+verrs[0].Error(), req.CorrelationID)
		} else {
			writeError(w, http.StatusBadRequest, "invalid request", req.CorrelationID)
		}
		return
	}

	result, err := s.classifier.Classify(r.Context(), manager.Request{
		Provider:      req.Provider,
		Model:         req.Model,
		PaymentText:   req.PaymentText,
		Categories:    req.Categories,
		UseSearch:     req.UseSearch,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		s.writeClassifyError(w, err)
		return
	}

	if s.history != nil {
		if recErr := s.history.Record(r.Context(), req.PaymentText, req.Provider, result); recErr != nil {
			s.logger.Error().
				Err(recErr).
				Str("correlation_id", result.CorrelationID).
				Msg("Failed to record classification")
		}
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Category:         result.Category,
		Reasoning:        result.Reasoning,
		Confidence:       result.Confidence,
		SearchUsed:       result.SearchUsed(),
		CorrelationID:    result.CorrelationID,
		Model:            result.Model,
		ProcessingTimeMS: result.ProcessingTimeMS,
	})
}

func (s *Server) handleListClassifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
		limit = parsed
	}

	entries := []classificationEntry{}
	if s.history != nil {
		rows, err := s.history.ListRecent(r.Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list classifications")
			writeError(w, http.StatusInternalServerError, "failed to list classifications", "")
			return
		}
		for _, row := range rows {
			entries = append(entries, classificationEntry{
				ID:               row.ID,
				PaymentText:      row.PaymentText,
				Category:         row.Category,
				Reasoning:        row.Reasoning,
				Confidence:       row.Confidence,
				Provider:         row.Provider,
				Model:            row.Model,
				CorrelationID:    row.CorrelationID,
				SearchUsed:       row.SearchUsed,
				ProcessingTimeMS: row.ProcessingTimeMS,
				CreatedAt:        row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"classifications": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeClassifyError maps classification error kinds onto HTTP statuses.
func (s *Server) writeClassifyError(w http.ResponseWriter, err error) {
	var lerr *llm.Error
	if !errors.As(err, &lerr) {
		s.logger.Error().Err(err).Msg("Classification failed with unexpected error")
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	status := http.StatusServiceUnavailable
	switch lerr.Kind {
	case llm.ErrorKindValidation:
		status = http.StatusBadRequest
	case llm.ErrorKindTimeout:
		status = http.StatusRequestTimeout
	case llm.ErrorKindParse:
		status = http.StatusUnprocessableEntity
	case llm.ErrorKindRateLimit, llm.ErrorKindClient:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorResponse{
		Error:         lerr.Message,
		Kind:          string(lerr.Kind),
		CorrelationID: lerr.CorrelationID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, correlationID string) {
	writeJSON(w, status, errorResponse{Error: message, CorrelationID: correlationID})
}
