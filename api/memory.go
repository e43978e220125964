package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/memory"
)

// Request validation constants.
const (
	MaxUserIDLength  = 128
	MaxChatIDLength  = 128
	MaxTurns         = 50
	MaxTurnLength    = 10000
	MaxQueryLength   = 2000
	MaxDeleteIDs     = 1000
	MaxCandidates    = 100
	DefaultSearchLim = 10
	MaxSearchLim     = 100
)

// MemoryHandler handles memory engine HTTP endpoints.
type MemoryHandler struct {
	sys    *memory.System
	logger log.Logger
}

// NewMemoryHandler creates a new memory handler.
func NewMemoryHandler(sys *memory.System, logger log.Logger) *MemoryHandler {
	return &MemoryHandler{sys: sys, logger: logger}
}

// RegisterRoutes registers memory routes on the given mux.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/memories", h.add)
	mux.HandleFunc("GET /api/memories/search", h.search)
	mux.HandleFunc("DELETE /api/memories", h.remove)
	mux.HandleFunc("POST /api/memories/reset", h.reset)
	mux.HandleFunc("POST /api/consolidate", h.consolidate)
	mux.HandleFunc("POST /api/observe", h.observe)
}

// AddRequest is the request body for storing a conversation exchange.
type AddRequest struct {
	UserID string        `json:"user_id"`
	ChatID string        `json:"chat_id"`
	Turns  []memory.Turn `json:"turns"`
}

// add runs the gated write path. The decider may refuse the exchange, in
// which case the response carries an empty id list; that is success, not
// an error.
func (h *MemoryHandler) add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if msg := validateUserID(req.UserID); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", msg)
		return
	}
	if len(req.ChatID) > MaxChatIDLength {
		writeError(w, http.StatusBadRequest, "invalid_chat_id", "chat_id too long")
		return
	}
	if len(req.Turns) == 0 || len(req.Turns) > MaxTurns {
		writeError(w, http.StatusBadRequest, "invalid_turns", "turns must contain between 1 and 50 entries")
		return
	}
	for _, turn := range req.Turns {
		if len(turn.Content) > MaxTurnLength {
			writeError(w, http.StatusBadRequest, "invalid_turns", "turn content too long (max 10000 characters)")
			return
		}
	}

	ids, err := h.sys.Add(r.Context(), req.UserID, req.ChatID, req.Turns)
	if err != nil {
		h.logger.Error("add failed", "user_id", req.UserID, "error", err,
			"request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "add_failed", "failed to store memories")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ids":   ids,
		"count": len(ids),
	})
}

// SearchResult is one ranked hit in a search response.
type SearchResult struct {
	ID         int64   `json:"id"`
	Type       string  `json:"type"`
	TS         int64   `json:"ts"`
	ChatID     string  `json:"chat_id,omitempty"`
	Text       string  `json:"text"`
	GroupID    int64   `json:"group_id"`
	Similarity float64 `json:"similarity"`
}

// search runs two-tier retrieval with ranking.
// Query parameters:
//   - user_id: owner of the memories (required)
//   - q: query text (required)
//   - limit: maximum results (default: 10, max: 100)
func (h *MemoryHandler) search(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if msg := validateUserID(userID); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", msg)
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" || len(query) > MaxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_query", "q must be between 1 and 2000 characters")
		return
	}
	limit := parseIntParam(r, "limit", DefaultSearchLim, 1, MaxSearchLim)

	hits, err := h.sys.Search(r.Context(), userID, query, limit)
	if err != nil {
		h.logger.Error("search failed", "user_id", userID, "error", err,
			"request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "search_failed", "failed to search memories")
		return
	}

	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{
			ID:         hit.ID,
			Type:       string(hit.Type),
			TS:         hit.TS,
			ChatID:     hit.ChatID,
			Text:       hit.Text,
			GroupID:    hit.GroupID,
			Similarity: hit.Similarity(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// DeleteRequest is the request body for deleting memories by id.
type DeleteRequest struct {
	UserID string  `json:"user_id"`
	IDs    []int64 `json:"ids"`
}

// remove deletes memories by id. Unknown ids are skipped; affected
// narrative groups are recomputed or removed.
func (h *MemoryHandler) remove(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if msg := validateUserID(req.UserID); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", msg)
		return
	}
	if len(req.IDs) == 0 || len(req.IDs) > MaxDeleteIDs {
		writeError(w, http.StatusBadRequest, "invalid_ids", "ids must contain between 1 and 1000 entries")
		return
	}

	deleted, err := h.sys.Delete(r.Context(), req.UserID, req.IDs...)
	if err != nil {
		h.logger.Error("delete failed", "user_id", req.UserID, "error", err,
			"request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete memories")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// ResetRequest is the request body for wiping a user's memory.
type ResetRequest struct {
	UserID string `json:"user_id"`
}

// reset removes all memories and narrative groups for one user.
func (h *MemoryHandler) reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if msg := validateUserID(req.UserID); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", msg)
		return
	}

	deleted, err := h.sys.Reset(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("reset failed", "user_id", req.UserID, "error", err,
			"request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "reset_failed", "failed to reset user memory")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// ConsolidateRequest is the request body for a consolidation pass.
type ConsolidateRequest struct {
	UserID string `json:"user_id"`
}

// consolidate runs a full consolidation pass for one user: merge,
// separation, and semantic fact extraction. This calls out to the LLM and
// can take a while on large stores.
func (h *MemoryHandler) consolidate(w http.ResponseWriter, r *http.Request) {
	var req ConsolidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if msg := validateUserID(req.UserID); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", msg)
		return
	}

	stats, err := h.sys.Consolidate(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("consolidation failed", "user_id", req.UserID, "error", err,
			"request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "consolidate_failed", "consolidation pass failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"processed":        stats.Processed,
		"merged":           stats.Merged,
		"separated":        stats.Separated,
		"semantic_created": stats.SemanticCreated,
		"failures":         len(stats.Failures),
	})
}

// Candidate is one episodic memory that was offered to the model as
// retrieval context. The text is echoed back by the caller so the usage
// judgment can run without a second store round-trip.
type Candidate struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// ObserveRequest is the request body for usage-driven grouping.
type ObserveRequest struct {
	UserID       string        `json:"user_id"`
	SystemPrompt string        `json:"system_prompt"`
	History      []memory.Turn `json:"history"`
	Reply        string        `json:"reply"`
	Episodic     []Candidate   `json:"episodic"`
}

// observe judges which retrieved episodic memories were actually used to
// produce the reply and assigns them to narrative groups.
func (h *MemoryHandler) observe(w http.ResponseWriter, r *http.Request) {
	var req ObserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if msg := validateUserID(req.UserID); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_user_id", msg)
		return
	}
	if len(req.Episodic) > MaxCandidates {
		writeError(w, http.StatusBadRequest, "invalid_episodic", "episodic must contain at most 100 entries")
		return
	}

	episodic := make([]memory.Record, len(req.Episodic))
	for i, c := range req.Episodic {
		episodic[i] = memory.Record{ID: c.ID, UserID: req.UserID, Text: c.Text}
	}

	assigned, err := h.sys.Observe(r.Context(), req.UserID, memory.UsageContext{
		SystemPrompt: req.SystemPrompt,
		History:      req.History,
		Reply:        req.Reply,
		Episodic:     episodic,
	})
	if err != nil {
		h.logger.Error("observe failed", "user_id", req.UserID, "error", err,
			"request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "observe_failed", "usage observation failed")
		return
	}

	// JSON object keys must be strings.
	groups := make(map[string]int64, len(assigned))
	for id, groupID := range assigned {
		groups[strconv.FormatInt(id, 10)] = groupID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"grouped": groups,
		"count":   len(groups),
	})
}

// validateUserID returns a human-readable problem description, or ""
// when the id is acceptable.
func validateUserID(userID string) string {
	if userID == "" {
		return "user_id is required"
	}
	if len(userID) > MaxUserIDLength {
		return "user_id too long (max 128 characters)"
	}
	return ""
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
