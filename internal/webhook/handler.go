package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/ingest"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// EventIngestor is the slice of the ingest service the HTTP surface
// needs. Satisfied by *ingest.Service.
type EventIngestor interface {
	Ingest(ctx context.Context, ev ingest.SourceEvent) (ingest.ProcessingResult, error)
	Replay(ctx context.Context, ev ingest.SourceEvent) (ingest.ProcessingResult, error)
	ReplaceRules(rules *ingest.RuleSet)
	ActiveRules() []ingest.Rule
}

// RuleStore is the durable rule and dead-letter surface. Satisfied by
// *ingest.Repository.
type RuleStore interface {
	SaveRule(ctx context.Context, rule ingest.Rule) error
	DeleteRule(ctx context.Context, name string) error
	ListRules(ctx context.Context) ([]ingest.Rule, error)
	ListDeadLetters(ctx context.Context, limit int) ([]ingest.DeadLetterRecord, error)
	GetDeadLetter(ctx context.Context, id int64) (ingest.DeadLetterRecord, error)
	DeleteDeadLetter(ctx context.Context, id int64) error
}

// KeyStore manages sender credentials. Satisfied by *Repository.
type KeyStore interface {
	Create(ctx context.Context, name, source, hash, prefix string) (APIKey, error)
	GetByHash(ctx context.Context, hash string) (APIKey, error)
	List(ctx context.Context) ([]APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	ingestor EventIngestor
	rules    RuleStore
	keys     KeyStore
	val      *validator.Validator
	log      *logger.Logger
}

func NewHandler(ingestor EventIngestor, rules RuleStore, keys KeyStore, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{ingestor: ingestor, rules: rules, keys: keys, val: val, log: log}
}

type eventEnvelope struct {
	Source         string         `json:"source"`
	Type           string         `json:"type" validate:"required"`
	ExternalID     string         `json:"externalId"`
	Payload        map[string]any `json:"payload"`
	Timestamp      *time.Time     `json:"timestamp"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// HandleIngestEvent accepts one normalized event from an authenticated
// sender and runs it through ingestion. A redelivered key returns the
// outcome recorded for the first delivery.
func (h *Handler) HandleIngestEvent(c *gin.Context) {
	var req eventEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	ev := ingest.SourceEvent{
		Source:         c.GetString(ctxKeySource),
		Type:           req.Type,
		ExternalID:     req.ExternalID,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
	}
	// Keys without a bound source trust the envelope.
	if ev.Source == "" {
		ev.Source = req.Source
	}
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
	} else {
		ev.Timestamp = time.Now()
	}

	result, err := h.ingestor.Ingest(c.Request.Context(), ev)
	if err != nil {
		h.log.Error("webhook: ingest failed", "key", ev.Key(), "error", err)
		httpkit.Error(c, http.StatusInternalServerError, "event processing failed", nil)
		return
	}

	httpkit.OK(c, result)
}

func (h *Handler) HandleListRules(c *gin.Context) {
	httpkit.OK(c, gin.H{"rules": h.ingestor.ActiveRules()})
}

// HandleSaveRule upserts one rule by name, persisting it and swapping
// it into the live rule set.
func (h *Handler) HandleSaveRule(c *gin.Context) {
	name := c.Param("name")

	var rule ingest.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	rule.Name = name
	if len(rule.Actions) == 0 {
		httpkit.Error(c, http.StatusBadRequest, "rule has no actions", nil)
		return
	}

	if err := h.rules.SaveRule(c.Request.Context(), rule); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	active := h.ingestor.ActiveRules()
	replaced := false
	for i := range active {
		if active[i].Name == rule.Name {
			active[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		active = append(active, rule)
	}
	h.ingestor.ReplaceRules(ingest.NewRuleSet(active))

	h.log.Info("webhook: rule saved", "rule", rule.Name, "enabled", rule.Enabled)
	httpkit.OK(c, rule)
}

func (h *Handler) HandleDeleteRule(c *gin.Context) {
	name := c.Param("name")

	if err := h.rules.DeleteRule(c.Request.Context(), name); err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			httpkit.Error(c, http.StatusNotFound, "rule not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	active := h.ingestor.ActiveRules()
	kept := make([]ingest.Rule, 0, len(active))
	for _, rule := range active {
		if rule.Name != name {
			kept = append(kept, rule)
		}
	}
	h.ingestor.ReplaceRules(ingest.NewRuleSet(kept))

	h.log.Info("webhook: rule deleted", "rule", name)
	c.Status(http.StatusNoContent)
}

func (h *Handler) HandleListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.rules.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"deadLetters": records})
}

// HandleReplayDeadLetter re-ingests a parked event. The park entry is
// removed only when the replay comes back clean.
func (h *Handler) HandleReplayDeadLetter(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid dead letter id", nil)
		return
	}

	rec, err := h.rules.GetDeadLetter(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			httpkit.Error(c, http.StatusNotFound, "dead letter not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	result, err := h.ingestor.Replay(c.Request.Context(), ingest.SourceEvent{
		Source:         rec.Source,
		Type:           rec.Type,
		ExternalID:     rec.ExternalID,
		Payload:        rec.Payload,
		Timestamp:      rec.CreatedAt,
		IdempotencyKey: rec.Key,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	if result.Status == ingest.StatusProcessed && !result.Failed() {
		if err := h.rules.DeleteDeadLetter(c.Request.Context(), id); err != nil {
			h.log.Error("webhook: failed to clear replayed dead letter", "id", id, "error", err)
		}
	}

	httpkit.OK(c, result)
}

type createKeyRequest struct {
	Name   string `json:"name" validate:"required,min=2,max=100"`
	Source string `json:"source" validate:"omitempty,max=50"`
}

// HandleCreateAPIKey issues a sender credential. The plaintext key
// appears in this response and nowhere else.
func (h *Handler) HandleCreateAPIKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	key, err := h.keys.Create(c.Request.Context(), req.Name, req.Source, hash, prefix)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	h.log.Info("webhook: api key created", "name", key.Name, "prefix", key.KeyPrefix)
	httpkit.JSON(c, http.StatusCreated, gin.H{"key": key, "plaintext": plaintext})
}

func (h *Handler) HandleListAPIKeys(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"keys": keys})
}

func (h *Handler) HandleRevokeAPIKey(c *gin.Context) {
	id, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid key id", nil)
		return
	}

	if err := h.keys.Revoke(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrAPIKeyNotFound) {
			httpkit.Error(c, http.StatusNotFound, "api key not found", nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	h.log.Info("webhook: api key revoked", "id", id.String())
	c.Status(http.StatusNoContent)
}
