package leads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"
)

// Handler exposes the operator endpoints for leads and handoffs.
type Handler struct {
	repo         *repository.Repository
	orchestrator *Orchestrator
	val          *validator.Validator
}

func NewHandler(repo *repository.Repository, orchestrator *Orchestrator, val *validator.Validator) *Handler {
	return &Handler{repo: repo, orchestrator: orchestrator, val: val}
}

func (h *Handler) HandleListLeads(c *gin.Context) {
	params := repository.ListLeadsParams{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if raw := c.Query("temperature"); raw != "" {
		temp := domain.Temperature(raw)
		if !temp.Valid() {
			httpkit.Error(c, http.StatusBadRequest, "invalid temperature filter", nil)
			return
		}
		params.Temperature = &temp
	}
	if raw := c.Query("owningBot"); raw != "" {
		bot := domain.BotType(raw)
		if !bot.Valid() {
			httpkit.Error(c, http.StatusBadRequest, "invalid owningBot filter", nil)
			return
		}
		params.OwningBot = &bot
	}
	if raw := c.Query("syncFailed"); raw != "" {
		failed := raw == "true"
		params.SyncFailed = &failed
	}

	results, err := h.repo.ListLeads(c.Request.Context(), params)
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to list leads", nil)
		return
	}
	httpkit.OK(c, gin.H{"leads": results})
}

func (h *Handler) HandleGetLead(c *gin.Context) {
	leadID, ok := pathLeadID(c)
	if !ok {
		return
	}

	lead, err := h.repo.GetLead(c.Request.Context(), leadID)
	if errors.Is(err, repository.ErrNotFound) {
		httpkit.Error(c, http.StatusNotFound, "lead not found", nil)
		return
	}
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to load lead", nil)
		return
	}

	httpkit.OK(c, gin.H{"lead": lead})
}

func (h *Handler) HandleListResults(c *gin.Context) {
	leadID, ok := pathLeadID(c)
	if !ok {
		return
	}

	results, err := h.repo.ListQualificationResults(c.Request.Context(), leadID)
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to list qualification results", nil)
		return
	}
	httpkit.OK(c, gin.H{"results": results})
}

func (h *Handler) HandleListHandoffs(c *gin.Context) {
	leadID, ok := pathLeadID(c)
	if !ok {
		return
	}

	handoffs, err := h.repo.ListHandoffs(c.Request.Context(), leadID)
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to list handoffs", nil)
		return
	}
	httpkit.OK(c, gin.H{"handoffs": handoffs})
}

type routeLeadRequest struct {
	Target string `json:"target" validate:"required"`
}

// HandleRouteLead lets an operator force a handoff to a specific bot.
// The orchestrator still applies its own guards; a rejection comes back
// as a conflict rather than a silent no-op.
func (h *Handler) HandleRouteLead(c *gin.Context) {
	leadID, ok := pathLeadID(c)
	if !ok {
		return
	}

	var req routeLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "target is required", nil)
		return
	}

	target := domain.BotType(req.Target)
	if !target.Valid() {
		httpkit.Error(c, http.StatusBadRequest, "unknown bot type", nil)
		return
	}

	handoff, err := h.orchestrator.Route(c.Request.Context(), leadID, target)
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "handoff failed", nil)
		return
	}
	if handoff == nil {
		httpkit.Error(c, http.StatusConflict, "handoff rejected", nil)
		return
	}
	httpkit.OK(c, gin.H{"handoff": handoff})
}

func (h *Handler) HandleArchiveLead(c *gin.Context) {
	leadID, ok := pathLeadID(c)
	if !ok {
		return
	}

	err := h.repo.ArchiveLead(c.Request.Context(), leadID)
	if errors.Is(err, repository.ErrNotFound) {
		httpkit.Error(c, http.StatusNotFound, "lead not found", nil)
		return
	}
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "failed to archive lead", nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathLeadID(c *gin.Context) (uuid.UUID, bool) {
	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return uuid.Nil, false
	}
	return leadID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
