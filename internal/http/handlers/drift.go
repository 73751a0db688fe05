package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/http/response"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/pipeline"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/sources"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/apierr"
)

type DriftHandler struct {
	pipeline  *pipeline.Service
	connector *sources.Connector
}

// NewDriftHandler takes an optional connector; without one on-demand scans
// of polled sources are refused.
func NewDriftHandler(p *pipeline.Service, conn *sources.Connector) *DriftHandler {
	return &DriftHandler{pipeline: p, connector: conn}
}

type repairRequest struct {
	TicketID string `json:"ticket_id"`
}

// POST /drift/repair
func (h *DriftHandler) Repair(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	var req repairRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	id, err := uuid.Parse(req.TicketID)
	if err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_ticket_id", err))
		return
	}
	out, err := h.pipeline.RepairTicket(c.Request.Context(), a.TenantID, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/drift/tickets
func (h *DriftHandler) ListTickets(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	tickets, err := h.pipeline.ListTickets(c.Request.Context(), a.TenantID, repos.TicketFilter{
		SourceID: c.Query("source"),
		Entity:   c.Query("entity"),
		Status:   c.Query("status"),
		Limit:    queryLimit(c, 100),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"tickets": tickets})
}

type snapshotRequest struct {
	Records []map[string]any `json:"records"`
}

// POST /api/sources/:source/:entity/snapshot
func (h *DriftHandler) Snapshot(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	var req snapshotRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	res, err := h.pipeline.Snapshot(c.Request.Context(), sourceKey(c, a.TenantID), req.Records)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/sources/:source/:entity/scan
func (h *DriftHandler) Scan(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if h.connector == nil {
		response.RespondErr(c, drifterr.Invalid("no polled sources configured"))
		return
	}
	res, err := h.pipeline.ScanPolled(c.Request.Context(), sourceKey(c, a.TenantID), h.connector)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, res)
}

// GET /api/sources/:source/:entity/fingerprints
func (h *DriftHandler) Fingerprints(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	rows, err := h.pipeline.Fingerprints(c.Request.Context(), sourceKey(c, a.TenantID), queryLimit(c, 20))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"fingerprints": rows})
}

type ingestRequest struct {
	Records []pipeline.RawRecord `json:"records"`
}

// POST /api/ingest/:source/:entity
func (h *DriftHandler) Ingest(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	var req ingestRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	res, err := h.pipeline.Ingest(c.Request.Context(), sourceKey(c, a.TenantID), req.Records)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, res)
}
