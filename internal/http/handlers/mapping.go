package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/data/repos"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/domain/canonical"
	domain "github.com/ilyacantor/autonomos-platform-sub006/internal/domain/drift"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/http/response"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/applicator"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/contract"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/pipeline"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/registry"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/apierr"
)

type MappingHandler struct {
	registry  *registry.Registry
	contracts *contract.Set
	pipeline  *pipeline.Service
}

func NewMappingHandler(reg *registry.Registry, contracts *contract.Set, p *pipeline.Service) *MappingHandler {
	return &MappingHandler{registry: reg, contracts: contracts, pipeline: p}
}

// GET /mappings/:source/:entity/:field
func (h *MappingHandler) GetMapping(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	key := registry.FieldKey{
		TenantID:    a.TenantID,
		SourceID:    c.Param("source"),
		Entity:      c.Param("entity"),
		SourceField: c.Param("field"),
	}
	entry, err := h.registry.Lookup(c.Request.Context(), key)
	if errors.Is(err, drifterr.ErrNotFound) {
		details := gin.H{"suggestion": "no active mapping; request a proposal with POST /drift/repair"}
		if t := h.pendingTicket(c, key); t != nil {
			details["ticket_id"] = t.ID
			details["ticket_status"] = t.Status
		}
		response.RespondErr(c, apierr.NotFound("mapping_not_found", err).WithDetails(details))
		return
	}
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"mapping": entry})
}

// pendingTicket finds a repairable ticket for the field so the caller can
// request a proposal for it.
func (h *MappingHandler) pendingTicket(c *gin.Context, key registry.FieldKey) *domain.DriftTicket {
	tickets, err := h.pipeline.ListTickets(c.Request.Context(), key.TenantID, repos.TicketFilter{
		SourceID: key.SourceID,
		Entity:   key.Entity,
		Limit:    100,
	})
	if err != nil {
		return nil
	}
	for _, t := range tickets {
		if t.FieldName != key.SourceField || !t.NeedsMapping() {
			continue
		}
		if t.Status == domain.TicketStatusOpen || t.Status == domain.TicketStatusRejected {
			return t
		}
	}
	return nil
}

// GET /api/mappings/:source/:entity
func (h *MappingHandler) ListActive(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	rows, err := h.registry.ActiveFor(c.Request.Context(), a.TenantID, c.Param("source"), c.Param("entity"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"mappings": rows})
}

// GET /api/mappings/:source/:entity/:field/versions
func (h *MappingHandler) ListVersions(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	rows, err := h.registry.Versions(c.Request.Context(), registry.FieldKey{
		TenantID:    a.TenantID,
		SourceID:    c.Param("source"),
		Entity:      c.Param("entity"),
		SourceField: c.Param("field"),
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"versions": rows})
}

type upsertMappingRequest struct {
	SourceID        string `json:"source_id"`
	Entity          string `json:"entity"`
	SourceField     string `json:"source_field"`
	CanonicalEntity string `json:"canonical_entity"`
	CanonicalField  string `json:"canonical_field"`
	Transform       string `json:"transform"`
	ExpectedVersion *int   `json:"expected_version"`
}

// POST /mappings
func (h *MappingHandler) UpsertMapping(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	var req upsertMappingRequest
	if err := bindJSON(c, &req); err != nil {
		response.RespondErr(c, err)
		return
	}
	if err := h.checkTarget(req); err != nil {
		response.RespondErr(c, err)
		return
	}
	res, err := h.registry.Upsert(c.Request.Context(), registry.UpsertRequest{
		Key: registry.FieldKey{
			TenantID:    a.TenantID,
			SourceID:    strings.TrimSpace(req.SourceID),
			Entity:      strings.TrimSpace(req.Entity),
			SourceField: req.SourceField,
		},
		CanonicalEntity: req.CanonicalEntity,
		CanonicalField:  req.CanonicalField,
		Transform:       req.Transform,
		Confidence:      1,
		Method:          domain.MethodManual,
		ApprovedBy:      a.Subject,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"mapping": res.Entry, "changed": res.Changed})
}

func (h *MappingHandler) checkTarget(req upsertMappingRequest) error {
	ec, ok := h.contracts.Entity(canonical.Entity(req.CanonicalEntity))
	if !ok {
		return drifterr.Invalid("unknown canonical entity %q", req.CanonicalEntity)
	}
	if _, ok := ec.Field(req.CanonicalField); !ok {
		return drifterr.Invalid("canonical entity %s has no field %q", req.CanonicalEntity, req.CanonicalField)
	}
	if req.Transform != "" && !applicator.KnownTransform(req.Transform) {
		return drifterr.Invalid("unknown transform %q", req.Transform)
	}
	return nil
}

// POST /api/mappings/:id/activate
func (h *MappingHandler) Activate(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	id, err := paramID(c, "invalid_mapping_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	entry, err := h.registry.Activate(c.Request.Context(), a.TenantID, id, a.Subject)
	if err != nil {
		response.RespondErr(c, fmt.Errorf("activate mapping: %w", err))
		return
	}
	response.RespondOK(c, gin.H{"mapping": entry})
}

// POST /api/mappings/:id/deactivate
func (h *MappingHandler) Deactivate(c *gin.Context) {
	a, err := actor(c)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	id, err := paramID(c, "invalid_mapping_id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	entry, err := h.registry.Deactivate(c.Request.Context(), a.TenantID, id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"mapping": entry})
}
