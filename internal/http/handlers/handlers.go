package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/drifterr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/modules/drift/fingerprint"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/apierr"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/ctxutil"
)

const maxListLimit = 500

// actor returns the authenticated caller, or a 400 when no tenant was resolved.
func actor(c *gin.Context) (*ctxutil.Actor, error) {
	a := ctxutil.GetActor(c.Request.Context())
	if a == nil || strings.TrimSpace(a.TenantID) == "" {
		return nil, drifterr.ErrMissingTenant
	}
	return a, nil
}

func sourceKey(c *gin.Context, tenantID string) fingerprint.Key {
	return fingerprint.Key{
		TenantID: tenantID,
		SourceID: c.Param("source"),
		Entity:   c.Param("entity"),
	}
}

func paramID(c *gin.Context, code string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.BadRequest(code, err)
	}
	return id, nil
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// bindJSON decodes the body keeping numbers as json.Number, so source values
// such as 64-bit identifiers pass through unmapped_fields without rounding.
func bindJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil {
		return apierr.BadRequest("invalid_body", errors.New("invalid request body: empty"))
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return apierr.BadRequest("invalid_body", errors.New("invalid request body: "+err.Error()))
	}
	return nil
}

// optionalJSON decodes the body into dst when one was sent.
func optionalJSON(c *gin.Context, dst any) (bool, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return false, apierr.BadRequest("invalid_body", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return false, apierr.BadRequest("invalid_body", errors.New("invalid request body: "+err.Error()))
	}
	return true, nil
}
