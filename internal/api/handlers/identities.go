package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/pkg/dto"
)

type IdentityHandler struct {
	engine *identity.Engine
}

func NewIdentityHandler(engine *identity.Engine) *IdentityHandler {
	return &IdentityHandler{engine: engine}
}

func parseID(c *gin.Context, param string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, param)
	}
	return id, nil
}

// Search returns the most recently seen identity whose name contains the query.
func (h *IdentityHandler) Search(c *gin.Context) {
	ident, err := h.engine.SearchByName(c.Request.Context(), c.Query("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no identity matches that name"})
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityResponse(ident))
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	ident, err := h.engine.GetIdentity(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityResponse(ident))
}

func (h *IdentityHandler) Update(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		writeError(c, err)
		return
	}

	var req dto.UpdateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == nil && req.Context == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name or context required"})
		return
	}

	ident, err := h.engine.UpdateIdentity(c.Request.Context(), id, identity.DetailsUpdate{
		Name:    req.Name,
		Context: req.Context,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewIdentityResponse(ident))
}
