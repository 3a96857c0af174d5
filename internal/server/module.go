package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
)

func (s *Server) ListModules(c *gin.Context) {
	var query struct {
		Category string `form:"category"`
		Type     string `form:"type"`
		Pricing  string `form:"pricing"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var modules []moduledomain.ModuleDefinition
	switch strings.ToLower(strings.TrimSpace(query.Pricing)) {
	case "":
		modules = s.catalog.List()
	case "free":
		modules = s.catalog.ListFree()
	case "paid":
		modules = s.catalog.ListPaid()
	default:
		AbortWithError(c, newValidationError("pricing", "invalid_pricing", "pricing must be free or paid"))
		return
	}

	category := moduledomain.Category(strings.ToUpper(strings.TrimSpace(query.Category)))
	moduleType := moduledomain.ModuleType(strings.ToUpper(strings.TrimSpace(query.Type)))
	filtered := make([]moduledomain.ModuleDefinition, 0, len(modules))
	for _, m := range modules {
		if category != "" && m.Category != category {
			continue
		}
		if moduleType != "" && m.Type != moduleType {
			continue
		}
		filtered = append(filtered, m)
	}

	c.JSON(http.StatusOK, gin.H{"data": filtered})
}

func (s *Server) GetModule(c *gin.Context) {
	moduleID, err := moduleIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	module, err := s.catalog.Get(moduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": module})
}
