package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func storeIDParam(c *gin.Context) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(c.Param("store_id")), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, newValidationError("store_id", "invalid_store_id", "invalid store_id")
	}
	return parsed, nil
}

func moduleIDParam(c *gin.Context) (string, error) {
	moduleID := strings.TrimSpace(c.Param("module_id"))
	if moduleID == "" {
		return "", newValidationError("module_id", "invalid_module_id", "invalid module_id")
	}
	return moduleID, nil
}

func storeModuleParams(c *gin.Context) (int64, string, error) {
	storeID, err := storeIDParam(c)
	if err != nil {
		return 0, "", err
	}
	moduleID, err := moduleIDParam(c)
	if err != nil {
		return 0, "", err
	}
	return storeID, moduleID, nil
}
