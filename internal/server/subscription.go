package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
	"github.com/smallbiznis/modulebilling/pkg/db/pagination"
)

const idempotencyKeyHeader = "Idempotency-Key"

func (s *Server) PurchaseModule(c *gin.Context) {
	storeID, moduleID, err := storeModuleParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptions.Purchase(c.Request.Context(), subscriptiondomain.PurchaseRequest{
		StoreID:    storeID,
		ModuleID:   moduleID,
		RequestKey: strings.TrimSpace(c.GetHeader(idempotencyKeyHeader)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelModule(c *gin.Context) {
	storeID, moduleID, err := storeModuleParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptions.Cancel(c.Request.Context(), storeID, moduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UninstallModule(c *gin.Context) {
	storeID, moduleID, err := storeModuleParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptions.Uninstall(c.Request.Context(), storeID, moduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	storeID, moduleID, err := storeModuleParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptions.Get(c.Request.Context(), storeID, moduleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	storeID, err := storeIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptions.ListByStore(c.Request.Context(), storeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListEntitlements(c *gin.Context) {
	storeID, err := storeIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.entitlements.ListByStore(c.Request.Context(), storeID)
	if err != nil {
		AbortWithError(c, subscriptiondomain.Infrastructure("list entitlements", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTransactions(c *gin.Context) {
	storeID, err := storeIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledger.List(c.Request.Context(), ledgerdomain.ListRequest{
		StoreID:   storeID,
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Transactions,
		"page_info": resp.PageInfo,
	})
}
