package domain

import (
	"errors"
	"maps"

	"github.com/shopspring/decimal"
)

type ModuleType string

const (
	ModuleTypeCore   ModuleType = "CORE"
	ModuleTypeScript ModuleType = "SCRIPT"
)

type Category string

const (
	CategoryLoyalty       Category = "LOYALTY"
	CategoryInventory     Category = "INVENTORY"
	CategoryPayment       Category = "PAYMENT"
	CategoryOperations    Category = "OPERATIONS"
	CategoryMarketing     Category = "MARKETING"
	CategoryAnalytics     Category = "ANALYTICS"
	CategoryCommunication Category = "COMMUNICATION"
)

// ModuleDefinition is a catalog entry. Its price is only consulted at purchase time.
type ModuleDefinition struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Type          ModuleType      `json:"type"`
	Category      Category        `json:"category"`
	MonthlyPrice  decimal.Decimal `json:"monthly_price"`
	Currency      string          `json:"currency"`
	IsFree        bool            `json:"is_free"`
	IsBuiltIn     bool            `json:"is_built_in"`
	DefaultConfig map[string]any  `json:"default_config,omitempty"`
}

// Clone returns a copy that does not share DefaultConfig with the catalog.
func (d ModuleDefinition) Clone() ModuleDefinition {
	d.DefaultConfig = maps.Clone(d.DefaultConfig)
	return d
}

var (
	ErrModuleNotFound = errors.New("module_not_found")
	ErrInvalidModule  = errors.New("invalid_module")
)

// Catalog is the read-only module registry.
type Catalog interface {
	Get(moduleID string) (ModuleDefinition, error)
	List() []ModuleDefinition
	ListByCategory(category Category) []ModuleDefinition
	ListByType(moduleType ModuleType) []ModuleDefinition
	ListFree() []ModuleDefinition
	ListPaid() []ModuleDefinition
}
