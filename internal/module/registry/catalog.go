package registry

import (
	"github.com/shopspring/decimal"
	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
)

const defaultCurrency = "ILS"

// Builtin returns the modules shipped with the platform.
func Builtin() []moduledomain.ModuleDefinition {
	return []moduledomain.ModuleDefinition{
		paid("premium-club", "Premium Club", "Tiered loyalty club with points and member pricing.",
			moduledomain.CategoryLoyalty, "49.90", map[string]any{
				"points_per_currency": 1,
				"tiers":               []any{"silver", "gold", "platinum"},
			}),
		free("bundle-products", "Product Bundles", "Sell products together at a bundle price.",
			moduledomain.CategoryInventory, moduledomain.ModuleTypeCore, map[string]any{"max_items": 5}),
		free("cash-on-delivery", "Cash on Delivery", "Let customers pay when the order arrives.",
			moduledomain.CategoryPayment, moduledomain.ModuleTypeCore, map[string]any{"fee": 0}),
		free("saturday-shutdown", "Saturday Shutdown", "Close the storefront automatically on Shabbat.",
			moduledomain.CategoryOperations, moduledomain.ModuleTypeCore, map[string]any{
				"store_closed": false,
				"timezone":     "Asia/Jerusalem",
			}),
		paid("shop-the-look", "Shop the Look", "Tag products on lifestyle images.",
			moduledomain.CategoryMarketing, "29.90", nil),
		free("reviews", "Product Reviews", "Collect and display verified product reviews.",
			moduledomain.CategoryMarketing, moduledomain.ModuleTypeCore, map[string]any{"require_approval": true}),
		free("google-analytics", "Google Analytics", "Inject the GA4 tag into the storefront.",
			moduledomain.CategoryAnalytics, moduledomain.ModuleTypeScript, map[string]any{"measurement_id": ""}),
		paid("smart-advisor", "Smart Advisor", "Guided product finder questionnaire.",
			moduledomain.CategoryMarketing, "59.00", nil),
		free("whatsapp-floating", "WhatsApp Button", "Floating WhatsApp contact button.",
			moduledomain.CategoryCommunication, moduledomain.ModuleTypeScript, map[string]any{"phone": "", "position": "bottom-left"}),
		paid("product-stories", "Product Stories", "Story-style product videos on the storefront.",
			moduledomain.CategoryMarketing, "39.90", nil),
	}
}

func paid(id, name, description string, category moduledomain.Category, price string, defaults map[string]any) moduledomain.ModuleDefinition {
	return moduledomain.ModuleDefinition{
		ID:            id,
		Name:          name,
		Description:   description,
		Type:          moduledomain.ModuleTypeCore,
		Category:      category,
		MonthlyPrice:  decimal.RequireFromString(price),
		Currency:      defaultCurrency,
		IsBuiltIn:     true,
		DefaultConfig: defaults,
	}
}

func free(id, name, description string, category moduledomain.Category, moduleType moduledomain.ModuleType, defaults map[string]any) moduledomain.ModuleDefinition {
	return moduledomain.ModuleDefinition{
		ID:            id,
		Name:          name,
		Description:   description,
		Type:          moduleType,
		Category:      category,
		MonthlyPrice:  decimal.Zero,
		Currency:      defaultCurrency,
		IsFree:        true,
		IsBuiltIn:     true,
		DefaultConfig: defaults,
	}
}
