// internal/admin/tiers.go
//
// Tier presets applied at tenant creation.
package admin

import "github.com/WhitecodeAi/aicms-core/internal/tenant"

// TierPreset is a named bundle of default features and limits.
type TierPreset struct {
	Features tenant.Features
	Limits   tenant.Limits
}

var tierPresets = map[string]TierPreset{
	"starter": {
		Features: tenant.Features{
			FileUpload: true,
			SSLEnabled: true,
		},
		Limits: tenant.Limits{
			MaxUsers:      5,
			MaxPages:      100,
			MaxPosts:      500,
			MaxStorageMB:  1_000,
			MaxAPICalls:   10_000,
			MaxFileSizeMB: 25,
			MaxMenus:      10,
			MaxGalleries:  20,
			MaxSliders:    5,
		},
	},
	"professional": {
		Features: tenant.Features{
			AdvancedEditor: true,
			CustomBranding: true,
			APIAccess:      true,
			FileUpload:     true,
			Analytics:      true,
			SSLEnabled:     true,
			MultiLanguage:  true,
		},
		Limits: tenant.Limits{
			MaxUsers:      25,
			MaxPages:      1_000,
			MaxPosts:      10_000,
			MaxStorageMB:  5_000,
			MaxAPICalls:   50_000,
			MaxFileSizeMB: 100,
			MaxMenus:      25,
			MaxGalleries:  100,
			MaxSliders:    25,
		},
	},
	"enterprise": {
		Features: tenant.Features{
			AdvancedEditor: true,
			CustomBranding: true,
			APIAccess:      true,
			FileUpload:     true,
			Analytics:      true,
			CustomDomain:   true,
			SSLEnabled:     true,
			MultiLanguage:  true,
			Ecommerce:      true,
			SocialLogin:    true,
		},
		Limits: tenant.Limits{
			MaxUsers:      100,
			MaxPages:      10_000,
			MaxPosts:      100_000,
			MaxStorageMB:  20_000,
			MaxAPICalls:   200_000,
			MaxFileSizeMB: 500,
			MaxMenus:      100,
			MaxGalleries:  500,
			MaxSliders:    100,
		},
	},
}

// presetFor returns the preset for tier, defaulting to starter.
func presetFor(tier string) TierPreset {
	if p, ok := tierPresets[tier]; ok {
		return p
	}
	return tierPresets["starter"]
}
