package trader

import (
	"github.com/shopspring/decimal"

	"github.com/gregtusar/spotcycle/pkg/models"
)

// resolveTier picks the ladder tier for the current deviation. Tiers are
// ordered by ascending threshold; the match is the last tier whose threshold
// does not exceed the deviation, i.e. the tightest bound still satisfied.
// No qualifying tier means no buy.
func resolveTier(tiers []models.LadderTier, deviation decimal.Decimal) (models.LadderTier, bool) {
	var match models.LadderTier
	found := false
	for _, tier := range tiers {
		if tier.DeviationThreshold.LessThanOrEqual(deviation) {
			match = tier
			found = true
		}
	}
	return match, found
}
