package ratelimit

// Tier is an (RPM, TPM) pair applied to every API key under a configuration.
type Tier struct {
	Name string
	RPM  int
	TPM  int
}

// tierTable holds the advisory per-tier limits. Values centralize the
// various published limits into one place; override with explicit rpm/tpm
// configuration when exact numbers matter.
var tierTable = map[string]Tier{
	"free":   {Name: "free", RPM: 60, TPM: 40_000},
	"tier-1": {Name: "tier-1", RPM: 500, TPM: 200_000},
	"tier-2": {Name: "tier-2", RPM: 5_000, TPM: 2_000_000},
	"tier-3": {Name: "tier-3", RPM: 10_000, TPM: 10_000_000},
	"tier-4": {Name: "tier-4", RPM: 30_000, TPM: 30_000_000},
	"tier-5": {Name: "tier-5", RPM: 60_000, TPM: 150_000_000},
}

// TierByName resolves a tier name, falling back to tier-1 for unknown names.
func TierByName(name string) Tier {
	if t, ok := tierTable[name]; ok {
		return t
	}
	return tierTable["tier-1"]
}

// AllTiers returns the full tier table for the analytics endpoints.
func AllTiers() []Tier {
	out := make([]Tier, 0, len(tierTable))
	for _, name := range []string{"free", "tier-1", "tier-2", "tier-3", "tier-4", "tier-5"} {
		out = append(out, tierTable[name])
	}
	return out
}
