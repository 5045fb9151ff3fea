package serenpair

import "testing"

func TestQualityTier(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{0, TierStandard},
		{64, TierStandard},
		{65, TierStandard},
		{84, TierStandard},
		{85, TierPremium},
		{94, TierPremium},
		{95, TierExcellent},
		{100, TierExcellent},
	}
	for _, c := range cases {
		if got := QualityTier(c.score); got != c.want {
			t.Errorf("QualityTier(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}
