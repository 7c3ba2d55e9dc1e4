package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUnknownPhase(t *testing.T) {
	r, ok := Lookup("unknown_xyz")
	assert.False(t, ok)
	assert.Equal(t, PhaseRule{}, r)
	assert.False(t, Known(""))
}

func TestLookupFraming(t *testing.T) {
	r, ok := Lookup("framing")
	require.True(t, ok)
	assert.Equal(t, Framing, r.Phase)
	assert.Equal(t, []string{"foundation", FoundationInspectionPassed}, r.Prerequisites)
	assert.Equal(t, []string{"framing_inspection"}, r.InspectionsRequired)
	assert.True(t, r.WeatherSensitive)
}

func TestLookupReturnsCopy(t *testing.T) {
	r, ok := Lookup("foundation")
	require.True(t, ok)
	r.Prerequisites[0] = "mutated"
	*r.MinCureTimeDays = 99

	again, _ := Lookup("foundation")
	assert.Equal(t, "excavation", again.Prerequisites[0])
	assert.Equal(t, 7, *again.MinCureTimeDays)
}

func TestAllSortedAndComplete(t *testing.T) {
	all := All()
	require.Len(t, all, len(registry))
	for i := 1; i < len(all); i++ {
		assert.Less(t, string(all[i-1].Phase), string(all[i].Phase))
	}
}

// RequiredBefore is the inverse of Prerequisites; keep both directions in sync.
func TestRequiredBeforeMirrorsPrerequisites(t *testing.T) {
	for phase, rule := range registry {
		for _, next := range rule.RequiredBefore {
			nextRule, ok := registry[Phase(next)]
			require.Truef(t, ok, "%s lists unknown phase %s", phase, next)
			assert.Containsf(t, nextRule.Prerequisites, string(phase), "%s should require %s", next, phase)
		}
		for _, prereq := range rule.Prerequisites {
			prereqRule, ok := registry[Phase(prereq)]
			if !ok {
				continue // condition, not a phase
			}
			assert.Containsf(t, prereqRule.RequiredBefore, string(phase), "%s should list %s in required_before", prereq, phase)
		}
	}
}

func TestRoughPhasesShareParallelShape(t *testing.T) {
	for _, p := range []Phase{ElectricalRough, PlumbingRough, HVACRough} {
		r, ok := Lookup(string(p))
		require.True(t, ok)
		assert.Equal(t, []string{string(Framing)}, r.Prerequisites)
		assert.NotContains(t, r.CannotOverlapWith, string(ElectricalRough))
		assert.NotContains(t, r.CannotOverlapWith, string(PlumbingRough))
		assert.NotContains(t, r.CannotOverlapWith, string(HVACRough))
	}
}
