// Package rules holds the static construction phase rule table.
//
// The table is closed: it is built at compile time and never mutated. A phase
// missing from it is "unvalidated", which callers report as a warning rather
// than an error.
package rules

import "sort"

type Phase string

const (
	SitePreparation  Phase = "site_preparation"
	Excavation       Phase = "excavation"
	Foundation       Phase = "foundation"
	Framing          Phase = "framing"
	Roofing          Phase = "roofing"
	ElectricalRough  Phase = "electrical_rough"
	PlumbingRough    Phase = "plumbing_rough"
	HVACRough        Phase = "hvac_rough"
	Insulation       Phase = "insulation"
	Drywall          Phase = "drywall"
	InteriorFinishes Phase = "interior_finishes"
	ElectricalFinal  Phase = "electrical_final"
	PlumbingFinal    Phase = "plumbing_final"
	HVACFinal        Phase = "hvac_final"
	ExteriorFinishes Phase = "exterior_finishes"
	FinalInspection  Phase = "final_inspection"
	Landscaping      Phase = "landscaping"
)

// FoundationInspectionPassed is a condition, not a phase. No task carries it as
// its phase, so it can only be satisfied by a task whose name mentions it.
const FoundationInspectionPassed = "foundation_inspection_passed"

// PhaseRule describes the sequencing constraints of one phase.
type PhaseRule struct {
	Phase               Phase    `json:"phase"`
	Prerequisites       []string `json:"prerequisites"`
	InspectionsRequired []string `json:"inspections_required"`
	WeatherSensitive    bool     `json:"weather_sensitive"`
	MinCureTimeDays     *int     `json:"min_cure_time_days,omitempty"`
	TypicalDurationDays int      `json:"typical_duration_days"`
	CannotOverlapWith   []string `json:"cannot_overlap_with"`
	RequiredBefore      []string `json:"required_before"`
}

func days(n int) *int { return &n }

var registry = map[Phase]PhaseRule{
	SitePreparation: {
		Phase:               SitePreparation,
		WeatherSensitive:    true,
		TypicalDurationDays: 3,
		RequiredBefore:      []string{string(Excavation)},
	},
	Excavation: {
		Phase:               Excavation,
		Prerequisites:       []string{string(SitePreparation)},
		WeatherSensitive:    true,
		TypicalDurationDays: 5,
		CannotOverlapWith:   []string{string(Foundation)},
		RequiredBefore:      []string{string(Foundation)},
	},
	Foundation: {
		Phase:               Foundation,
		Prerequisites:       []string{string(Excavation)},
		InspectionsRequired: []string{"footing_inspection", "foundation_inspection"},
		WeatherSensitive:    true,
		MinCureTimeDays:     days(7),
		TypicalDurationDays: 10,
		CannotOverlapWith:   []string{string(Framing), string(Excavation)},
		RequiredBefore:      []string{string(Framing)},
	},
	Framing: {
		Phase:               Framing,
		Prerequisites:       []string{string(Foundation), FoundationInspectionPassed},
		InspectionsRequired: []string{"framing_inspection"},
		WeatherSensitive:    true,
		TypicalDurationDays: 15,
		CannotOverlapWith:   []string{string(Foundation), string(Drywall)},
		RequiredBefore: []string{
			string(Roofing), string(ElectricalRough), string(PlumbingRough), string(HVACRough),
		},
	},
	Roofing: {
		Phase:               Roofing,
		Prerequisites:       []string{string(Framing)},
		InspectionsRequired: []string{"roofing_inspection"},
		WeatherSensitive:    true,
		TypicalDurationDays: 7,
		RequiredBefore:      []string{string(Insulation), string(ExteriorFinishes)},
	},
	ElectricalRough: {
		Phase:               ElectricalRough,
		Prerequisites:       []string{string(Framing)},
		InspectionsRequired: []string{"electrical_rough_inspection"},
		TypicalDurationDays: 5,
		CannotOverlapWith:   []string{string(Insulation), string(Drywall)},
		RequiredBefore:      []string{string(Insulation)},
	},
	PlumbingRough: {
		Phase:               PlumbingRough,
		Prerequisites:       []string{string(Framing)},
		InspectionsRequired: []string{"plumbing_rough_inspection"},
		TypicalDurationDays: 5,
		CannotOverlapWith:   []string{string(Insulation), string(Drywall)},
		RequiredBefore:      []string{string(Insulation)},
	},
	HVACRough: {
		Phase:               HVACRough,
		Prerequisites:       []string{string(Framing)},
		InspectionsRequired: []string{"hvac_rough_inspection"},
		TypicalDurationDays: 4,
		CannotOverlapWith:   []string{string(Insulation), string(Drywall)},
		RequiredBefore:      []string{string(Insulation)},
	},
	Insulation: {
		Phase: Insulation,
		Prerequisites: []string{
			string(ElectricalRough), string(PlumbingRough), string(HVACRough), string(Roofing),
		},
		InspectionsRequired: []string{"insulation_inspection"},
		TypicalDurationDays: 3,
		CannotOverlapWith: []string{
			string(Drywall), string(ElectricalRough), string(PlumbingRough), string(HVACRough),
		},
		RequiredBefore: []string{string(Drywall)},
	},
	Drywall: {
		Phase:               Drywall,
		Prerequisites:       []string{string(Insulation)},
		TypicalDurationDays: 7,
		CannotOverlapWith: []string{
			string(Insulation), string(ElectricalRough), string(PlumbingRough), string(HVACRough), string(Framing),
		},
		RequiredBefore: []string{
			string(InteriorFinishes), string(ElectricalFinal), string(PlumbingFinal), string(HVACFinal),
		},
	},
	InteriorFinishes: {
		Phase:               InteriorFinishes,
		Prerequisites:       []string{string(Drywall)},
		TypicalDurationDays: 10,
		CannotOverlapWith:   []string{string(Drywall)},
		RequiredBefore:      []string{string(FinalInspection)},
	},
	ElectricalFinal: {
		Phase:               ElectricalFinal,
		Prerequisites:       []string{string(Drywall)},
		InspectionsRequired: []string{"electrical_final_inspection"},
		TypicalDurationDays: 3,
		RequiredBefore:      []string{string(FinalInspection)},
	},
	PlumbingFinal: {
		Phase:               PlumbingFinal,
		Prerequisites:       []string{string(Drywall)},
		InspectionsRequired: []string{"plumbing_final_inspection"},
		TypicalDurationDays: 3,
		RequiredBefore:      []string{string(FinalInspection)},
	},
	HVACFinal: {
		Phase:               HVACFinal,
		Prerequisites:       []string{string(Drywall)},
		InspectionsRequired: []string{"hvac_final_inspection"},
		TypicalDurationDays: 2,
		RequiredBefore:      []string{string(FinalInspection)},
	},
	ExteriorFinishes: {
		Phase:               ExteriorFinishes,
		Prerequisites:       []string{string(Roofing)},
		WeatherSensitive:    true,
		TypicalDurationDays: 10,
		RequiredBefore:      []string{string(Landscaping)},
	},
	FinalInspection: {
		Phase: FinalInspection,
		Prerequisites: []string{
			string(InteriorFinishes), string(ElectricalFinal), string(PlumbingFinal), string(HVACFinal),
		},
		InspectionsRequired: []string{"final_building_inspection", "certificate_of_occupancy"},
		TypicalDurationDays: 2,
	},
	Landscaping: {
		Phase:               Landscaping,
		Prerequisites:       []string{string(ExteriorFinishes)},
		WeatherSensitive:    true,
		TypicalDurationDays: 5,
	},
}

// Lookup returns the rule for a phase. ok is false for phases outside the table;
// that is an expected state, not a failure.
func Lookup(phase string) (PhaseRule, bool) {
	r, ok := registry[Phase(phase)]
	if !ok {
		return PhaseRule{}, false
	}
	return r.clone(), true
}

// Known reports whether the phase is in the table.
func Known(phase string) bool {
	_, ok := registry[Phase(phase)]
	return ok
}

// All returns every rule ordered by phase name.
func All() []PhaseRule {
	out := make([]PhaseRule, 0, len(registry))
	for _, r := range registry {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out
}

func (r PhaseRule) clone() PhaseRule {
	c := r
	c.Prerequisites = cloneStrings(r.Prerequisites)
	c.InspectionsRequired = cloneStrings(r.InspectionsRequired)
	c.CannotOverlapWith = cloneStrings(r.CannotOverlapWith)
	c.RequiredBefore = cloneStrings(r.RequiredBefore)
	if r.MinCureTimeDays != nil {
		c.MinCureTimeDays = days(*r.MinCureTimeDays)
	}
	return c
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
