package incidence

import (
	"fmt"
	"strconv"
	"strings"
)

// BandWidth is the width in years of every closed CI5plus age band
const BandWidth = 5

// OpenBandLower is the lower bound of the open-ended oldest band (85+)
const OpenBandLower = 85

// AgeGroup is an ordinal five-year age band. Upper is -1 for the open band.
type AgeGroup struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// NewAgeGroup returns the band that starts at lower
func NewAgeGroup(lower int) (AgeGroup, error) {
	if lower < 0 || lower%BandWidth != 0 || lower > OpenBandLower {
		return AgeGroup{}, fmt.Errorf("age band must start at a multiple of %d in [0, %d], got %d", BandWidth, OpenBandLower, lower)
	}
	if lower == OpenBandLower {
		return AgeGroup{Lower: lower, Upper: -1}, nil
	}
	return AgeGroup{Lower: lower, Upper: lower + BandWidth - 1}, nil
}

// ParseAgeGroup accepts labels like "00-04", "15–19" and "85+"
func ParseAgeGroup(label string) (AgeGroup, error) {
	s := strings.TrimSpace(label)
	s = strings.NewReplacer("–", "-", "—", "-", " ", "").Replace(s)
	if s == "" {
		return AgeGroup{}, fmt.Errorf("empty age group")
	}

	if strings.HasSuffix(s, "+") {
		lower, err := strconv.Atoi(strings.TrimSuffix(s, "+"))
		if err != nil || lower != OpenBandLower {
			return AgeGroup{}, fmt.Errorf("invalid open age group %q", label)
		}
		return NewAgeGroup(lower)
	}

	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return AgeGroup{}, fmt.Errorf("invalid age group %q", label)
	}
	lower, err := strconv.Atoi(parts[0])
	if err != nil {
		return AgeGroup{}, fmt.Errorf("invalid age group %q: %w", label, err)
	}
	upper, err := strconv.Atoi(parts[1])
	if err != nil {
		return AgeGroup{}, fmt.Errorf("invalid age group %q: %w", label, err)
	}
	g, err := NewAgeGroup(lower)
	if err != nil {
		return AgeGroup{}, err
	}
	if g.Upper != upper {
		return AgeGroup{}, fmt.Errorf("invalid age group %q: expected upper bound %d", label, g.Upper)
	}
	return g, nil
}

// ParseAgeCode maps CI5plus age codes (1 = 0-4 ... 17 = 80-84, 18 = 85+) to bands.
// Code 19 (age unknown) is rejected.
func ParseAgeCode(code int) (AgeGroup, error) {
	if code < 1 || code > 18 {
		return AgeGroup{}, fmt.Errorf("age code %d outside 1..18", code)
	}
	return NewAgeGroup((code - 1) * BandWidth)
}

// Code returns the CI5plus age code of the band
func (g AgeGroup) Code() int {
	return g.Lower/BandWidth + 1
}

// IsOpen reports whether this is the open-ended oldest band
func (g AgeGroup) IsOpen() bool {
	return g.Upper < 0
}

// Midpoint is the continuous age used for the spline basis
func (g AgeGroup) Midpoint() float64 {
	if g.IsOpen() {
		return float64(g.Lower) + float64(BandWidth)/2
	}
	return float64(g.Lower+g.Upper+1) / 2
}

func (g AgeGroup) String() string {
	if g.IsOpen() {
		return fmt.Sprintf("%d+", g.Lower)
	}
	return fmt.Sprintf("%02d-%02d", g.Lower, g.Upper)
}

// StandardAgeGroups lists every CI5plus band in order
func StandardAgeGroups() []AgeGroup {
	groups := make([]AgeGroup, 0, OpenBandLower/BandWidth+1)
	for lower := 0; lower <= OpenBandLower; lower += BandWidth {
		g, _ := NewAgeGroup(lower)
		groups = append(groups, g)
	}
	return groups
}
