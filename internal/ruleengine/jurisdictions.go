package ruleengine

// Jurisdictions carries the merchant-level inputs of the geo predicates.
type Jurisdictions struct {
	// HomeCountry is the merchant's domestic jurisdiction (ISO 3166-1 alpha-2).
	HomeCountry string

	SanctionedCountries []string
	HighRiskCountries   []string

	// NewCustomerMaxAgeDays: accounts younger than this are "new".
	NewCustomerMaxAgeDays int
}

// DefaultJurisdictions returns the values used when none are configured.
func DefaultJurisdictions() Jurisdictions {
	return Jurisdictions{
		HomeCountry:           "US",
		SanctionedCountries:   []string{"CU", "IR", "KP", "SY"},
		HighRiskCountries:     []string{"AF", "BY", "MM", "NG", "VE", "YE"},
		NewCustomerMaxAgeDays: 30,
	}
}

// environment is the pre-processed form of Jurisdictions used on the hot path.
type environment struct {
	homeCountry           string
	sanctioned            codeSet
	highRisk              codeSet
	newCustomerMaxAgeDays int
}

func newEnvironment(j Jurisdictions) *environment {
	maxAge := j.NewCustomerMaxAgeDays
	if maxAge <= 0 {
		maxAge = DefaultJurisdictions().NewCustomerMaxAgeDays
	}
	return &environment{
		homeCountry:           normalizeCode(j.HomeCountry),
		sanctioned:            newCodeSet(j.SanctionedCountries...),
		highRisk:              newCodeSet(j.HighRiskCountries...),
		newCustomerMaxAgeDays: maxAge,
	}
}

type codeSet map[string]struct{}

func newCodeSet(codes ...string) codeSet {
	set := make(codeSet, len(codes))
	for _, c := range codes {
		if n := normalizeCode(c); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (s codeSet) has(code string) bool {
	if code == "" {
		return false
	}
	_, ok := s[code]
	return ok
}

func (s codeSet) hasAny(codes ...string) bool {
	for _, c := range codes {
		if s.has(c) {
			return true
		}
	}
	return false
}

var euCountries = newCodeSet(
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU", "IE",
	"IT", "LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE",
)

var eeaCountries = func() codeSet {
	set := newCodeSet("IS", "LI", "NO")
	for c := range euCountries {
		set[c] = struct{}{}
	}
	return set
}()
