package identity

import (
	"strings"
	"sync"
)

// Resolver normalizes chat addresses and classifies gateway identifiers.
//
// Addressing rules:
// - Numbers arrive reformatted across sources (with/without country code,
//   area code, leading mobile digit). Matching is heuristic by design.
// - Some gateway sender ids are opaque internal identifiers, not dialable
//   numbers. Those are detected and mapped back to real numbers at runtime.
// - The opaque-id mapping lives for the process lifetime only; it is a
//   routing hint, never a source of truth.
type Resolver struct {
	countryCode    string
	maxDigits      int
	opaqueMax      int
	opaquePrefixes []string

	mu       sync.RWMutex
	mappings map[string]string // opaque id -> real address, digits only
}

// Options tunes the resolver for a numbering plan. Zero values fall back
// to the Brazilian defaults the service was built around.
type Options struct {
	// CountryCode is prepended to bare in-country subscriber numbers.
	CountryCode string
	// MaxDigits is the canonical number length; longer inputs keep only
	// the trailing MaxDigits digits.
	MaxDigits int
	// OpaqueThreshold is the digit count above which an identifier is
	// never a dialable number.
	OpaqueThreshold int
	// OpaquePrefixes are known non-geographic prefixes used by the
	// gateway for internal identifiers.
	OpaquePrefixes []string
}

var defaultOpaquePrefixes = []string{"6469", "5629", "6529", "5649", "4629", "4569", "5469", "6549"}

func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		countryCode:    opts.CountryCode,
		maxDigits:      opts.MaxDigits,
		opaqueMax:      opts.OpaqueThreshold,
		opaquePrefixes: opts.OpaquePrefixes,
		mappings:       make(map[string]string),
	}
	if r.countryCode == "" {
		r.countryCode = "55"
	}
	if r.maxDigits <= 0 {
		r.maxDigits = 13
	}
	if r.opaqueMax <= 0 {
		r.opaqueMax = 14
	}
	if len(r.opaquePrefixes) == 0 {
		r.opaquePrefixes = defaultOpaquePrefixes
	}
	return r
}

// Normalize reduces a raw address to its canonical digit form. The
// truncation step can expose a fresh leading zero, so the rules are
// re-applied until the value is stable: Normalize(Normalize(x)) ==
// Normalize(x).
func (r *Resolver) Normalize(raw string) string {
	clean := digits(raw)
	for {
		next := r.canonicalize(clean)
		if next == clean {
			return clean
		}
		clean = next
	}
}

func (r *Resolver) canonicalize(clean string) string {
	if clean == "" {
		return ""
	}

	// Leading zeros are international dial prefixes, not part of the number.
	clean = strings.TrimLeft(clean, "0")

	// Bare subscriber numbers (area code + 8-9 digit line) get the home
	// country code.
	if len(clean) == 10 || len(clean) == 11 {
		clean = r.countryCode + clean
	}

	return suffix(clean, r.maxDigits)
}

// Match reports whether two addresses plausibly refer to the same line.
// Canonical equality wins; otherwise shared trailing digit runs cover
// inconsistent inclusion of area code (8), leading mobile digit (9) and
// country code (11) across sources. Symmetric by construction.
func (r *Resolver) Match(a, b string) bool {
	p1 := r.Normalize(a)
	p2 := r.Normalize(b)
	if p1 == "" || p2 == "" {
		return false
	}
	if p1 == p2 {
		return true
	}
	for _, n := range []int{8, 9, 11} {
		if suffix(p1, n) == suffix(p2, n) {
			return true
		}
	}
	return false
}

// IsOpaque reports whether an identifier is a gateway-internal id rather
// than a dialable number.
func (r *Resolver) IsOpaque(id string) bool {
	clean := digits(id)
	if clean == "" {
		return false
	}

	if len(clean) > r.opaqueMax {
		return true
	}

	for _, p := range r.opaquePrefixes {
		if strings.HasPrefix(clean, p) {
			return true
		}
	}

	// Long number without the home country code: check that the leading
	// pair looks like an in-country area code (11-99). Anything else is
	// not a shape this gateway produces for real numbers.
	if !strings.HasPrefix(clean, r.countryCode) && len(clean) >= 12 {
		area := leadingPair(clean)
		if area < 11 || area > 99 {
			return true
		}
	}

	return false
}

// LearnMapping records that an opaque identifier belongs to a real address,
// so future outbound replies can be routed to the dialable number.
func (r *Resolver) LearnMapping(opaqueID, realAddress string) {
	o := digits(opaqueID)
	real := digits(realAddress)
	if o == "" || real == "" {
		return
	}
	r.mu.Lock()
	r.mappings[o] = real
	r.mu.Unlock()
}

// Resolve returns the learned real address for an identifier, or the
// digit-cleaned input unchanged when no mapping exists.
func (r *Resolver) Resolve(id string) string {
	clean := digits(id)
	r.mu.RLock()
	mapped, ok := r.mappings[clean]
	r.mu.RUnlock()
	if ok {
		return mapped
	}
	return clean
}

func digits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteByte(byte(c))
		}
	}
	return b.String()
}

func suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func leadingPair(s string) int {
	if len(s) < 2 {
		return 0
	}
	return int(s[0]-'0')*10 + int(s[1]-'0')
}
