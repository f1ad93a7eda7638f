package permission

import (
	"regexp"
	"strings"
)

// PolicyEffect is either an explicit allow or an explicit deny.
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "ALLOW"
	EffectDeny  PolicyEffect = "DENY"
)

// Policy attaches an effect to a set of permission codes. Codes may use
// `*` wildcards with the same matching rules as granted codes.
type Policy struct {
	Effect PolicyEffect `json:"effect"`
	Codes  []string     `json:"codes"`
}

// Evaluate decides whether a principal holding granted codes may perform
// the action identified by required. Deny policies override everything;
// otherwise an exact grant, a wildcard grant, or an allow policy suffices.
// The default is deny.
func Evaluate(granted map[string]struct{}, required string, policies []Policy) bool {
	for _, p := range policies {
		if p.Effect != EffectDeny {
			continue
		}
		for _, code := range p.Codes {
			if codeMatches(code, required) {
				return false
			}
		}
	}

	if _, ok := granted[required]; ok {
		return true
	}

	for code := range granted {
		if strings.Contains(code, "*") && codeMatches(code, required) {
			return true
		}
	}

	for _, p := range policies {
		if p.Effect != EffectAllow {
			continue
		}
		for _, code := range p.Codes {
			if codeMatches(code, required) {
				return true
			}
		}
	}

	return false
}

// HasAny reports whether any of the required codes evaluates to true.
func HasAny(granted map[string]struct{}, required []string, policies []Policy) bool {
	for _, r := range required {
		if Evaluate(granted, r, policies) {
			return true
		}
	}
	return false
}

// HasAll reports whether every required code evaluates to true.
func HasAll(granted map[string]struct{}, required []string, policies []Policy) bool {
	for _, r := range required {
		if !Evaluate(granted, r, policies) {
			return false
		}
	}
	return true
}

// GrantSet builds an evaluation set from a list of granted codes.
func GrantSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	return set
}

// codeMatches compares a possibly-wildcarded pattern against a concrete
// code. Each `*` matches any run of characters, anchored to the full
// string, so FIN-*-VIEW matches FIN-REPORTS-VIEW but not OPS-REPORTS-VIEW.
func codeMatches(pattern, code string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == code
	}
	segments := strings.Split(pattern, "*")
	for i, seg := range segments {
		segments[i] = regexp.QuoteMeta(seg)
	}
	re, err := regexp.Compile("^" + strings.Join(segments, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(code)
}
