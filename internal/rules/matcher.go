package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Matches reports whether a rule applies to an event. The rule's source
// must equal the event source; the condition is then checked field by
// field against the event data.
func Matches(r Rule, source string, data map[string]interface{}) bool {
	if r.Source != source {
		return false
	}
	return MatchesCondition(r.Condition, data)
}

// MatchesCondition returns true iff the condition is empty or every
// entry has a corresponding event field that satisfies it. A missing
// field is always a non-match, even against a pure-wildcard pattern. A
// nil expected value only requires the field to be present.
func MatchesCondition(condition map[string]*string, data map[string]interface{}) bool {
	for key, expected := range condition {
		actual, ok := data[key]
		if !ok {
			return false
		}
		if expected == nil {
			continue
		}
		if !matchValue(*expected, stringify(actual)) {
			return false
		}
	}
	return true
}

func matchValue(expected, actual string) bool {
	if strings.Contains(expected, "*") {
		return globRegexp(expected).MatchString(actual)
	}
	return expected == actual
}

// globRegexp translates a glob pattern to an anchored regexp: the
// wildcard matches any run of characters, everything else is literal.
func globRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// stringify mirrors loose string comparison against opaque event data:
// numbers, bools, and strings all compare by their textual form.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integers without the
		// trailing ".0" so {"count": 3} matches condition "3".
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
