package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Match tests text against pattern under the given operator. The boolean
// result is authoritative; the error is diagnostic only and is non-nil for
// malformed regular expressions and unknown operators, both of which count
// as non-matches.
//
// For OpMatches the pattern is compiled against the un-normalized text,
// with the engine's case-insensitive mode enabled unless caseSensitive is
// set. All other operators compare lower-cased text and pattern unless
// caseSensitive is set.
func Match(text string, op Operator, pattern string, caseSensitive bool) (bool, error) {
	if op == OpMatches {
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + pattern
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false, fmt.Errorf("compile pattern %q: %w", pattern, err)
		}
		return re.MatchString(text), nil
	}

	if !caseSensitive {
		text = strings.ToLower(text)
		pattern = strings.ToLower(pattern)
	}
	switch op {
	case OpContains:
		return strings.Contains(text, pattern), nil
	case OpEquals:
		return text == pattern, nil
	case OpStartsWith:
		return strings.HasPrefix(text, pattern), nil
	case OpEndsWith:
		return strings.HasSuffix(text, pattern), nil
	default:
		return false, fmt.Errorf("unknown match operator %q", string(op))
	}
}
