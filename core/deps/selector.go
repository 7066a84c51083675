package deps

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	internalerrors "synsensors/internal/errors"
)

// SelectorKind is the collection-aggregation selector family (spec §4.3).
type SelectorKind int

const (
	SelectorDeviceClass SelectorKind = iota
	SelectorArea
	SelectorLabel
	SelectorRegex
	SelectorAttribute
	SelectorState
)

func (k SelectorKind) String() string {
	switch k {
	case SelectorDeviceClass:
		return "device_class"
	case SelectorArea:
		return "area"
	case SelectorLabel:
		return "label"
	case SelectorRegex:
		return "regex"
	case SelectorAttribute:
		return "attribute"
	case SelectorState:
		return "state"
	default:
		return "invalid"
	}
}

var selectorPrefixes = map[string]SelectorKind{
	"device_class": SelectorDeviceClass,
	"area":         SelectorArea,
	"label":        SelectorLabel,
	"regex":        SelectorRegex,
	"attribute":    SelectorAttribute,
	"state":        SelectorState,
}

// Selector is a parsed collection-aggregation target, e.g.
// `device_class:temperature`, with an optional exclusion list trailing the
// main selector via `! excl1, excl2`.
type Selector struct {
	Kind       SelectorKind
	Value      string
	Exclusions []string
	Raw        string
}

// regexCache memoizes compiled patterns across the process, since the same
// selector string is re-parsed on every dependency-extraction pass over a
// formula that is re-extracted on every reload.
var regexCache sync.Map // string -> *regexp.Regexp

// ParseSelector parses a raw selector string (the argument to an
// aggregation call, e.g. `sum("device_class:temperature ! sensor.attic")`)
// into a Selector. The exclusion suffix is introduced by `!` and is a
// comma-separated list of entity-ids to drop from the matched set.
func ParseSelector(raw string) (*Selector, error) {
	main := raw
	var exclusions []string
	if idx := strings.Index(raw, "!"); idx >= 0 {
		main = strings.TrimSpace(raw[:idx])
		exclPart := strings.TrimSpace(raw[idx+1:])
		for _, e := range strings.Split(exclPart, ",") {
			e = strings.TrimSpace(e)
			if e != "" {
				exclusions = append(exclusions, e)
			}
		}
	} else {
		main = strings.TrimSpace(main)
	}

	colon := strings.Index(main, ":")
	if colon < 0 {
		return nil, internalerrors.Syntax(fmt.Sprintf("invalid collection selector %q: missing ':'", raw))
	}
	prefix := main[:colon]
	value := main[colon+1:]
	kind, ok := selectorPrefixes[prefix]
	if !ok {
		return nil, internalerrors.Syntax(fmt.Sprintf("invalid collection selector %q: unknown prefix %q", raw, prefix))
	}

	if kind == SelectorRegex {
		if _, err := compileRegex(value); err != nil {
			return nil, internalerrors.Syntax(fmt.Sprintf("invalid regex selector %q: %v", raw, err))
		}
	}

	return &Selector{Kind: kind, Value: value, Exclusions: exclusions, Raw: raw}, nil
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// Regexp returns the compiled pattern for a SelectorRegex selector. Panics
// if called on a non-regex selector; callers must check Kind first.
func (s *Selector) Regexp() *regexp.Regexp {
	if s.Kind != SelectorRegex {
		panic("deps: Regexp() called on a non-regex selector")
	}
	re, _ := compileRegex(s.Value)
	return re
}
