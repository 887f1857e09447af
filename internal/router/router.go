// Package router is the Step Router of spec.md §4.5 (C5): it compiles each
// driver's introspected step patterns (§6.3) into a combined matcher and
// resolves a feature-file step line to {driverId, action, args}.
//
// The compile-once, match-many shape and the registration-order bookkeeping
// are grounded on the teacher's driver.Manifest/runtime selection code
// (daemon/language.go picks a driver for a language the same way this
// package picks a driver for a step: compare candidates, break ties
// deterministically, never on map iteration order).
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/runix/runixd/internal/driverclient"
	"github.com/runix/runixd/internal/engineerr"
	"github.com/runix/runixd/internal/metrics"
)

// Arg is one captured, type-converted step argument (§4.5: "converted to
// the declared parameter type (string/int)").
type Arg struct {
	Name  string
	Value interface{}
}

// Resolution is a successful resolve() result.
type Resolution struct {
	DriverID string
	Action   string
	Args     []Arg
}

// Suggestion is a candidate offered when resolve() finds no match (§4.5,
// SPEC_FULL.md supplement #2).
type Suggestion struct {
	DriverID string
	Pattern  string
	Overlap  int
}

// compiledStep is one driver's step pattern, compiled to a regexp plus
// enough bookkeeping to apply the tie-break rule.
type compiledStep struct {
	driverID    string
	order       int // registration order, for tie-break (2)
	def         driverclient.StepDefinition
	re          *regexp.Regexp
	literalLen  int // count of non-placeholder, non-whitespace characters
	literalToks []string
	// groupTypes is the placeholder type ("string"/"int"/"word") of each
	// captured group in source order, as encoded directly by the pattern
	// grammar (§6.3) — the primary source of truth for arg conversion.
	groupTypes []string
}

// Router is the Step Router (C5).
type Router struct {
	mu    sync.RWMutex
	steps []*compiledStep
	// driverOrder records the registration sequence of each driver id, so
	// tie-break (2) ("first in stable Registry order") is well defined even
	// after steps are re-registered on a reload.
	driverOrder map[string]int
	nextOrder   int
}

// New creates an empty Router.
func New() *Router {
	return &Router{driverOrder: make(map[string]int)}
}

// RegisterSteps compiles and adds driverID's step definitions, satisfying
// registry.StepRegistrar. Re-registering the same driverID replaces its
// previously registered steps, so a driver restart does not accumulate
// duplicates.
func (r *Router) RegisterSteps(driverID string, steps []driverclient.StepDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, known := r.driverOrder[driverID]
	if !known {
		order = r.nextOrder
		r.nextOrder++
		r.driverOrder[driverID] = order
	}

	kept := r.steps[:0:0]
	for _, s := range r.steps {
		if s.driverID != driverID {
			kept = append(kept, s)
		}
	}

	for _, def := range steps {
		cs, err := compile(driverID, order, def)
		if err != nil {
			continue // malformed pattern: dropped, not fatal to the rest
		}
		kept = append(kept, cs)
	}

	r.steps = kept
}

// ReloadFrom replaces the entire step table from a fresh registry snapshot
// (§4.5 reloadFrom(registry)). Driver registration order restarts from the
// snapshot's ids in sorted order.
func (r *Router) ReloadFrom(snapshot map[string][]driverclient.StepDefinition) {
	r.mu.Lock()
	r.steps = nil
	r.driverOrder = make(map[string]int)
	r.nextOrder = 0
	r.mu.Unlock()

	// Preserve snapshot iteration determinism by registering driver ids in
	// sorted order: the caller's map has no stable order of its own.
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r.RegisterSteps(id, snapshot[id])
	}
}

var placeholderRe = regexp.MustCompile(`\{string\}|\{int\}|\{word\}`)

// compile turns one StepDefinition's pattern (§6.3 grammar: literal text,
// {string}/{int}/{word} placeholders, and legacy regex groups) into a
// regexp anchored to the whole step text.
func compile(driverID string, order int, def driverclient.StepDefinition) (*compiledStep, error) {
	pattern := def.Pattern
	var b strings.Builder
	b.WriteString("^")

	literalLen := 0
	var toks []string
	var paramTypes []string

	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "{string}"):
			b.WriteString(`"([^"]*)"`)
			paramTypes = append(paramTypes, "string")
			i += len("{string}")
		case strings.HasPrefix(pattern[i:], "{int}"):
			b.WriteString(`(-?\d+)`)
			paramTypes = append(paramTypes, "int")
			i += len("{int}")
		case strings.HasPrefix(pattern[i:], "{word}"):
			b.WriteString(`(\S+)`)
			paramTypes = append(paramTypes, "word")
			i += len("{word}")
		case pattern[i] == '(':
			// Legacy regex group: copy through to the matching close paren
			// verbatim so arbitrary regex continues to work (§6.3).
			depth := 0
			start := i
			for ; i < len(pattern); i++ {
				if pattern[i] == '(' {
					depth++
				} else if pattern[i] == ')' {
					depth--
					if depth == 0 {
						i++
						break
					}
				}
			}
			b.WriteString(pattern[start:i])
			paramTypes = append(paramTypes, "string")
		case pattern[i] == ' ':
			b.WriteString(`\s+`)
			for i < len(pattern) && pattern[i] == ' ' {
				i++
			}
		default:
			r := pattern[i]
			b.WriteString(regexp.QuoteMeta(string(r)))
			if r != ' ' {
				literalLen++
			}
			i++
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}

	for _, tok := range strings.Fields(placeholderRe.ReplaceAllString(pattern, " \x00 ")) {
		if tok != "\x00" {
			toks = append(toks, tok)
		}
	}

	return &compiledStep{
		driverID:    driverID,
		order:       order,
		def:         def,
		re:          re,
		literalLen:  literalLen,
		literalToks: toks,
		groupTypes:  paramTypes,
	}, nil
}

// NoMatch is returned by Resolve when no pattern matches stepText. It
// carries ranked suggestions for the caller to surface (SPEC_FULL.md
// supplement #2).
type NoMatch struct {
	StepText    string
	Suggestions []Suggestion
}

func (e *NoMatch) Error() string {
	return fmt.Sprintf("no step matches %q", e.StepText)
}

// Resolve matches stepText against every compiled pattern and applies the
// tie-break rule of §4.5 when more than one matches.
func (r *Router) Resolve(stepText string) (*Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*compiledStep
	var matches [][]string

	for _, s := range r.steps {
		if m := s.re.FindStringSubmatch(stepText); m != nil {
			candidates = append(candidates, s)
			matches = append(matches, m)
		}
	}

	if len(candidates) == 0 {
		metrics.ObserveResolution(false)
		return nil, &NoMatch{StepText: stepText, Suggestions: r.suggest(stepText)}
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		if better(candidates[i], candidates[best]) {
			best = i
		}
	}

	cs := candidates[best]
	m := matches[best]
	args, err := convertArgs(cs, m[1:])
	if err != nil {
		metrics.ObserveResolution(false)
		return nil, engineerr.ErrStepResolution.New(stepText)
	}

	metrics.ObserveResolution(true)
	return &Resolution{DriverID: cs.driverID, Action: cs.def.Action, Args: args}, nil
}

// better reports whether a is preferred over b under the tie-break rule:
// (1) more literal characters, (2) earlier registration order, (3)
// lexicographically smaller driver id.
func better(a, b *compiledStep) bool {
	if a.literalLen != b.literalLen {
		return a.literalLen > b.literalLen
	}
	if a.order != b.order {
		return a.order < b.order
	}
	return a.driverID < b.driverID
}

func convertArgs(cs *compiledStep, raw []string) ([]Arg, error) {
	args := make([]Arg, 0, len(raw))
	for i, v := range raw {
		var name string
		if i < len(cs.def.Parameters) {
			name = cs.def.Parameters[i].Name
		}

		typ := "string"
		if i < len(cs.groupTypes) {
			typ = cs.groupTypes[i]
		}

		switch typ {
		case "int":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, err
			}
			args = append(args, Arg{Name: name, Value: n})
		default:
			args = append(args, Arg{Name: name, Value: v})
		}
	}
	return args, nil
}

// suggest ranks every known pattern by how many leading literal tokens it
// shares with stepText (§4.5: "candidate suggestions (patterns whose
// literal-token prefix overlaps the step text)").
func (r *Router) suggest(stepText string) []Suggestion {
	words := strings.Fields(stepText)

	var out []Suggestion
	for _, s := range r.steps {
		overlap := prefixOverlap(s.literalToks, words)
		if overlap > 0 {
			out = append(out, Suggestion{DriverID: s.driverID, Pattern: s.def.Pattern, Overlap: overlap})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Overlap != out[j].Overlap {
			return out[i].Overlap > out[j].Overlap
		}
		return out[i].DriverID < out[j].DriverID
	})

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func prefixOverlap(toks, words []string) int {
	n := 0
	for n < len(toks) && n < len(words) && strings.EqualFold(toks[n], words[n]) {
		n++
	}
	return n
}
