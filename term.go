package mqi

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Term is a decoded Prolog term. The set of implementations is closed:
// Atom, Variable, Integer, Float, Bool, List, Compound and Opaque.
//
// Equality between terms is structural; reflect.DeepEqual (or testify's
// assert.Equal) compares any two terms correctly.
type Term interface {
	isTerm()
}

// Atom is a Prolog atom or string.
type Atom string

// Variable is a Prolog variable name. Variables only ever appear as the
// bound name inside a solution; a plain string in a value position always
// decodes as Atom.
type Variable string

// Integer is a Prolog integer.
type Integer int64

// Float is a Prolog floating point number.
type Float float64

// Bool is a Prolog true/false value.
type Bool bool

// List is a Prolog list.
type List []Term

// Compound is a Prolog compound term: functor(arg1, ..., argN).
type Compound struct {
	Functor string
	Args    []Term
}

// Opaque carries any JSON value the classifier does not recognize. It never
// drops information: the raw value round-trips through TermToValue.
type Opaque struct {
	Value any
}

func (Atom) isTerm()     {}
func (Variable) isTerm() {}
func (Integer) isTerm()  {}
func (Float) isTerm()    {}
func (Bool) isTerm()     {}
func (List) isTerm()     {}
func (Compound) isTerm() {}
func (Opaque) isTerm()   {}

// TermFromValue classifies a generic JSON value as a Term.
//
// Strings become atoms, never variables: variable names exist only as the
// first argument of an "="/2 binding, which the solution parser handles
// itself. Numbers keep the integer/float distinction when they arrive as
// json.Number (the frame parser decodes with UseNumber for this reason).
// Anything unrecognized is preserved as Opaque.
func TermFromValue(v any) Term {
	switch v := v.(type) {
	case bool:
		return Bool(v)
	case string:
		return Atom(v)
	case json.Number:
		return termFromNumber(v)
	case float64:
		// Plain float64 has lost its literal; fall back to a value check.
		if v == math.Trunc(v) && !math.IsInf(v, 0) && math.Abs(v) < float64(math.MaxInt64) {
			return Integer(int64(v))
		}
		return Float(v)
	case int:
		return Integer(v)
	case int64:
		return Integer(v)
	case []any:
		list := make(List, len(v))
		for i, e := range v {
			list[i] = TermFromValue(e)
		}
		return list
	case map[string]any:
		if functor, args, ok := compoundParts(v); ok {
			c := Compound{Functor: functor, Args: make([]Term, len(args))}
			for i, a := range args {
				c.Args[i] = TermFromValue(a)
			}
			return c
		}
		return Opaque{Value: v}
	default:
		return Opaque{Value: v}
	}
}

// TermToValue converts a Term back into a generic JSON value. Together with
// TermFromValue it is lossless for every term shape except Variable, which
// has no value-position encoding and comes back as Atom.
func TermToValue(t Term) any {
	switch t := t.(type) {
	case Atom:
		return string(t)
	case Variable:
		return string(t)
	case Integer:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case Float:
		return json.Number(formatFloatLiteral(float64(t)))
	case Bool:
		return bool(t)
	case List:
		values := make([]any, len(t))
		for i, e := range t {
			values[i] = TermToValue(e)
		}
		return values
	case Compound:
		args := make([]any, len(t.Args))
		for i, a := range t.Args {
			args[i] = TermToValue(a)
		}
		return map[string]any{"functor": t.Functor, "args": args}
	case Opaque:
		return t.Value
	default:
		return nil
	}
}

func termFromNumber(n json.Number) Term {
	if !strings.ContainsAny(string(n), ".eE") {
		if i, err := n.Int64(); err == nil {
			return Integer(i)
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Opaque{Value: n}
	}
	return Float(f)
}

// formatFloatLiteral renders f so it parses back as a float, keeping an
// explicit fraction or exponent marker even for whole values.
func formatFloatLiteral(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// compoundParts extracts the functor/args pair from a JSON object form.
func compoundParts(m map[string]any) (string, []any, bool) {
	functor, ok := m["functor"].(string)
	if !ok {
		return "", nil, false
	}
	args, ok := m["args"].([]any)
	if !ok {
		return "", nil, false
	}
	return functor, args, true
}

// TermString renders a term back to Prolog syntax. Best effort, intended
// for diagnostics and logs rather than protocol traffic.
func TermString(t Term) string {
	switch t := t.(type) {
	case Atom:
		return quoteAtom(string(t))
	case Variable:
		return string(t)
	case Integer:
		return strconv.FormatInt(int64(t), 10)
	case Float:
		return strconv.FormatFloat(float64(t), 'g', -1, 64)
	case Bool:
		if t {
			return "true"
		}
		return "false"
	case List:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = TermString(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Compound:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = TermString(a)
		}
		return quoteAtom(t.Functor) + "(" + strings.Join(parts, ", ") + ")"
	case Opaque:
		raw, err := json.Marshal(t.Value)
		if err != nil {
			return "<opaque>"
		}
		return string(raw)
	default:
		return "<invalid>"
	}
}

// quoteAtom wraps an atom in single quotes when Prolog syntax requires it.
func quoteAtom(name string) string {
	if name == "" {
		return "''"
	}

	needsQuote := name == "true" || name == "false" || name == "fail" || name == "!"
	if !needsQuote {
		first := []rune(name)[0]
		needsQuote = !unicode.IsLower(first)
	}
	if !needsQuote {
		for _, r := range name {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				needsQuote = true
				break
			}
		}
	}

	if !needsQuote {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
