package mqi

import (
	"encoding/json"
	"strings"
)

// Solution is one set of variable bindings produced by a query.
type Solution map[string]Term

// QueryResult is the decoded outcome of a query.
//
// A deterministic result carries no bindings: Deterministic is true and
// Success holds whether the goal succeeded. Otherwise Solutions holds the
// binding sets in the engine's enumeration order.
type QueryResult struct {
	Deterministic bool
	Success       bool
	Solutions     []Solution
}

// Succeeded reports whether the query succeeded, either deterministically
// or by producing solutions.
func (r *QueryResult) Succeeded() bool {
	if r.Deterministic {
		return r.Success
	}
	return true
}

func deterministicResult(success bool) *QueryResult {
	return &QueryResult{Deterministic: true, Success: success}
}

// decodeValue parses one frame payload as a generic JSON value. Numbers are
// kept as json.Number so the integer/float distinction survives.
func decodeValue(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// responseParts splits a response value into its top-level functor and
// argument list.
func responseParts(v any) (string, []any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", nil, false
	}
	return compoundParts(m)
}

// parseResponse turns a decoded frame payload into a QueryResult or the
// error the frame encodes.
func parseResponse(msg string) (*QueryResult, error) {
	v, err := decodeValue(msg)
	if err != nil {
		return nil, &ProtocolError{Message: "response is not valid JSON", Err: err}
	}

	// Some commands acknowledge failure with a bare quoted "false".
	if s, ok := v.(string); ok && s == "false" {
		return deterministicResult(false), nil
	}

	functor, args, ok := responseParts(v)
	if !ok {
		return nil, protocolErrorf("unrecognized response structure: %.200s", msg)
	}

	switch functor {
	case "false":
		return deterministicResult(false), nil

	case "true":
		if len(args) != 1 {
			return nil, protocolErrorf("unexpected arguments in 'true' response: %.200s", msg)
		}
		outer, ok := args[0].([]any)
		if !ok {
			return nil, protocolErrorf("expected a solutions list in 'true' response: %.200s", msg)
		}
		if len(outer) == 0 {
			return deterministicResult(true), nil
		}
		return parseSolutions(outer)

	case "exception":
		if len(args) != 1 {
			return nil, protocolErrorf("unexpected arguments in 'exception' response: %.200s", msg)
		}
		return nil, exceptionError(args[0])

	default:
		return nil, protocolErrorf("unknown response functor %q", functor)
	}
}

// parseSolutions builds the result for true([Solution, ...]). Each solution
// is a list of "="/2 binding terms; nothing else is admissible.
func parseSolutions(outer []any) (*QueryResult, error) {
	solutions := make([]Solution, 0, len(outer))

	for _, raw := range outer {
		bindings, ok := raw.([]any)
		if !ok {
			return nil, protocolErrorf("expected a binding list in solution, got %T", raw)
		}

		solution := make(Solution, len(bindings))
		for _, b := range bindings {
			m, ok := b.(map[string]any)
			if !ok {
				return nil, protocolErrorf("expected a binding term in solution, got %T", b)
			}
			functor, args, ok := compoundParts(m)
			if !ok || functor != "=" || len(args) != 2 {
				return nil, protocolErrorf("malformed binding term in solution")
			}
			name, ok := args[0].(string)
			if !ok {
				return nil, protocolErrorf("binding variable name is not a string")
			}
			solution[name] = TermFromValue(args[1])
		}
		solutions = append(solutions, solution)
	}

	return &QueryResult{Solutions: solutions}, nil
}

// exceptionError maps an exception term to the client error taxonomy.
func exceptionError(raw any) error {
	kind := "complex_exception"
	switch v := raw.(type) {
	case string:
		kind = v
	case map[string]any:
		if functor, _, ok := compoundParts(v); ok {
			kind = functor
		}
	}

	switch kind {
	case "connection_failed":
		return ErrConnectionFailed
	case "time_limit_exceeded":
		return ErrTimeout
	case "no_query":
		return ErrNoQuery
	case "cancel_goal":
		return ErrQueryCancelled
	case "result_not_available":
		return ErrResultNotAvailable
	case "no_more_results":
		return errNoMoreResults
	default:
		return &ExceptionError{Kind: kind, Term: TermFromValue(raw)}
	}
}
