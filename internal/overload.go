package bindgen

import (
	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// convertPrimitive widens v to the tag to. Exact is true when no widening
// was needed.
func convertPrimitive(v Value, to Tag) (out Value, exact bool, ok bool) {
	from := v.Tag
	if from == to {
		return v, true, true
	}

	switch {
	case isInteger(from) && isInteger(to):
		fromSize, toSize := intSize(from), intSize(to)
		switch {
		case isSigned(from) && isSigned(to) && toSize > fromSize:
			return Value{Tag: to, I: v.I}, false, true
		case isUnsigned(from) && isUnsigned(to) && toSize > fromSize:
			return Value{Tag: to, U: v.U}, false, true
		case isUnsigned(from) && isSigned(to) && toSize > fromSize:
			return Value{Tag: to, I: int64(v.U)}, false, true
		}
	case isInteger(from) && (to == TagFloat64 || (to == TagFloat32 && intSize(from) <= 2)):
		f := float64(v.I)
		if isUnsigned(from) {
			f = float64(v.U)
		}
		return Value{Tag: to, F: f}, false, true
	case from == TagFloat32 && to == TagFloat64:
		return Value{Tag: to, F: v.F}, false, true
	case from == TagString && to == TagWString:
		return Value{Tag: to, S: v.S}, false, true
	}

	return Value{}, false, false
}

// match reports whether arg can be passed where param is declared.
func (b *Bindings) match(param TypeRef, arg Value) (exact bool, ok bool) {
	switch param.Kind {
	case KindPrimitive:
		if !arg.Tag.IsPrimitive() {
			return false, false
		}
		_, exact, ok = convertPrimitive(arg, param.Prim)
		return exact, ok
	case KindStruct:
		return true, arg.Tag == TagStruct && arg.Class == param.Name
	case KindExclusive, KindShared, KindBorrowed:
		if arg.Tag != TagHandle && arg.Tag != TagPointer {
			return false, false
		}
		if arg.U == 0 {
			return true, true
		}
		if param.Kind == KindShared && arg.Ownership != Shared {
			return false, false
		}
		if arg.Class == param.Name {
			return true, true
		}
		class, found := b.classes[arg.Class]
		if !found || !class.IsA(param.Name) {
			return false, false
		}
		return false, true
	case KindCallback:
		return true, arg.Tag == TagCallback
	}
	return false, false
}

func argTypeNames(args []Value) []string {
	names := make([]string, len(args))
	for i := range args {
		names[i] = args[i].TypeName()
	}
	return names
}

// Resolve picks the candidate of g that accepts args: exact arity first,
// then per position compatibility. With several matches the single one that
// needs no widening or upcast wins.
func (b *Bindings) Resolve(logger *zap.Logger, g *Group, args []Value) (*Candidate, error) {
	var matches, exact []*Candidate

	for _, cand := range g.Candidates {
		params := cand.Params()
		if len(params) != len(args) {
			continue
		}

		allExact, ok := true, true
		for i := range params {
			e, m := b.match(params[i], args[i])
			if !m {
				ok = false
				break
			}
			allExact = allExact && e
		}
		if !ok {
			continue
		}

		matches = append(matches, cand)
		if allExact {
			exact = append(exact, cand)
		}
	}

	var chosen *Candidate
	switch {
	case len(matches) == 1:
		chosen = matches[0]
	case len(exact) == 1:
		chosen = exact[0]
	case len(matches) == 0:
		return nil, bgerrors.NoMatchingOverload(g.Name, argTypeNames(args))
	default:
		pool := exact
		if len(pool) == 0 {
			pool = matches
		}
		names := make([]string, len(pool))
		for i := range pool {
			names[i] = pool[i].Callable.Signature()
		}
		return nil, bgerrors.AmbiguousOverload(g.Name, argTypeNames(args), names)
	}

	if logger != nil && g.IsOverloaded() {
		logger.Debug("resolved overload",
			zap.String("group", g.Name),
			zap.String("candidate", chosen.Callable.Signature()),
			zap.String("symbol", chosen.Symbol),
		)
	}

	return chosen, nil
}
