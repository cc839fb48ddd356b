package bindgen

import (
	"fmt"
	"strings"
)

// CandidateKind says how a candidate is invoked.
type CandidateKind uint8

const (
	CandidateConstructor CandidateKind = iota + 1
	CandidateMethod
	CandidateStatic
)

// Candidate is one overload in a dispatch group, bound to its native
// symbol.
type Candidate struct {
	Kind     CandidateKind
	Owner    string
	Callable *Callable
	Index    int
	Symbol   string
}

func (c *Candidate) Params() []TypeRef {
	return c.Callable.Params
}

func (c *Candidate) Result() *TypeRef {
	return c.Callable.Result
}

func (c *Candidate) String() string {
	return c.Owner + "::" + c.Callable.Signature()
}

// Group is the ordered overload set of one dispatch key.
type Group struct {
	Name       string
	Candidates []*Candidate
}

// Arities returns the distinct parameter counts in the group.
func (g *Group) Arities() []int {
	seen := map[int]bool{}
	var out []int
	for _, c := range g.Candidates {
		n := len(c.Callable.Params)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// IsOverloaded reports whether the group needs runtime resolution.
func (g *Group) IsOverloaded() bool {
	return len(g.Candidates) > 1
}

// Native symbol names. Every thunk exported by the generated glue code
// follows these patterns.

const symbolPrefix = "bindgen_"

func constructorSymbol(class string, index int) string {
	return fmt.Sprintf("%s%s_new_%d", symbolPrefix, class, index)
}

func methodSymbol(owner, method string, index int) string {
	return fmt.Sprintf("%s%s_%s_%d", symbolPrefix, owner, method, index)
}

func staticMethodSymbol(owner, method string, index int) string {
	return fmt.Sprintf("%s%s_static_%s_%d", symbolPrefix, owner, method, index)
}

func getterSymbol(owner, field string) string {
	return fmt.Sprintf("%s%s_get_%s", symbolPrefix, owner, field)
}

func setterSymbol(owner, field string) string {
	return fmt.Sprintf("%s%s_set_%s", symbolPrefix, owner, field)
}

func staticGetterSymbol(owner, field string) string {
	return fmt.Sprintf("%s%s_static_get_%s", symbolPrefix, owner, field)
}

func staticSetterSymbol(owner, field string) string {
	return fmt.Sprintf("%s%s_static_set_%s", symbolPrefix, owner, field)
}

// TypeIDSymbol returns the most derived declared class of an instance as a
// string. Only classes with subclasses have one.
func TypeIDSymbol(class string) string {
	return symbolPrefix + class + "_typeid"
}

// DeleteSymbol destroys an exclusively owned instance.
func DeleteSymbol(class string) string {
	return symbolPrefix + class + "_delete"
}

// ShareSymbol adds a native reference to a shared instance.
func ShareSymbol(class string) string {
	return symbolPrefix + class + "_share"
}

// UnshareSymbol drops a native reference to a shared instance.
func UnshareSymbol(class string) string {
	return symbolPrefix + class + "_unshare"
}

// CallbackImport is the host function the native side calls for the
// trampoline.
const CallbackImport = "_bindgen_invoke_callback"

// ThrowImport is called by a thunk that caught a native exception.
const ThrowImport = "_bindgen_throw"

// IsBindgenSymbol reports whether name follows the thunk naming scheme.
func IsBindgenSymbol(name string) bool {
	return strings.HasPrefix(name, symbolPrefix)
}
