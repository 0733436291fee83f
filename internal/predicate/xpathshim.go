package predicate

import (
	"regexp"
	"strings"
)

// TranslateXPath converts the small XPath subset the teacher's own
// fixtures use (and spec.md's scenario 3/4 test data: `x=7`,
// `count(/items/*)`) into CEL source text evaluated over the `case` and
// `ctx` variables. Unrecognized input is passed through unchanged, so
// plain CEL expressions (e.g. `case.x == 7`) keep working directly — this
// is a best-effort shim, not a full XPath engine (out of scope per
// spec.md §1: "the XML/YAWL specification parser... is an external
// collaborator").
//
// No direct teacher equivalent exists for this translator; it is the one
// new small component this repo adds to reconcile spec.md's explicit
// XPath requirement with CEL being the only expression engine retrieved
// in the corpus (see DESIGN.md).
func TranslateXPath(expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "true"
	}
	if !looksLikeXPath(expr) {
		return expr
	}
	expr = countFnPattern.ReplaceAllStringFunc(expr, func(m string) string {
		sub := countFnPattern.FindStringSubmatch(m)
		return "size(" + pathToCEL(sub[1]) + ")"
	})
	expr = pathPattern.ReplaceAllStringFunc(expr, func(m string) string {
		return pathToCEL(m)
	})
	return expr
}

var (
	countFnPattern = regexp.MustCompile(`count\(([^)]+)\)`)
	pathPattern    = regexp.MustCompile(`/[A-Za-z_][A-Za-z0-9_./*]*`)
)

func looksLikeXPath(expr string) bool {
	return strings.Contains(expr, "/") || strings.HasPrefix(strings.TrimSpace(expr), "count(")
}

// pathToCEL turns an absolute XPath-lite path like "/items/*" or
// "/doc/items/name" into a CEL field-access chain rooted at `case`:
// "case.items" (a trailing "/*" selects the container itself, matching
// the `count(/items/*)` -> child-count idiom from spec.md scenario 4) or
// "case.doc.items.name".
func pathToCEL(path string) string {
	path = strings.TrimPrefix(path, "/")
	segs := strings.Split(path, "/")
	var kept []string
	for _, s := range segs {
		if s == "*" || s == "" {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return "case"
	}
	return "case." + strings.Join(kept, ".")
}
