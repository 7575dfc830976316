package router

import "strings"

// MatchPath matches a concrete request path against a path template and
// returns the named captures. Template segments are literal, ":name" (single
// segment capture), or "*name" (remaining-path capture). A wildcard always
// absorbs the rest of the path, including an empty remainder.
//
// Match precedence across a contract is declaration order: the router probes
// entries first-declared-first and stops at the first hit. There is no
// specificity scoring; contract authors rely on declaration order.
func MatchPath(template, path string) (map[string]string, bool) {
	tmplSegs := splitPath(template)
	pathSegs := splitPath(path)

	captures := make(map[string]string)
	for i, seg := range tmplSegs {
		if strings.HasPrefix(seg, "*") {
			captures[seg[1:]] = strings.Join(pathSegs[i:], "/")
			return captures, true
		}
		if i >= len(pathSegs) {
			return nil, false
		}
		if strings.HasPrefix(seg, ":") {
			if pathSegs[i] == "" {
				return nil, false
			}
			captures[seg[1:]] = pathSegs[i]
			continue
		}
		if seg != pathSegs[i] {
			return nil, false
		}
	}
	if len(pathSegs) != len(tmplSegs) {
		return nil, false
	}
	return captures, true
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
