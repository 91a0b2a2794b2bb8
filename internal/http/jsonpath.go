package http

import "strings"

// GjsonPath converts a simple JSONPath expression into gjson syntax.
// Paths that do not start with '$' are returned unchanged.
//
//	$.users[0].name -> users.0.name
//	$['data']       -> data
func GjsonPath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	r := strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "", "[", ".", "]", "")
	path = r.Replace(path)
	return strings.TrimPrefix(path, ".")
}
