package patch

import "strings"

// LabelPath returns the JSON pointer addressing label in a flat responses document.
func LabelPath(label string) string {
	return "/" + escapeJSONPointer(label)
}

func escapeJSONPointer(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

func unescapeJSONPointer(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}
