package docketapp

import "regexp"

// fileIDPatterns are tried in order; the first capture group is the file ID.
var fileIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`drive\.google\.com/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`docs\.google\.com/(?:document|spreadsheets|presentation)/d/([a-zA-Z0-9_-]+)`),
}

// ResolveFileID extracts the Drive file ID from a sharing or editor URL.
// It reports false when the URL has none of the known shapes.
func ResolveFileID(url string) (string, bool) {
	for _, re := range fileIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1], true
		}
	}
	return "", false
}
