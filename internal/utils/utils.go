package utils

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// F64ToS converts float to string using the maximum accuracy
func F64ToS(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// MinMaxI returns the min and max of two integers
func MinMaxI(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}

/*
FindRegexGroups returns a map containing the group names as keys and the values matched as values, if the string value matches the regex.
*/
func FindRegexGroups(reg *regexp.Regexp, v string) (map[string]string, error) {
	matches := reg.FindStringSubmatch(v)
	if len(matches) == 0 {
		return nil, fmt.Errorf("failed to find submatch in regex %v for value %v", reg.String(), v)
	}

	groupNames := reg.SubexpNames()
	matches, groupNames = matches[1:], groupNames[1:]
	res := make(map[string]string, len(matches))
	for i := range groupNames {
		if groupNames[i] != "" {
			res[groupNames[i]] = matches[i]
		}
	}

	return res, nil
}

// URLJoin appends path elements to a base url
func URLJoin(url string, elems ...string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(url, "/"), path.Join(elems...))
}

// URLFileName returns the last element of the path of rawURL, without query nor fragment.
// It falls back to the last '/'-separated element if rawURL cannot be parsed.
func URLFileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return path.Base(rawURL)
}

// TrimExt returns the base name of file without its extension
func TrimExt(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ext returns the lower-case extension of file, without the leading dot
func Ext(file string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(file), "."))
}
