// Package hgurl normalises Mercurial remote urls and derives
// filesystem-safe cache identifiers from them
package hgurl

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"
)

// last path segment of a normalised url, with an optional port specifier
// which is not part of the readable name
// eg. https://host.xz/path/repo/ or https://host.xz/path/repo:8080/
var tailSegmentRgx = regexp.MustCompile(`^.+/([^/:]+)(:\d+)?/$`)

// NormaliseURL returns given url with exactly one trailing "/".
// urls which only differ in trailing separators identify the same
// remote repository
func NormaliseURL(rawURL string) string {
	return strings.TrimRight(strings.TrimSpace(rawURL), "/") + "/"
}

// Identifier hashes given remote url into a string that only contains
// characters that are safe as a directory name. The value is a pure
// function of the url, 40 uppercase hex digits of the sha1 of the
// normalised url, followed by "-<repo name>" when the url has the usual
// scheme://host[:port]/path/repo shape. The suffix is purely for
// operator legibility, uniqueness comes from the digest.
func Identifier(rawURL string) string {
	nURL := NormaliseURL(rawURL)
	id := fmt.Sprintf("%040X", sha1.Sum([]byte(nURL)))

	if sections := tailSegmentRgx.FindStringSubmatch(nURL); sections != nil {
		id += "-" + sections[1]
	}
	return id
}
