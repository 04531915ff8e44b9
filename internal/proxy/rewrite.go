package proxy

import (
	"path"
	"regexp"
	"strings"
)

// uriAttrRe matches the URI="..." attribute carried by #EXT-X-KEY,
// #EXT-X-MAP and #EXT-X-MEDIA directive lines.
var uriAttrRe = regexp.MustCompile(`URI="([^"]*)"`)

// RewritePlaylist signs every child URI in an HLS playlist (media
// segments, encryption keys, sub-playlists) (§4.5): each URI is resolved
// to an absolute fs path, signed for that path, and the signature query is
// appended to the URI as written (a relative URI stays relative). dirPath
// is the fs-path directory the playlist itself lives
// in, used to resolve relative child URIs. sign is called once per child
// URI with its resolved absolute fs path and must return the query string
// to append (without a leading '?' or '&').
func RewritePlaylist(body []byte, dirPath string, sign func(fsPath string) string) []byte {
	lines := strings.Split(string(body), "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(trimmed, "#"):
			if uriAttrRe.MatchString(trimmed) {
				lines[i] = uriAttrRe.ReplaceAllStringFunc(trimmed, func(m string) string {
					sub := uriAttrRe.FindStringSubmatch(m)
					return `URI="` + rewriteOne(sub[1], dirPath, sign) + `"`
				})
			}
		case trimmed == "":
			// blank line, leave as-is
		default:
			lines[i] = rewriteOne(trimmed, dirPath, sign)
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// rewriteOne appends a signature to one child URI, skipping URIs that are
// already signed or that reference another host entirely.
func rewriteOne(uri, dirPath string, sign func(fsPath string) string) string {
	if strings.Contains(uri, "sign=") {
		return uri
	}
	if strings.Contains(uri, "://") {
		return uri
	}

	fsPath := uri
	if !strings.HasPrefix(uri, "/") {
		fsPath = path.Join(dirPath, uri)
	}

	query := sign(fsPath)
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + query
}
