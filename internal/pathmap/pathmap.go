// Package pathmap translates between server-side DBGp file URIs and
// client-side filesystem paths using an ordered prefix-mapping table
// (spec §4.2). The teacher resolves its own record/replay snapshot paths
// with path.Clean/path.Base (engine/record.go, engine/replay.go); this
// package follows the same slash-normalized style for URL segments while
// handling the Windows/UNC/POSIX conversion rules the teacher never needed.
package pathmap

import (
	"net/url"
	"path"
	"strings"
)

// Entry is one (server URI prefix, client path prefix) pair.
type Entry struct {
	ServerURI  string
	ClientPath string
}

// Mapping is an ordered set of Entry values (spec §3 PathMapping).
type Mapping []Entry

// normalizeTrailingSlash appends a trailing slash if absent.
func normalizeTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") || strings.HasSuffix(s, "\\") {
		return s
	}
	return s + "/"
}

// windowsDriveURIPattern reports whether a file URI encodes a Windows drive
// letter: file:///<letter>:/... .
func windowsDriveURIPattern(uri string) (letter byte, rest string, ok bool) {
	const prefix = "file:///"
	if !strings.HasPrefix(uri, prefix) {
		return 0, "", false
	}
	rest = uri[len(prefix):]
	if len(rest) >= 2 && isDriveLetter(rest[0]) && rest[1] == ':' {
		return rest[0], rest, true
	}
	return 0, "", false
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// windowsUNCURIPattern reports whether a file URI encodes a UNC host:
// file://<host>/....
func windowsUNCURIPattern(uri string) (host string, ok bool) {
	const prefix = "file://"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	rest := uri[len(prefix):]
	if rest == "" || rest[0] == '/' {
		return "", false
	}
	if idx := strings.IndexByte(rest, '/'); idx > 0 {
		return rest[:idx], true
	}
	return "", false
}

// SameURI implements spec §4.2's same_uri: byte-equal, except Windows-drive
// or UNC file URIs compare case-insensitively.
func SameURI(a, b string) bool {
	if a == b {
		return true
	}
	if _, _, ok := windowsDriveURIPattern(a); ok {
		return strings.EqualFold(a, b)
	}
	if _, _, ok := windowsDriveURIPattern(b); ok {
		return strings.EqualFold(a, b)
	}
	if _, ok := windowsUNCURIPattern(a); ok {
		return strings.EqualFold(a, b)
	}
	if _, ok := windowsUNCURIPattern(b); ok {
		return strings.EqualFold(a, b)
	}
	return false
}

// escapeUnsafe percent-encodes the unsafe characters of a path segment
// without touching the forward slashes already present.
func escapeUnsafe(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func unescapeUnsafe(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		if unesc, err := url.PathUnescape(s); err == nil {
			segments[i] = unesc
		}
	}
	return strings.Join(segments, "/")
}

// PathToURI converts a client filesystem path to URL form per spec §4.2's
// path-to-URL conversion rules.
func PathToURI(p string) string {
	if len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':' {
		if len(p) == 2 {
			p = p + `\`
		}
		rest := p[2:]
		rest = strings.ReplaceAll(rest, `\`, "/")
		rest = strings.TrimPrefix(rest, "/")
		return "file:///" + string(p[0]) + ":/" + escapeUnsafe(rest)
	}
	if strings.HasPrefix(p, `\\`) {
		rest := strings.TrimPrefix(p, `\\`)
		rest = strings.ReplaceAll(rest, `\`, "/")
		parts := strings.SplitN(rest, "/", 2)
		host := strings.ToLower(parts[0])
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}
		return "file://" + host + "/" + escapeUnsafe(tail)
	}
	return "file://" + escapeUnsafe(p)
}

// URIToPath converts a file:// URI back to client path form, mirroring
// PathToURI. Non-file schemes (sshfs://, dbgp:...) pass through unchanged.
func URIToPath(uri string) string {
	if letter, rest, ok := windowsDriveURIPattern(uri); ok {
		tail := rest[2:] // after "X:"
		tail = strings.TrimPrefix(tail, "/")
		tail = unescapeUnsafe(tail)
		tail = strings.ReplaceAll(tail, "/", `\`)
		return string(letter) + ":\\" + tail
	}
	if host, ok := windowsUNCURIPattern(uri); ok {
		tail := strings.TrimPrefix(uri, "file://"+host)
		tail = strings.TrimPrefix(tail, "/")
		tail = unescapeUnsafe(tail)
		tail = strings.ReplaceAll(tail, "/", `\`)
		return `\\` + strings.ToLower(host) + `\` + tail
	}
	if strings.HasPrefix(uri, "file://") {
		return unescapeUnsafe(strings.TrimPrefix(uri, "file://"))
	}
	return uri
}

// normalizeToURL implements spec §4.2 algorithm step 1, "normalize both
// sides to URL form": a mapping entry (or an input path) may be configured
// as a raw OS path (POSIX, Windows-drive, or UNC) or already as a URI; only
// the former needs converting. A string already in URL form carries a
// scheme ("://", or the bare "dbgp:" virtual-source scheme) and passes
// through unchanged.
func normalizeToURL(s string) string {
	if strings.Contains(s, "://") || strings.HasPrefix(s, "dbgp:") {
		return s
	}
	return PathToURI(s)
}

// matchResult is an internal bookkeeping type for the longest-prefix scan.
type matchResult struct {
	matchedLen int
	translated string
	found      bool
}

// considerPair tests one (from, to) pair against input and folds the
// longest-match-wins rule into acc.
func considerPair(input, from, to string, acc matchResult) matchResult {
	if SameURI(input, from) {
		// Exact equality always wins outright: report it as a match whose
		// length dominates any prefix match.
		return matchResult{matchedLen: len(input) + 1, translated: to, found: true}
	}
	fromSlash := normalizeTrailingSlash(from)
	if strings.HasPrefix(input, fromSlash) {
		if len(fromSlash) > acc.matchedLen {
			suffix := input[len(fromSlash):]
			toSlash := normalizeTrailingSlash(to)
			return matchResult{matchedLen: len(fromSlash), translated: toSlash + suffix, found: true}
		}
	}
	return acc
}

// ToClient implements spec §4.2's to_client(uri, mapping) -> path.
func ToClient(uri string, mapping Mapping) string {
	normInput := normalizeToURL(uri)
	acc := matchResult{}
	for _, e := range mapping {
		acc = considerPair(normInput, normalizeToURL(e.ServerURI), normalizeToURL(e.ClientPath), acc)
	}
	if acc.found {
		return URIToPath(acc.translated)
	}
	return URIToPath(normInput)
}

// ToServer implements spec §4.2's to_server(path, mapping) -> uri.
func ToServer(clientPath string, mapping Mapping) string {
	normInput := normalizeToURL(clientPath)
	acc := matchResult{}
	for _, e := range mapping {
		acc = considerPair(normInput, normalizeToURL(e.ClientPath), normalizeToURL(e.ServerURI), acc)
	}
	if acc.found {
		// acc.translated is already URL form (both mapping sides were
		// normalized to it above), unlike the no-match fallback below.
		return acc.translated
	}
	return normInput
}

// CleanURIPath applies path.Clean to the path component of a file URI,
// preserving scheme and authority.
func CleanURIPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	idx := strings.Index(uri[len("file://"):], "/")
	if idx < 0 {
		return uri
	}
	authorityEnd := len("file://") + idx
	return uri[:authorityEnd] + path.Clean(uri[authorityEnd:])
}
