// Package filter implements the two distinct skip/ignore algorithms of
// spec §4.2/§4.10 (C10). File-path filters (`skip_files`, `ignore`) use
// "first matching glob wins, positive unless negated"; exception-name
// filters (`ignore_exceptions`) use a different rule ("any pattern match
// succeeds") over regexes hand-built from the pattern per spec §4.10's
// exact escaping recipe. They are not the same algorithm, so they are not
// backed by the same matcher: paths go through gobwas/glob (present in the
// docker-buildx/gravwell/DataDog manifests of the example pack); exception
// names go through stdlib regexp, per spec §4.10's explicit construction
// rule (`*` -> `[^\]*`, `**` -> `.*`, everything else escaped).
package filter

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/dbgpdap/adapter/internal/xerr"
)

// pattern is one compiled path glob plus its negation flag.
type pattern struct {
	g       glob.Glob
	negated bool
}

// PathSet is an ordered list of positive/negated path globs (spec §4.2
// "is_positive_match_in_globs", §4.10).
type PathSet struct {
	patterns []pattern
}

// CompilePaths builds a PathSet from raw glob patterns, each optionally
// prefixed with '!' to negate it. Patterns are compiled with '\\' as the
// separator so '**' crosses a path boundary and '*' does not.
func CompilePaths(raws []string) (*PathSet, error) {
	s := &PathSet{patterns: make([]pattern, 0, len(raws))}
	for _, raw := range raws {
		negated := false
		body := raw
		if strings.HasPrefix(body, "!") {
			negated = true
			body = body[1:]
		}
		// gobwas reads '\' as an escape; doubling it makes every '\' in the
		// pattern a literal path separator.
		g, err := glob.Compile(strings.ReplaceAll(body, `\`, `\\`), '\\')
		if err != nil {
			return nil, xerr.ParseErr(err)
		}
		s.patterns = append(s.patterns, pattern{g: g, negated: negated})
	}
	return s, nil
}

// Matches implements spec §4.2/§4.10's is_positive_match_in_globs: true iff
// the first matching pattern, in order, is not negated. Returns false if no
// pattern matches at all.
func (s *PathSet) Matches(path string) bool {
	for _, p := range s.patterns {
		if p.g.Match(path) {
			return !p.negated
		}
	}
	return false
}

// Empty reports whether the set has no patterns.
func (s *PathSet) Empty() bool {
	return s == nil || len(s.patterns) == 0
}

// exceptionMetaEscaper escapes every regexp metacharacter except the '*'
// this package interprets itself; applied per-rune so multi-byte class
// names (namespace separators, UTF-8 identifiers) survive untouched.
var exceptionMetaEscaper = regexp.MustCompile(`[.+?()\[\]{}|^$\\]`)

// exceptionPatternToRegexp implements spec §4.10's exact construction:
// anchor both ends, turn '**' into '.*', a lone '*' into '[^\]*', and
// escape every other regex metacharacter.
func exceptionPatternToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '*' {
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString(`[^\\]*`)
			continue
		}
		b.WriteString(exceptionMetaEscaper.ReplaceAllString(string(runes[i]), `\$0`))
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// ShouldIgnoreException implements spec §4.10's should_ignore_exception:
// true iff name matches any of patterns (order does not matter, unlike
// PathSet — there is no negation here, any match succeeds).
func ShouldIgnoreException(name string, patterns []string) (bool, error) {
	for _, raw := range patterns {
		re, err := exceptionPatternToRegexp(raw)
		if err != nil {
			return false, xerr.ParseErr(err)
		}
		if re.MatchString(name) {
			return true, nil
		}
	}
	return false, nil
}
