// Package logpoint implements the log-point template store of spec §4.9
// (C9): per (file, line) message templates with lazy `{expr}` expansion at
// stop time, evaluated through the engine rather than eagerly.
package logpoint

import (
	"strings"

	"github.com/dbgpdap/adapter/internal/xerr"
)

// key is a (file_uri, line) pair, with the file_uri case-folded iff it is a
// Windows URI (spec §4.9: "Case-folding is applied iff the URI is a
// Windows URI").
type key struct {
	fileURI string
	line    int
}

// Store holds log-point templates keyed by location.
type Store struct {
	templates map[key]string
}

// NewStore constructs an empty log-point store.
func NewStore() *Store {
	return &Store{templates: make(map[key]string)}
}

// isWindowsURI reports whether uri encodes a Windows drive letter or UNC
// host, matching the case-fold rule pathmap.SameURI applies.
func isWindowsURI(uri string) bool {
	if strings.HasPrefix(uri, "file:///") {
		rest := uri[len("file:///"):]
		if len(rest) >= 2 && rest[1] == ':' {
			return true
		}
	}
	if strings.HasPrefix(uri, "file://") {
		rest := uri[len("file://"):]
		if i := strings.IndexByte(rest, '/'); i > 0 {
			return true
		}
	}
	return false
}

func normalizeKey(fileURI string, line int) key {
	if isWindowsURI(fileURI) {
		fileURI = strings.ToLower(fileURI)
	}
	return key{fileURI: fileURI, line: line}
}

// Set stores (or replaces) the template for a location. An empty template
// removes the entry.
func (s *Store) Set(fileURI string, line int, template string) {
	k := normalizeKey(fileURI, line)
	if template == "" {
		delete(s.templates, k)
		return
	}
	s.templates[k] = template
}

// Has reports whether a log-point template exists at the given location.
func (s *Store) Has(fileURI string, line int) bool {
	_, ok := s.templates[normalizeKey(fileURI, line)]
	return ok
}

// Evaluator evaluates a DBGp expression to its display string (typically a
// thin wrapper around Connection.Eval).
type Evaluator func(expr string) (string, error)

// Resolve implements spec §4.9's resolve: replaces each `{expr}` occurrence
// in the stored template with evaluator(expr); an empty placeholder `{}`
// expands to the empty string. Fails with NoSuchLogPoint if no template is
// stored for the location.
func Resolve(s *Store, fileURI string, line int, evaluator Evaluator) (string, error) {
	tmpl, ok := s.templates[normalizeKey(fileURI, line)]
	if !ok {
		return "", xerr.NoSuchLogPoint(fileURI, line)
	}
	return expand(tmpl, evaluator)
}

func expand(tmpl string, evaluator Evaluator) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		if tmpl[i] != '{' {
			out.WriteByte(tmpl[i])
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			out.WriteString(tmpl[i:])
			break
		}
		expr := tmpl[i+1 : i+end]
		i += end + 1
		if expr == "" {
			continue
		}
		val, err := evaluator(expr)
		if err != nil {
			return "", err
		}
		out.WriteString(val)
	}
	return out.String(), nil
}
