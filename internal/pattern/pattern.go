// Package pattern compiles Pusher-style "literal.{var}" channel authorization
// templates into anchored matchers and extracts the named segments a
// successful match bound.
package pattern

import (
	"regexp"
	"strings"
)

// Matcher is a compiled authorization pattern.
type Matcher struct {
	raw    string
	re     *regexp.Regexp
	names  []string
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Compile turns a template such as "private-user.{userId}" into a Matcher.
// Literal runs are escaped for regex metacharacters; each "{name}" segment
// becomes a named capture group matching one dot-free path segment.
func Compile(template string) (*Matcher, error) {
	var b strings.Builder
	b.WriteByte('^')

	names := make([]string, 0, 2)
	last := 0
	for _, loc := range placeholder.FindAllStringSubmatchIndex(template, -1) {
		start, end := loc[0], loc[1]
		nameStart, nameEnd := loc[2], loc[3]

		b.WriteString(regexp.QuoteMeta(template[last:start]))
		name := template[nameStart:nameEnd]
		names = append(names, name)
		b.WriteString("(?P<" + name + ">[^.]+)")
		last = end
	}
	b.WriteString(regexp.QuoteMeta(template[last:]))
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &Matcher{raw: template, re: re, names: names}, nil
}

// MustCompile is like Compile but panics on error; intended for
// package-init-time registration of fixed templates, not for
// user-controlled input.
func MustCompile(template string) *Matcher {
	m, err := Compile(template)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether subject satisfies the pattern, returning the
// extracted name -> segment mapping on success.
func (m *Matcher) Match(subject string) (map[string]string, bool) {
	groups := m.re.FindStringSubmatch(subject)
	if groups == nil {
		return nil, false
	}
	if len(m.names) == 0 {
		return map[string]string{}, true
	}
	params := make(map[string]string, len(m.names))
	for i, name := range m.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = groups[i]
	}
	return params, true
}

// String returns the original template this Matcher was compiled from.
func (m *Matcher) String() string { return m.raw }
