package cipher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// Strategy names reported in Fragment.Strategy and in metrics.
const (
	StrategyAnchoredCallsite = "anchored-callsite"
	StrategySplitJoinBody    = "split-join-body"
	StrategyNGetCallsite     = "n-get-callsite"
	StrategyNBodyMarkers     = "n-body-markers"
)

// Candidate is one possible entry function found by a Matcher.
type Candidate struct {
	Entry      string
	Source     string
	Strategy   string
	Confidence float64
}

// Matcher locates entry functions in a player script.
type Matcher interface {
	Name() string
	Match(*Script) []Candidate
}

// DefaultSignatureMatchers returns the signature strategies in rank order.
func DefaultSignatureMatchers() []Matcher {
	return []Matcher{anchoredCallsite{}, splitJoinBody{}}
}

// DefaultNMatchers returns the n-function strategies in rank order.
func DefaultNMatchers() []Matcher {
	return []Matcher{nGetCallsite{depth: DefaultDependencyDepth}, nBodyMarkers{depth: DefaultDependencyDepth}}
}

const ident = `[a-zA-Z0-9$_]+`

var callsitePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.set\("alr","yes"\);` + ident + `&&\(` + ident + `=(` + ident + `)\(decodeURIComponent\(`),
	regexp.MustCompile(`\b[a-zA-Z0-9$]+&&\s*[a-zA-Z0-9$]+\.set\([^,]+\s*,\s*encodeURIComponent\s*\(\s*(` + ident + `)\(`),
	regexp.MustCompile(`\bm=(` + ident + `)\(decodeURIComponent\(h\.s\)\)`),
}

// anchoredCallsite finds the name used at the URL builder call site.
type anchoredCallsite struct{}

func (anchoredCallsite) Name() string { return StrategyAnchoredCallsite }

func (anchoredCallsite) Match(s *Script) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)
	for _, re := range callsitePatterns {
		for _, m := range re.FindAllStringSubmatch(s.Source(), -1) {
			name := m[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			if c, ok := signatureCandidate(s, name); ok {
				c.Strategy, c.Confidence = StrategyAnchoredCallsite, 1.0
				out = append(out, c)
			}
		}
	}
	return out
}

// splitJoinBody recognises the body shape of a signature function.
type splitJoinBody struct{}

func (splitJoinBody) Name() string { return StrategySplitJoinBody }

func (splitJoinBody) Match(s *Script) []Candidate {
	var out []Candidate
	for _, d := range s.Functions() {
		if len(d.Params) != 1 || !isSplitJoin(d) {
			continue
		}
		if c, ok := signatureCandidate(s, d.Name); ok {
			c.Strategy, c.Confidence = StrategySplitJoinBody, 0.8
			out = append(out, c)
		}
	}
	return out
}

func isSplitJoin(d Decl) bool {
	p := regexp.QuoteMeta(d.Params[0])
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(d.Body, "{"), "}"))
	start := regexp.MustCompile(`^` + p + `\s*=\s*` + p + `\.split\((?:""|'')\)`)
	end := regexp.MustCompile(`return\s+` + p + `\.join\((?:""|'')\)\s*;?$`)
	return start.MatchString(body) && end.MatchString(body)
}

// helperObjects lists the objects whose methods d calls with its parameter
// as first argument, in order of first use.
func helperObjects(d Decl) []string {
	if len(d.Params) == 0 {
		return nil
	}
	re := regexp.MustCompile(`(` + ident + `)\.` + ident + `\(` + regexp.QuoteMeta(d.Params[0]) + `\b`)
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(d.Body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// signatureCandidate builds the closed fragment for the signature function
// name: its single helper object followed by the function itself.
func signatureCandidate(s *Script, name string) (Candidate, bool) {
	d, ok := s.Decl(name)
	if !ok || !d.IsFunc() || len(d.Params) != 1 {
		return Candidate{}, false
	}
	objs := helperObjects(d)
	if len(objs) != 1 {
		return Candidate{}, false
	}
	helper, ok := s.Decl(objs[0])
	if !ok || helper.IsFunc() {
		return Candidate{}, false
	}
	return Candidate{
		Entry:  name,
		Source: helper.Statement() + "\n" + d.Statement(),
	}, true
}

var nCallsitePatterns = []*regexp2.Regexp{
	regexp2.MustCompile(`(?<var>[a-zA-Z0-9$_]+)=[a-zA-Z0-9$_]+\.get\("n"\)\)&&\(\k<var>=(?<name>[a-zA-Z0-9$_]+)(?:\[(?<idx>\d+)\])?\(\k<var>\)`, regexp2.None),
	regexp2.MustCompile(`;\s*(?<var>[a-zA-Z0-9$_]+)\s*=\s*[a-zA-Z0-9$_]+\.get\("n"\)\s*;\s*\k<var>\s*&&\s*\(\s*\k<var>\s*=\s*(?<name>[a-zA-Z0-9$_]+)(?:\[(?<idx>\d+)\])?\(\k<var>\)`, regexp2.None),
}

// nGetCallsite finds the n-function through the `.get("n")` call site,
// following one array indirection (`NAME[IDX](b)` with `var NAME=[F]`).
type nGetCallsite struct{ depth int }

func (nGetCallsite) Name() string { return StrategyNGetCallsite }

func (m nGetCallsite) withDepth(d int) Matcher { m.depth = d; return m }

func (n nGetCallsite) Match(s *Script) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)
	for _, re := range nCallsitePatterns {
		m, err := re.FindStringMatch(s.Source())
		for err == nil && m != nil {
			name := m.GroupByName("name").String()
			if idx := m.GroupByName("idx"); idx != nil && idx.Length > 0 {
				name = arrayElement(s, name, idx.String())
			}
			if name != "" && !seen[name] {
				seen[name] = true
				if c, ok := nCandidate(s, name, n.depth); ok {
					c.Strategy, c.Confidence = StrategyNGetCallsite, 1.0
					out = append(out, c)
				}
			}
			m, err = re.FindNextMatch(m)
		}
	}
	return out
}

// arrayElement resolves NAME[idx] against `var NAME=[A,B,...]`.
func arrayElement(s *Script, name, idx string) string {
	d, ok := s.Decl(name)
	if !ok {
		return ""
	}
	i, err := strconv.Atoi(idx)
	if err != nil {
		return ""
	}
	_, value, ok := strings.Cut(d.Text, "=")
	value = strings.TrimSpace(value)
	if !ok || !strings.HasPrefix(value, "[") || !strings.HasSuffix(value, "]") {
		return ""
	}
	elems := strings.Split(value[1:len(value)-1], ",")
	if i < 0 || i >= len(elems) {
		return ""
	}
	return strings.TrimSpace(elems[i])
}

var nMarkers = []string{"enhanced_except_", "_w8_"}

// nBodyMarkers recognises the body shape of the n-function.
type nBodyMarkers struct{ depth int }

func (nBodyMarkers) Name() string { return StrategyNBodyMarkers }

func (m nBodyMarkers) withDepth(d int) Matcher { m.depth = d; return m }

func (m nBodyMarkers) Match(s *Script) []Candidate {
	var out []Candidate
	for _, d := range s.Functions() {
		if len(d.Params) != 1 || !looksLikeN(d) {
			continue
		}
		if c, ok := nCandidate(s, d.Name, m.depth); ok {
			c.Strategy, c.Confidence = StrategyNBodyMarkers, 0.7
			out = append(out, c)
		}
	}
	return out
}

func looksLikeN(d Decl) bool {
	for _, m := range nMarkers {
		if strings.Contains(d.Body, m) {
			return true
		}
	}
	p := d.Params[0]
	splits := strings.Contains(d.Body, p+`.split("")`) ||
		strings.Contains(d.Body, `String.prototype.split.call(`+p+`,"")`)
	return splits &&
		strings.Contains(d.Body, "try{") &&
		strings.Contains(d.Body, "catch(") &&
		strings.Contains(d.Body, `.join("")`)
}
