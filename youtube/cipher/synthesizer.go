package cipher

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
)

// Fragment is a closed piece of JavaScript defining Entry, a function of
// one string argument.
type Fragment struct {
	Source     string  `json:"source"`
	Entry      string  `json:"entry"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
}

// Fragments holds the signature and n fragments of one player version.
type Fragments struct {
	Signature Fragment `json:"signature"`
	N         Fragment `json:"n"`
}

// DefaultDependencyDepth is how many levels of top-level declarations the
// n fragment pulls in.
const DefaultDependencyDepth = 2

// Synthesizer extracts Fragments from player scripts.
type Synthesizer struct {
	Signature []Matcher
	N         []Matcher
	Depth     int
}

// NewSynthesizer returns a Synthesizer with the default strategies.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{
		Signature: DefaultSignatureMatchers(),
		N:         DefaultNMatchers(),
		Depth:     DefaultDependencyDepth,
	}
}

var defaultSynthesizer = NewSynthesizer()

// Synthesize extracts the signature and n fragments with the default
// strategies.
func Synthesize(script string) (*Fragments, error) {
	return defaultSynthesizer.Synthesize(script)
}

// Synthesize extracts the signature and n fragments from script.
func (sy *Synthesizer) Synthesize(script string) (*Fragments, error) {
	s := NewScript(script)
	sig, err := pick("signature", sy.Signature, s)
	if err != nil {
		return nil, err
	}
	depth := sy.Depth
	if depth <= 0 {
		depth = DefaultDependencyDepth
	}
	n, err := pick("n", withDepth(sy.N, depth), s)
	if err != nil {
		return nil, err
	}
	logger.WithComponent(logger.ComponentCipher).Debug("synthesized fragments", map[string]interface{}{
		"signature":          sig.Entry,
		"signature_strategy": sig.Strategy,
		"n":                  n.Entry,
		"n_strategy":         n.Strategy,
		"parsed":             s.Parsed(),
	})
	return &Fragments{Signature: sig, N: n}, nil
}

// pick runs every matcher and keeps the highest confidence candidate. Equal
// confidence candidates that differ are reported as ambiguous.
func pick(function string, matchers []Matcher, s *Script) (Fragment, error) {
	var all []Candidate
	for _, m := range matchers {
		all = append(all, m.Match(s)...)
	}
	if len(all) == 0 {
		metrics.Synthesis.WithLabelValues(function, errs.CodePatternNotFound).Inc()
		return Fragment{}, errs.Cipher(errs.CodePatternNotFound, "no "+function+" function candidate", function)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Confidence > all[j].Confidence })

	best := all[0]
	var rivals []string
	for _, c := range all[1:] {
		if c.Confidence < best.Confidence {
			break
		}
		if c.Entry != best.Entry || c.Source != best.Source {
			rivals = append(rivals, c.Entry)
		}
	}
	if len(rivals) > 0 {
		metrics.Synthesis.WithLabelValues(function, errs.CodeAmbiguousMatch).Inc()
		return Fragment{}, errs.Cipher(errs.CodeAmbiguousMatch, function+" function candidates tie", map[string]interface{}{
			"function":   function,
			"strategy":   best.Strategy,
			"candidates": append([]string{best.Entry}, rivals...),
		})
	}
	metrics.Synthesis.WithLabelValues(function, best.Strategy).Inc()
	return Fragment{
		Source:     best.Source,
		Entry:      best.Entry,
		Strategy:   best.Strategy,
		Confidence: best.Confidence,
	}, nil
}

type depthMatcher interface {
	withDepth(int) Matcher
}

// withDepth applies the dependency depth to the n matchers that support it.
func withDepth(ms []Matcher, depth int) []Matcher {
	out := make([]Matcher, len(ms))
	for i, m := range ms {
		out[i] = m
		if d, ok := m.(depthMatcher); ok {
			out[i] = d.withDepth(depth)
		}
	}
	return out
}

var typeofGuard = regexp.MustCompile(`([{;])\s*if\s*\(\s*typeof\s+[a-zA-Z0-9$_]+\s*===?\s*(?:"undefined"|'undefined')\s*\)\s*return\s+[a-zA-Z0-9$_]+\s*;`)

// nCandidate builds the closed n fragment: the function, with its typeof
// guard neutralised, preceded by the top-level declarations it references
// up to depth levels deep.
func nCandidate(s *Script, name string, depth int) (Candidate, bool) {
	if depth <= 0 {
		depth = DefaultDependencyDepth
	}
	d, ok := s.Decl(name)
	if !ok || !d.IsFunc() || len(d.Params) != 1 {
		return Candidate{}, false
	}
	entry := typeofGuard.ReplaceAllString(d.Statement(), "${1}")

	included := map[string]bool{name: true}
	var levels [][]string
	frontier := []Decl{{Text: entry, Params: d.Params, Body: d.Body}}
	for level := 0; level < depth; level++ {
		var found []string
		for _, from := range frontier {
			local := localNames(from)
			for _, ref := range references(from.Text) {
				if included[ref] || local[ref] {
					continue
				}
				if _, ok := s.Decl(ref); !ok {
					continue
				}
				included[ref] = true
				found = append(found, ref)
			}
		}
		if len(found) == 0 {
			break
		}
		levels = append(levels, found)
		frontier = frontier[:0]
		for _, ref := range found {
			dep, _ := s.Decl(ref)
			frontier = append(frontier, dep)
		}
	}

	var b strings.Builder
	// Deepest dependencies first so initializers see what they use.
	for i := len(levels) - 1; i >= 0; i-- {
		for _, ref := range levels[i] {
			dep, _ := s.Decl(ref)
			b.WriteString(dep.Statement())
			b.WriteByte('\n')
		}
	}
	b.WriteString(entry)
	return Candidate{Entry: name, Source: b.String()}, true
}

var (
	identToken = regexp.MustCompile(`[A-Za-z_$][\w$]*`)
	localDecl  = regexp.MustCompile(`(?:\bvar\s+|\blet\s+|\bconst\s+|,\s*)([A-Za-z_$][\w$]*)\s*=[^=]`)
	catchParam = regexp.MustCompile(`\bcatch\s*\(\s*([A-Za-z_$][\w$]*)`)
	innerFunc  = regexp.MustCompile(`\bfunction\s*([A-Za-z_$][\w$]*)?\s*\(([^)]*)\)`)
)

// localNames lists the names d binds itself: parameters, var/let/const
// bindings, catch parameters and the names and parameters of nested
// functions. They shadow top-level declarations of the same name.
func localNames(d Decl) map[string]bool {
	out := make(map[string]bool)
	for _, p := range d.Params {
		out[p] = true
	}
	body := stripStrings(d.Body)
	for _, m := range localDecl.FindAllStringSubmatch(body, -1) {
		out[m[1]] = true
	}
	for _, m := range catchParam.FindAllStringSubmatch(body, -1) {
		out[m[1]] = true
	}
	for _, m := range innerFunc.FindAllStringSubmatch(body, -1) {
		if m[1] != "" {
			out[m[1]] = true
		}
		for _, p := range strings.Split(m[2], ",") {
			if p = strings.TrimSpace(p); p != "" {
				out[p] = true
			}
		}
	}
	return out
}

// references lists identifiers in src that are not property accesses or
// inside string literals.
func references(src string) []string {
	code := stripStrings(src)
	var out []string
	seen := make(map[string]bool)
	for _, loc := range identToken.FindAllStringIndex(code, -1) {
		if loc[0] > 0 {
			prev := code[loc[0]-1]
			if prev == '.' || prev == '_' || prev == '$' || prev >= '0' && prev <= '9' {
				continue
			}
		}
		id := code[loc[0]:loc[1]]
		if isKeyword(id) || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// stripStrings blanks out quoted string contents so their words are not
// taken for identifiers.
func stripStrings(src string) string {
	b := []byte(src)
	for i := 0; i < len(b); i++ {
		q := b[i]
		if q != '"' && q != '\'' && q != '`' {
			continue
		}
		for j := i + 1; j < len(b); j++ {
			if b[j] == '\\' {
				b[j] = ' '
				if j+1 < len(b) {
					b[j+1] = ' '
				}
				j++
				continue
			}
			if b[j] == q {
				i = j
				break
			}
			b[j] = ' '
		}
	}
	return string(b)
}
