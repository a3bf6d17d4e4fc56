package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ytget/ytresolve/errs"
)

var (
	idRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	pathRe = regexp.MustCompile(`^/(?:shorts|embed|e|v|live)/([A-Za-z0-9_-]{11})`)
)

var knownHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"gaming.youtube.com":       true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
	"youtu.be":                 true,
}

// VideoID accepts a bare 11 character id or a watch, shorts, embed, live or
// youtu.be URL and returns the id.
func VideoID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if idRe.MatchString(s) {
		return s, nil
	}
	if !strings.Contains(s, "://") && strings.Contains(s, "/") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", invalidID(input)
	}
	host := strings.ToLower(u.Hostname())
	if !knownHosts[host] {
		return "", invalidID(input)
	}
	if host == "youtu.be" {
		if id := strings.Trim(u.Path, "/"); idRe.MatchString(firstN(id, 11)) {
			return firstN(id, 11), nil
		}
		return "", invalidID(input)
	}
	if v := u.Query().Get("v"); v != "" && idRe.MatchString(firstN(v, 11)) {
		return firstN(v, 11), nil
	}
	if m := pathRe.FindStringSubmatch(u.Path); len(m) == 2 {
		return m[1], nil
	}
	return "", invalidID(input)
}

func firstN(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func invalidID(input string) error {
	return errs.New(errs.KindExtraction, errs.CodeMalformed, "not a video id or URL", input)
}
