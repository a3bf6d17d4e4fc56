package cipher

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/ytresolve/errs"
)

// BaseURL is the origin relative player script paths are resolved against.
const BaseURL = "https://www.youtube.com"

var playerURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<script\s+src="([^"]+player_ias(?:_tce)?\.vflset/[^"]+/base\.js)"`),
	regexp.MustCompile(`"jsUrl"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`"PLAYER_JS_URL"\s*:\s*"([^"]+)"`),
}

// PlayerScriptURL finds the player script reference in a watch or embed
// page and returns it as an absolute URL.
func PlayerScriptURL(html []byte) (string, error) {
	for _, re := range playerURLPatterns {
		m := re.FindSubmatch(html)
		if len(m) < 2 || len(m[1]) == 0 {
			continue
		}
		return absolute(unescapeJS(string(m[1])))
	}
	return "", errs.Extraction(errs.CodeStructureChanged, "player script reference not found", nil)
}

func unescapeJS(s string) string {
	s = strings.ReplaceAll(s, `\/`, `/`)
	s = strings.ReplaceAll(s, `\u0026`, `&`)
	return strings.ReplaceAll(s, `&amp;`, `&`)
}

func absolute(ref string) (string, error) {
	base, _ := url.Parse(BaseURL)
	u, err := url.Parse(ref)
	if err != nil {
		return "", errs.Extraction(errs.CodeStructureChanged, "player script reference is not a URL", err)
	}
	return base.ResolveReference(u).String(), nil
}

var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:signatureTimestamp|sts)\s*:\s*(\d{5})`),
}

// SignatureTimestamp returns the signature timestamp a player script
// declares. InnerTube requests echo it so returned ciphers match the script.
func SignatureTimestamp(script string) (int, bool) {
	for _, re := range timestampPatterns {
		if m := re.FindStringSubmatch(script); len(m) == 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
