// Package innertube fetches watch pages, player responses and player
// scripts. It is thin glue over client.Client: parsing lives in the
// extractor and cipher packages.
package innertube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/ytget/ytresolve/client"
	"github.com/ytget/ytresolve/internal/logger"
)

// Endpoints. Variables so tests can point them at a local server.
var (
	BaseURL   = "https://www.youtube.com"
	playerURL = "/youtubei/v1/player"
)

const (
	headerContentTypeJSON = "application/json"
	clientNameWEB         = "WEB"
	defaultClientVersion  = "2.20250312.04.00"
)

var (
	apiKeyRe      = regexp.MustCompile(`"INNERTUBE_API_KEY":"([^"]+)"`)
	clientVerRe   = regexp.MustCompile(`"INNERTUBE_CLIENT_VERSION":"([^"]+)"`)
	visitorDataRe = regexp.MustCompile(`"VISITOR_DATA":"([^"]+)"`)
)

// clientCodeFromName returns X-YouTube-Client-Name numeric code for known clients
func clientCodeFromName(name string) string {
	switch strings.ToUpper(name) {
	case "WEB":
		return "1"
	case "MWEB":
		return "2"
	case "ANDROID":
		return "3"
	case "IOS":
		return "5"
	case "TVHTML5":
		return "7"
	case "WEB_EMBEDDED_PLAYER":
		return "56"
	case "WEB_CREATOR":
		return "62"
	case "WEB_REMIX":
		return "67"
	case "TVHTML5_SIMPLY_EMBEDDED_PLAYER":
		return "85"
	default:
		return ""
	}
}

// Client talks to the InnerTube API. Session values (API key, client
// version, visitor data) are learned from the last watch page fetched.
type Client struct {
	http       *client.Client
	clientName string

	mu          sync.Mutex
	apiKey      string
	clientVer   string
	visitorData string
}

// New creates an InnerTube client on top of c. A nil c uses client.New().
func New(c *client.Client) *Client {
	if c == nil {
		c = client.New()
	}
	return &Client{http: c, clientName: clientNameWEB}
}

// WithClient overrides InnerTube client name/version to shape playback URLs.
func (c *Client) WithClient(name, version string) *Client {
	if strings.TrimSpace(name) != "" {
		c.clientName = name
	}
	if strings.TrimSpace(version) != "" {
		c.mu.Lock()
		c.clientVer = version
		c.mu.Unlock()
	}
	return c
}

// WatchURL returns the watch page URL of videoID.
func WatchURL(videoID string) string {
	return BaseURL + "/watch?v=" + url.QueryEscape(videoID) + "&bpctr=9999999999&has_verified=1"
}

// WatchPage fetches the watch page of videoID and remembers the session
// values it declares.
func (c *Client) WatchPage(ctx context.Context, videoID string) ([]byte, error) {
	resp, err := c.http.Fetch(ctx, &client.Request{
		Method: http.MethodGet,
		URL:    WatchURL(videoID),
		Header: http.Header{
			"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
			"Accept-Language": {"en-US,en;q=0.9"},
		},
	})
	if err != nil {
		return nil, err
	}
	c.learn(resp.Body)
	return resp.Body, nil
}

func (c *Client) learn(page []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := apiKeyRe.FindSubmatch(page); len(m) == 2 {
		c.apiKey = string(m[1])
	}
	if m := clientVerRe.FindSubmatch(page); len(m) == 2 && c.clientVer == "" {
		c.clientVer = string(m[1])
	}
	if m := visitorDataRe.FindSubmatch(page); len(m) == 2 {
		c.visitorData = strings.ReplaceAll(string(m[1]), "%3D", "=")
	}
}

// Player posts to the /player endpoint and returns the raw JSON body. A
// non-zero signatureTimestamp asks for ciphers matching that player script.
func (c *Client) Player(ctx context.Context, videoID string, signatureTimestamp int) ([]byte, error) {
	c.mu.Lock()
	apiKey, ver, visitor := c.apiKey, c.clientVer, c.visitorData
	c.mu.Unlock()
	if ver == "" {
		ver = defaultClientVersion
	}
	name := c.clientName

	clientMap := map[string]any{
		"clientName":    name,
		"clientVersion": ver,
		"hl":            "en",
	}
	header := http.Header{
		"Content-Type":             {headerContentTypeJSON},
		"Accept":                   {"*/*"},
		"Referer":                  {BaseURL + "/"},
		"Origin":                   {BaseURL},
		"X-YouTube-Client-Version": {ver},
	}
	if strings.EqualFold(name, "ANDROID") {
		clientMap["androidSdkVersion"] = 30
		clientMap["osName"] = "Android"
		clientMap["osVersion"] = "11"
		ua := "com.google.android.youtube/" + ver + " (Linux; U; Android 11) gzip"
		clientMap["userAgent"] = ua
		header.Set("User-Agent", ua)
	}
	if code := clientCodeFromName(name); code != "" {
		header.Set("X-YouTube-Client-Name", code)
	}
	if visitor != "" {
		header.Set("X-Goog-Visitor-Id", visitor)
	}

	body := map[string]any{
		"context":        map[string]any{"client": clientMap},
		"videoId":        videoID,
		"contentCheckOk": true,
		"racyCheckOk":    true,
	}
	if signatureTimestamp > 0 {
		body["playbackContext"] = map[string]any{
			"contentPlaybackContext": map[string]any{"signatureTimestamp": signatureTimestamp},
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := BaseURL + playerURL + "?prettyPrint=false"
	if apiKey != "" {
		endpoint += "&key=" + url.QueryEscape(apiKey)
	}
	logger.WithComponent(logger.ComponentInnerTube).Debug("player request", map[string]interface{}{
		"video_id": videoID,
		"client":   name,
		"version":  ver,
		"sts":      signatureTimestamp,
	})
	resp, err := c.http.Fetch(ctx, &client.Request{Method: http.MethodPost, URL: endpoint, Header: header, Body: payload})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// PlayerScript fetches the player script at scriptURL.
func (c *Client) PlayerScript(ctx context.Context, scriptURL string) (string, error) {
	resp, err := c.http.Get(ctx, scriptURL)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}
