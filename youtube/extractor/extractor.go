// Package extractor turns InnerTube player responses and watch pages into
// types.PlayerResponse values. It performs no I/O: callers hand in bytes.
package extractor

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/jsscan"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/types"
	"github.com/ytget/ytresolve/youtube/cipher"
)

const initialPlayerResponse = "ytInitialPlayerResponse"

// jsonInt decodes integers InnerTube sends either as numbers or as strings.
type jsonInt int64

func (n *jsonInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*n = jsonInt(v)
	return nil
}

type rawRange struct {
	Start jsonInt `json:"start"`
	End   jsonInt `json:"end"`
}

func (r *rawRange) byteRange() *types.ByteRange {
	if r == nil || r.End < r.Start {
		return nil
	}
	return &types.ByteRange{Start: int64(r.Start), End: int64(r.End)}
}

type rawFormat struct {
	Itag             int       `json:"itag"`
	URL              string    `json:"url"`
	SignatureCipher  string    `json:"signatureCipher"`
	Cipher           string    `json:"cipher"`
	MimeType         string    `json:"mimeType"`
	Bitrate          jsonInt   `json:"bitrate"`
	AverageBitrate   jsonInt   `json:"averageBitrate"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	FPS              int       `json:"fps"`
	Quality          string    `json:"quality"`
	QualityLabel     string    `json:"qualityLabel"`
	AudioQuality     string    `json:"audioQuality"`
	AudioSampleRate  jsonInt   `json:"audioSampleRate"`
	AudioChannels    int       `json:"audioChannels"`
	ContentLength    jsonInt   `json:"contentLength"`
	ApproxDurationMs jsonInt   `json:"approxDurationMs"`
	InitRange        *rawRange `json:"initRange"`
	IndexRange       *rawRange `json:"indexRange"`
}

type rawPlayerResponse struct {
	PlayabilityStatus *struct {
		Status      string                     `json:"status"`
		Reason      string                     `json:"reason"`
		ErrorScreen map[string]json.RawMessage `json:"errorScreen"`
	} `json:"playabilityStatus"`
	StreamingData *struct {
		ExpiresInSeconds jsonInt     `json:"expiresInSeconds"`
		Formats          []rawFormat `json:"formats"`
		AdaptiveFormats  []rawFormat `json:"adaptiveFormats"`
		HLSManifestURL   string      `json:"hlsManifestUrl"`
		DASHManifestURL  string      `json:"dashManifestUrl"`
	} `json:"streamingData"`
	VideoDetails struct {
		VideoID          string   `json:"videoId"`
		Title            string   `json:"title"`
		Author           string   `json:"author"`
		ChannelID        string   `json:"channelId"`
		ShortDescription string   `json:"shortDescription"`
		LengthSeconds    jsonInt  `json:"lengthSeconds"`
		ViewCount        jsonInt  `json:"viewCount"`
		Keywords         []string `json:"keywords"`
		IsLive           bool     `json:"isLive"`
		IsLiveContent    bool     `json:"isLiveContent"`
	} `json:"videoDetails"`
}

// ParsePlayerResponse decodes an InnerTube /player JSON body. The returned
// response has no player script URL; callers that need one take it from the
// watch page.
func ParsePlayerResponse(videoID string, body []byte) (*types.PlayerResponse, error) {
	var raw rawPlayerResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Extraction(errs.CodeMalformed, "player response does not decode", err)
	}
	return build(videoID, &raw)
}

func build(videoID string, raw *rawPlayerResponse) (*types.PlayerResponse, error) {
	if raw.PlayabilityStatus == nil && raw.StreamingData == nil {
		return nil, errs.Extraction(errs.CodeStructureChanged, "player response has neither playabilityStatus nor streamingData", nil)
	}
	pr := &types.PlayerResponse{VideoID: videoID}
	if raw.PlayabilityStatus != nil {
		pr.Playability = types.Playability{Status: raw.PlayabilityStatus.Status, Reason: raw.PlayabilityStatus.Reason}
	}
	if err := playabilityError(raw); err != nil {
		return nil, err
	}

	vd := raw.VideoDetails
	if pr.VideoID == "" {
		pr.VideoID = vd.VideoID
	}
	pr.Details = types.VideoDetails{
		ID:            vd.VideoID,
		Title:         vd.Title,
		Author:        vd.Author,
		ChannelID:     vd.ChannelID,
		Description:   vd.ShortDescription,
		LengthSeconds: int(vd.LengthSeconds),
		ViewCount:     int64(vd.ViewCount),
		Keywords:      vd.Keywords,
		IsLive:        vd.IsLive,
		IsLiveContent: vd.IsLiveContent,
	}

	sd := raw.StreamingData
	if sd == nil {
		return nil, errs.Extraction(errs.CodeStructureChanged, "playable video without streamingData", nil)
	}
	pr.HLSManifestURL = sd.HLSManifestURL
	pr.DASHManifestURL = sd.DASHManifestURL
	pr.ExpiresIn = time.Duration(sd.ExpiresInSeconds) * time.Second

	skipped := 0
	for _, list := range [][]rawFormat{sd.Formats, sd.AdaptiveFormats} {
		for i := range list {
			entry, ok := convert(&list[i])
			if !ok {
				skipped++
				continue
			}
			pr.Formats = append(pr.Formats, entry)
		}
	}
	if skipped > 0 {
		logger.WithComponent(logger.ComponentExtractor).Debug("skipped formats without url", map[string]interface{}{
			"video_id": pr.VideoID,
			"skipped":  skipped,
		})
	}
	return pr, nil
}

// convert maps one upstream format. Entries carrying neither a URL nor a
// cipher are dropped.
func convert(f *rawFormat) (types.RawFormatEntry, bool) {
	e := types.RawFormatEntry{
		Itag:             f.Itag,
		MimeType:         f.MimeType,
		Bitrate:          int(f.Bitrate),
		AverageBitrate:   int(f.AverageBitrate),
		Quality:          f.Quality,
		QualityLabel:     f.QualityLabel,
		Width:            f.Width,
		Height:           f.Height,
		FPS:              f.FPS,
		AudioQuality:     f.AudioQuality,
		AudioSampleRate:  int(f.AudioSampleRate),
		AudioChannels:    f.AudioChannels,
		ContentLength:    int64(f.ContentLength),
		ApproxDurationMs: int64(f.ApproxDurationMs),
		InitRange:        f.InitRange.byteRange(),
		IndexRange:       f.IndexRange.byteRange(),
	}
	switch {
	case f.URL != "":
		e.URL = f.URL
		e.NeedsN = hasN(f.URL)
	case f.SignatureCipher != "" || f.Cipher != "":
		e.SignatureCipher = f.SignatureCipher
		if e.SignatureCipher == "" {
			e.SignatureCipher = f.Cipher
		}
		if q, err := url.ParseQuery(e.SignatureCipher); err == nil {
			e.NeedsN = hasN(q.Get("url"))
		}
	default:
		return e, false
	}
	return e, true
}

func hasN(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Query().Get("n") != ""
}

// ParseWatchPage extracts the player response embedded in a watch page
// together with the player script URL.
func ParseWatchPage(videoID string, html []byte) (*types.PlayerResponse, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, errs.Extraction(errs.CodeMalformed, "watch page does not parse", err)
	}

	var object string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		object = initialResponseObject(s.Text())
		return object == ""
	})
	if object == "" {
		return nil, errs.Extraction(errs.CodeStructureChanged, initialPlayerResponse+" not found", nil)
	}

	var raw rawPlayerResponse
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return nil, errs.Extraction(errs.CodeMalformed, initialPlayerResponse+" does not decode", err)
	}
	pr, err := build(videoID, &raw)
	if err != nil {
		return nil, err
	}

	playerURL, err := cipher.PlayerScriptURL(html)
	if err != nil {
		if needsPlayer(pr.Formats) {
			return nil, err
		}
		return pr, nil
	}
	pr.PlayerURL = playerURL
	pr.PlayerKey = types.VersionKeyFromURL(playerURL)
	return pr, nil
}

// initialResponseObject returns the first JSON object assigned to
// ytInitialPlayerResponse in a script body, or "". Mentions that are not
// an object assignment, such as a null initializer, are skipped.
func initialResponseObject(script string) string {
	rest := script
	for {
		i := strings.Index(rest, initialPlayerResponse)
		if i < 0 {
			return ""
		}
		rest = rest[i+len(initialPlayerResponse):]
		if obj := assignedObject(rest); obj != "" {
			return obj
		}
	}
}

// assignedObject returns the object literal assigned right after a name,
// accepting the bracketed window["name"] form.
func assignedObject(s string) string {
	s = strings.TrimLeft(s, "\"'] \t\r\n")
	if !strings.HasPrefix(s, "=") || strings.HasPrefix(s, "==") {
		return ""
	}
	s = strings.TrimLeft(s[1:], " \t\r\n")
	obj, ok := jsscan.CutAfter(s)
	if !ok || obj[0] != '{' {
		return ""
	}
	return obj
}

func needsPlayer(entries []types.RawFormatEntry) bool {
	for _, e := range entries {
		if e.Ciphered() || e.NeedsN {
			return true
		}
	}
	return false
}
