package manifest

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
	"github.com/ytget/ytresolve/types"
)

// maxTemplateSegments bounds $Number$ expansion for open-ended manifests.
const maxTemplateSegments = 100000

// ParseDASH decodes an MPD document into one variant per Representation.
func ParseDASH(body []byte, base *url.URL) ([]types.ManifestVariant, error) {
	variants, err := parseDASH(body, base)
	metrics.ManifestParses.WithLabelValues("dash", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	logger.WithComponent(logger.ComponentManifest).Debug("parsed dash", map[string]interface{}{
		"variants": len(variants),
	})
	return variants, nil
}

func parseDASH(body []byte, base *url.URL) ([]types.ManifestVariant, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, errs.Manifest(errs.CodeParseFailed, "decode mpd", err)
	}
	mpd := doc.Root()
	if mpd == nil || mpd.Tag != "MPD" {
		return nil, errs.Manifest(errs.CodeParseFailed, "missing MPD root", nil)
	}

	live := mpd.SelectAttrValue("type", "static") == "dynamic"
	total, err := parseISODuration(mpd.SelectAttrValue("mediaPresentationDuration", ""))
	if err != nil {
		return nil, errs.Manifest(errs.CodeParseFailed, "mediaPresentationDuration", err)
	}
	mpdBase := baseURL(mpd, base)

	var variants []types.ManifestVariant
	for _, period := range mpd.SelectElements("Period") {
		periodDur, err := parseISODuration(period.SelectAttrValue("duration", ""))
		if err != nil {
			return nil, errs.Manifest(errs.CodeParseFailed, "period duration", err)
		}
		if periodDur == 0 {
			periodDur = total
		}
		periodBase := baseURL(period, mpdBase)
		periodTmpl := readTemplate(period.SelectElement("SegmentTemplate"), segmentTemplate{})

		for _, set := range period.SelectElements("AdaptationSet") {
			setBase := baseURL(set, periodBase)
			setTmpl := readTemplate(set.SelectElement("SegmentTemplate"), periodTmpl)

			for _, rep := range set.SelectElements("Representation") {
				v, err := representation(rep, set, setBase, setTmpl, periodDur, live)
				if err != nil {
					return nil, err
				}
				variants = append(variants, v)
			}
		}
	}
	if len(variants) == 0 {
		return nil, errs.Manifest(errs.CodeNoVariants, "mpd has no representations", nil)
	}
	return variants, nil
}

func representation(rep, set *etree.Element, setBase *url.URL, setTmpl segmentTemplate, dur time.Duration, live bool) (types.ManifestVariant, error) {
	id := rep.SelectAttrValue("id", "")
	bandwidth, _ := strconv.Atoi(rep.SelectAttrValue("bandwidth", "0"))
	repBase := baseURL(rep, setBase)

	v := types.ManifestVariant{
		URI:       urlString(repBase),
		Bandwidth: bandwidth,
		Codecs:    inherited(rep, set, "codecs"),
		MimeType:  inherited(rep, set, "mimeType"),
		Live:      live,
	}
	w, h := inherited(rep, set, "width"), inherited(rep, set, "height")
	if w != "" && h != "" {
		v.Resolution = w + "x" + h
	}

	vars := templateVars{id: id, bandwidth: bandwidth}
	tmpl := readTemplate(rep.SelectElement("SegmentTemplate"), setTmpl)
	switch {
	case tmpl.media != "":
		segs, init, err := tmpl.expand(repBase, vars, dur)
		if err != nil {
			return v, errs.Manifest(errs.CodeParseFailed, "segment template of "+id, err)
		}
		v.Segments, v.Init = segs, init
		if tmpl.duration > 0 {
			v.TargetDuration = ticks(tmpl.duration, tmpl.timescale)
		}
	case rep.SelectElement("SegmentList") != nil || set.SelectElement("SegmentList") != nil:
		list := rep.SelectElement("SegmentList")
		if list == nil {
			list = set.SelectElement("SegmentList")
		}
		segs, init, target, err := segmentList(list, repBase)
		if err != nil {
			return v, errs.Manifest(errs.CodeParseFailed, "segment list of "+id, err)
		}
		v.Segments, v.Init, v.TargetDuration = segs, init, target
	default:
		// SegmentBase or a bare BaseURL: one addressable file.
		seg := types.Segment{Sequence: 1, URL: urlString(repBase), Duration: dur}
		if sb := rep.SelectElement("SegmentBase"); sb != nil {
			if init := sb.SelectElement("Initialization"); init != nil {
				if r, err := parseRange(init.SelectAttrValue("range", "")); err == nil && r != nil {
					v.Init = &types.Segment{URL: seg.URL, Range: r}
				}
			}
		}
		v.Segments = []types.Segment{seg}
		v.TargetDuration = dur
	}
	return v, nil
}

func segmentList(list *etree.Element, base *url.URL) ([]types.Segment, *types.Segment, time.Duration, error) {
	timescale, _ := strconv.ParseUint(list.SelectAttrValue("timescale", "1"), 10, 64)
	duration, _ := strconv.ParseUint(list.SelectAttrValue("duration", "0"), 10, 64)
	start, _ := strconv.ParseUint(list.SelectAttrValue("startNumber", "1"), 10, 64)
	segDur := ticks(duration, timescale)

	var init *types.Segment
	if el := list.SelectElement("Initialization"); el != nil {
		r, err := parseRange(el.SelectAttrValue("range", ""))
		if err != nil {
			return nil, nil, 0, err
		}
		init = &types.Segment{URL: resolveURL(base, el.SelectAttrValue("sourceURL", "")), Range: r}
	}
	var segs []types.Segment
	for i, el := range list.SelectElements("SegmentURL") {
		r, err := parseRange(el.SelectAttrValue("mediaRange", ""))
		if err != nil {
			return nil, nil, 0, err
		}
		segs = append(segs, types.Segment{
			Sequence: start + uint64(i),
			URL:      resolveURL(base, el.SelectAttrValue("media", "")),
			Range:    r,
			Duration: segDur,
		})
	}
	return segs, init, segDur, nil
}

type timelineEntry struct {
	t      uint64
	hasT   bool
	d      uint64
	repeat int64
}

type segmentTemplate struct {
	media          string
	initialization string
	startNumber    uint64
	timescale      uint64
	duration       uint64
	timeline       []timelineEntry
}

// readTemplate overlays the attributes of el on parent, following the
// MPD inheritance rules.
func readTemplate(el *etree.Element, parent segmentTemplate) segmentTemplate {
	t := parent
	if t.startNumber == 0 {
		t.startNumber = 1
	}
	if t.timescale == 0 {
		t.timescale = 1
	}
	if el == nil {
		return t
	}
	if v := el.SelectAttrValue("media", ""); v != "" {
		t.media = v
	}
	if v := el.SelectAttrValue("initialization", ""); v != "" {
		t.initialization = v
	}
	if n, err := strconv.ParseUint(el.SelectAttrValue("startNumber", ""), 10, 64); err == nil {
		t.startNumber = n
	}
	if n, err := strconv.ParseUint(el.SelectAttrValue("timescale", ""), 10, 64); err == nil && n > 0 {
		t.timescale = n
	}
	if n, err := strconv.ParseUint(el.SelectAttrValue("duration", ""), 10, 64); err == nil {
		t.duration = n
	}
	if tl := el.SelectElement("SegmentTimeline"); tl != nil {
		t.timeline = nil
		for _, s := range tl.SelectElements("S") {
			e := timelineEntry{}
			if v := s.SelectAttrValue("t", ""); v != "" {
				e.t, _ = strconv.ParseUint(v, 10, 64)
				e.hasT = true
			}
			e.d, _ = strconv.ParseUint(s.SelectAttrValue("d", "0"), 10, 64)
			e.repeat, _ = strconv.ParseInt(s.SelectAttrValue("r", "0"), 10, 64)
			t.timeline = append(t.timeline, e)
		}
	}
	return t
}

func (t segmentTemplate) expand(base *url.URL, vars templateVars, total time.Duration) ([]types.Segment, *types.Segment, error) {
	var init *types.Segment
	if t.initialization != "" {
		u, err := vars.expand(t.initialization)
		if err != nil {
			return nil, nil, err
		}
		init = &types.Segment{URL: resolveURL(base, u)}
	}

	var segs []types.Segment
	add := func(number, start, dur uint64) error {
		v := vars
		v.number, v.time = number, start
		u, err := v.expand(t.media)
		if err != nil {
			return err
		}
		segs = append(segs, types.Segment{
			Sequence: number,
			URL:      resolveURL(base, u),
			Duration: ticks(dur, t.timescale),
		})
		return nil
	}

	number := t.startNumber
	if len(t.timeline) > 0 {
		var clock uint64
		end := uint64(total.Seconds() * float64(t.timescale))
		for i, e := range t.timeline {
			if e.hasT {
				clock = e.t
			}
			if e.d == 0 {
				return nil, nil, fmt.Errorf("timeline entry %d without duration", i)
			}
			count := e.repeat + 1
			if e.repeat < 0 {
				// r=-1 repeats up to the next S@t or the end of the period.
				limit := end
				if i+1 < len(t.timeline) && t.timeline[i+1].hasT {
					limit = t.timeline[i+1].t
				}
				count = 0
				if limit > clock {
					count = int64((limit - clock + e.d - 1) / e.d)
				}
			}
			for j := int64(0); j < count; j++ {
				if len(segs) >= maxTemplateSegments {
					return nil, nil, fmt.Errorf("more than %d segments", maxTemplateSegments)
				}
				if err := add(number, clock, e.d); err != nil {
					return nil, nil, err
				}
				number++
				clock += e.d
			}
		}
		return segs, init, nil
	}

	if t.duration == 0 {
		return nil, nil, fmt.Errorf("template without duration or timeline")
	}
	if total <= 0 {
		// Open-ended live template: only the addressing scheme is known.
		return nil, init, nil
	}
	count := int(math.Ceil(total.Seconds() * float64(t.timescale) / float64(t.duration)))
	if count > maxTemplateSegments {
		return nil, nil, fmt.Errorf("more than %d segments", maxTemplateSegments)
	}
	for i := 0; i < count; i++ {
		if err := add(number, uint64(i)*t.duration, t.duration); err != nil {
			return nil, nil, err
		}
		number++
	}
	return segs, init, nil
}

type templateVars struct {
	id        string
	bandwidth int
	number    uint64
	time      uint64
}

var templateIdent = regexp.MustCompile(`\$(RepresentationID|Number|Bandwidth|Time)(%0(\d+)d)?\$|\$\$`)

// expand substitutes $Identifier$ and $Identifier%0Nd$ placeholders.
func (v templateVars) expand(s string) (string, error) {
	var err error
	out := templateIdent.ReplaceAllStringFunc(s, func(m string) string {
		if m == "$$" {
			return "$"
		}
		sub := templateIdent.FindStringSubmatch(m)
		var n uint64
		switch sub[1] {
		case "RepresentationID":
			if sub[2] != "" {
				err = fmt.Errorf("width format on $RepresentationID$")
			}
			return v.id
		case "Number":
			n = v.number
		case "Bandwidth":
			n = uint64(v.bandwidth)
		case "Time":
			n = v.time
		}
		if sub[3] != "" {
			width, _ := strconv.Atoi(sub[3])
			return fmt.Sprintf("%0*d", width, n)
		}
		return strconv.FormatUint(n, 10)
	})
	return out, err
}

// baseURL resolves the first BaseURL child of el against parent.
func baseURL(el *etree.Element, parent *url.URL) *url.URL {
	b := el.SelectElement("BaseURL")
	if b == nil {
		return parent
	}
	ref, err := url.Parse(strings.TrimSpace(b.Text()))
	if err != nil {
		return parent
	}
	if parent == nil {
		return ref
	}
	return parent.ResolveReference(ref)
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return urlString(base)
	}
	return resolve(base, ref)
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

func inherited(rep, set *etree.Element, attr string) string {
	if v := rep.SelectAttrValue(attr, ""); v != "" {
		return v
	}
	return set.SelectAttrValue(attr, "")
}

func ticks(n, timescale uint64) time.Duration {
	if timescale == 0 {
		timescale = 1
	}
	return time.Duration(float64(n) / float64(timescale) * float64(time.Second))
}

// parseRange parses "start-end"; empty yields nil.
func parseRange(s string) (*types.ByteRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("invalid range %q", s)
	}
	start, err1 := strconv.ParseInt(a, 10, 64)
	end, err2 := strconv.ParseInt(b, 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return nil, fmt.Errorf("invalid range %q", s)
	}
	return &types.ByteRange{Start: start, End: end}, nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// parseISODuration parses the xs:duration subset used by MPDs
// (PnDTnHnMnS). Empty yields zero.
func parseISODuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		f, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d += time.Duration(f * float64(u))
	}
	return d, nil
}
