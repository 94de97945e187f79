package termination

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// scoreFallback matches `score: 91`, `"score" = 91.5`, `Score:"88"` and similar.
var scoreFallback = regexp.MustCompile(`(?i)["']?\bscore["']?\s*[:=]\s*["']?(-?\d+(?:\.\d+)?)`)

// ExtractScore pulls a numeric "score" out of free-form message content.
//
// Every embedded JSON object is tried in order of its opening brace, so an
// outer object wins over the objects nested inside it. When no object carries
// a usable score, a plain-text `score: N` form is accepted; the last such
// occurrence wins. Anything else yields (0, false).
func ExtractScore(content string) (float64, bool) {
	if content == "" {
		return 0, false
	}

	for i := strings.IndexByte(content, '{'); i >= 0; {
		if score, ok := scoreFromObject(content[i:]); ok {
			return score, true
		}
		next := strings.IndexByte(content[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}

	matches := scoreFallback.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return 0, false
	}
	return parseScore(matches[len(matches)-1][1])
}

// scoreFromObject decodes the first JSON value of s and reads its score field.
func scoreFromObject(s string) (float64, bool) {
	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return 0, false
	}

	for k, v := range obj {
		if !strings.EqualFold(k, "score") {
			continue
		}
		switch val := v.(type) {
		case json.Number:
			return parseScore(val.String())
		case string:
			return parseScore(val)
		}
	}
	return 0, false
}

func parseScore(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
