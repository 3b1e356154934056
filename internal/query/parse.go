package query

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultAnswer is used when a reply carries no answer text.
const DefaultAnswer = "Analysis complete."

// Reply is a model reply split into its parts.
type Reply struct {
	Answer string
	Code   string
	// Chart is the raw chart candidate, nil when absent.
	Chart map[string]any
}

// replyParser attempts one interpretation of a reply.
type replyParser struct {
	name  string
	parse func(text string) (map[string]any, bool)
}

// replyParsers are tried in order; the first success wins.
var replyParsers = []replyParser{
	{name: "json", parse: parseObject},
	{name: "fenced", parse: parseFenced},
	{name: "embedded", parse: parseEmbedded},
}

// ParseReply interprets a model reply. It never fails: when no structured
// object can be found the whole reply becomes the answer.
func ParseReply(text string) Reply {
	r, _ := parseReply(text)
	return r
}

// parseReply also reports which strategy produced the reply.
func parseReply(text string) (Reply, string) {
	for _, p := range replyParsers {
		if obj, ok := p.parse(text); ok {
			return replyFromObject(obj), p.name
		}
	}
	return fallbackReply(text), "fallback"
}

func fallbackReply(text string) Reply {
	answer := strings.TrimSpace(text)
	if answer == "" {
		answer = DefaultAnswer
	}
	return Reply{Answer: answer}
}

func replyFromObject(obj map[string]any) Reply {
	var r Reply
	if s, ok := obj["answer"].(string); ok {
		r.Answer = strings.TrimSpace(s)
	}
	if r.Answer == "" {
		r.Answer = DefaultAnswer
	}
	if s, ok := obj["code"].(string); ok && strings.TrimSpace(s) != "" {
		r.Code = s
	}
	if c, ok := obj["chart"].(map[string]any); ok {
		r.Chart = c
	}
	return r
}

// parseObject decodes text as a single JSON object.
func parseObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return normalizeNumbers(obj).(map[string]any), true
}

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\n?(.*?)\n?```")

// parseFenced decodes the first fenced block of the reply.
func parseFenced(text string) (map[string]any, bool) {
	m := fencePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return parseObject(m[1])
}

// parseEmbedded looks for an object anywhere in the reply: first the span
// from the first '{' to the last '}', then each balanced span in turn.
func parseEmbedded(text string) (map[string]any, bool) {
	first := strings.IndexByte(text, '{')
	last := strings.LastIndexByte(text, '}')
	if first < 0 || last <= first {
		return nil, false
	}
	if obj, ok := parseObject(text[first : last+1]); ok {
		return obj, true
	}

	for start := first; start >= 0 && start < len(text); {
		end := balancedEnd(text, start)
		if end > start {
			if obj, ok := parseObject(text[start : end+1]); ok {
				return obj, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// balancedEnd returns the index of the '}' closing the '{' at start, skipping
// braces inside JSON strings, or -1.
func balancedEnd(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// normalizeNumbers turns json.Number values into int64 where integral and
// float64 otherwise, so chart payloads keep integer counts.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, x := range val {
			val[k] = normalizeNumbers(x)
		}
		return val
	case []any:
		for i, x := range val {
			val[i] = normalizeNumbers(x)
		}
		return val
	}
	return v
}
