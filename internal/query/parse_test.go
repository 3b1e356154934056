package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantAnswer   string
		wantCode     string
		wantChart    bool
		wantStrategy string
	}{
		{
			name:         "raw json",
			reply:        `{"answer": "Total is 450", "code": "result = df['revenue'].sum()"}`,
			wantAnswer:   "Total is 450",
			wantCode:     "result = df['revenue'].sum()",
			wantStrategy: "json",
		},
		{
			name:         "fenced json",
			reply:        "```json\n{\"answer\": \"Fenced\", \"chart\": {\"type\": \"bar\"}}\n```",
			wantAnswer:   "Fenced",
			wantChart:    true,
			wantStrategy: "fenced",
		},
		{
			name:         "fenced block after prose",
			reply:        "Here you go:\n```\n{\"answer\": \"Inside\"}\n```\nThanks",
			wantAnswer:   "Inside",
			wantStrategy: "fenced",
		},
		{
			name:         "prose around object",
			reply:        `Sure! {"answer": "Embedded", "code": "result = 1"} Hope this helps.`,
			wantAnswer:   "Embedded",
			wantCode:     "result = 1",
			wantStrategy: "embedded",
		},
		{
			name:         "balanced scan after greedy span fails",
			reply:        `Note {not json}. Answer: {"answer": "Second {brace} inside"} trailing }`,
			wantAnswer:   "Second {brace} inside",
			wantStrategy: "embedded",
		},
		{
			name:         "plain text",
			reply:        "  The average revenue is 150.  ",
			wantAnswer:   "The average revenue is 150.",
			wantStrategy: "fallback",
		},
		{
			name:         "missing answer",
			reply:        `{"code": "result = 2"}`,
			wantAnswer:   DefaultAnswer,
			wantCode:     "result = 2",
			wantStrategy: "json",
		},
		{
			name:         "blank code ignored",
			reply:        `{"answer": "ok", "code": "   ", "chart": null}`,
			wantAnswer:   "ok",
			wantStrategy: "json",
		},
		{
			name:         "empty reply",
			reply:        "",
			wantAnswer:   DefaultAnswer,
			wantStrategy: "fallback",
		},
		{
			name:         "non-object json",
			reply:        `["answer"]`,
			wantAnswer:   `["answer"]`,
			wantStrategy: "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, strategy := parseReply(tt.reply)
			assert.Equal(t, tt.wantStrategy, strategy)
			assert.Equal(t, tt.wantAnswer, got.Answer)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantChart, got.Chart != nil)
			assert.Equal(t, got, ParseReply(tt.reply))
		})
	}
}

func TestParseReply_KeepsIntegerNumbers(t *testing.T) {
	got := ParseReply(`{"answer": "a", "chart": {"type": "bar", "data": [{"n": 3, "share": 0.5}]}}`)
	data := got.Chart["data"].([]any)
	assert.Equal(t, map[string]any{"n": int64(3), "share": 0.5}, data[0])
}

func TestBalancedEnd(t *testing.T) {
	assert.Equal(t, 8, balancedEnd(`{"a":"}"}`, 0))
	assert.Equal(t, 7, balancedEnd(`{"a":{}}`, 0))
	assert.Equal(t, -1, balancedEnd(`{"a":1`, 0))
}
