package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveMode(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{"auto on terminal", ModeAuto, true, ModeText},
		{"auto when piped", ModeAuto, false, ModeJSON},
		{"empty is auto", "", false, ModeJSON},
		{"forced text", ModeText, false, ModeText},
		{"forced json", ModeJSON, true, ModeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode())
			assert.Equal(t, tt.want == ModeJSON, r.IsJSON())
		})
	}
}

func TestNewRenderer_BufferIsNotTerminal(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.Equal(t, ModeJSON, r.EffectiveMode())
}

func TestTable(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeText)

	r.Table([]string{"region", "Revenue"}, [][]any{{"North", 100}, {"South", nil}})

	got := out.String()
	assert.Contains(t, got, "region")
	assert.Contains(t, got, "Revenue")
	assert.Contains(t, got, "North")
	assert.Contains(t, got, "(2 rows)")
	assert.NotContains(t, got, "\x1b[")

	out.Reset()
	r.Table([]string{"n"}, [][]any{{1}})
	assert.Contains(t, out.String(), "(1 row)")
}

func TestJSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeJSON)

	require.NoError(t, r.JSON(map[string]int{"rows": 3}))
	assert.Equal(t, "{\n  \"rows\": 3\n}\n", out.String())
}

func TestKeyValue(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeText)

	r.KeyValue([][2]string{{"Rows", "10"}, {"Quality", "95.0"}})
	assert.Equal(t, "Rows     10\nQuality  95.0\n", out.String())
}

func TestWarn_PlainWhenPiped(t *testing.T) {
	var errOut bytes.Buffer
	r := NewRendererWithTTY(&bytes.Buffer{}, &errOut, false, ModeText)

	r.Warn("column is empty")
	assert.Equal(t, "! column is empty\n", errOut.String())
}
