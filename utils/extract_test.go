package utils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodePrefersPython(t *testing.T) {
	reply := "Here is a query:\n```sql\nSELECT 1;\n```\nand the analysis:\n```python\nprint(df.groupby('Brand')['Stock'].sum().idxmax())\n```\n```python\nprint('second')\n```"
	code, ok := ExtractCode(reply)
	require.True(t, ok)
	assert.Equal(t, "print(df.groupby('Brand')['Stock'].sum().idxmax())", code)
}

func TestExtractCodeFallsBackToFirstBlock(t *testing.T) {
	reply := "```\nx = 1\nprint(x)\n```\n```js\nconsole.log(1)\n```"
	code, ok := ExtractCode(reply)
	require.True(t, ok)
	assert.Equal(t, "x = 1\nprint(x)", code)
}

func TestExtractCodeNoBlock(t *testing.T) {
	_, ok := ExtractCode("The brand with most stock is Acme.")
	assert.False(t, ok)

	_, ok = ExtractCode("```python\n```")
	assert.False(t, ok)
}

func TestExtractCodeHandlesCRLFAndAttributes(t *testing.T) {
	code, ok := ExtractCode("```Python title=\"a.py\"\r\nprint(2)\r\n```")
	require.True(t, ok)
	assert.Equal(t, "print(2)", code)
}

func TestExtractCodeProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("python block is found wherever it sits", prop.ForAll(
		func(prefix, body string, before bool) bool {
			code := "print(" + fmt.Sprintf("%q", body) + ")"
			python := "```python\n" + code + "\n```"
			other := "```bash\necho hi\n```"
			var text string
			if before {
				text = prefix + "\n" + python + "\n" + other
			} else {
				text = prefix + "\n" + other + "\n" + python
			}
			got, ok := ExtractCode(text)
			return ok && got == code
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"plain":   `[{"id":"q1","text":"a"}]`,
		"fenced":  "```json\n[{\"id\":\"q1\",\"text\":\"a\"}]\n```",
		"prose":   "Sure! Here you go: [{\"id\":\"q1\",\"text\":\"a\"}] Hope it helps.",
		"wrapped": `{"elements":[{"id":"q1","text":"a"}]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := ExtractJSON(in)
			require.NoError(t, err)
			assert.True(t, strings.Contains(out, `"q1"`))
		})
	}

	_, err := ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSONFound)
	_, err = ExtractJSON("")
	assert.ErrorIs(t, err, ErrNoJSONFound)
}

func TestExtractJSONTo(t *testing.T) {
	var out []map[string]string
	require.NoError(t, ExtractJSONTo("```\n[{\"id\":\"a\"}]\n```", &out))
	assert.Equal(t, "a", out[0]["id"])
}
