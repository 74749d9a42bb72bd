package wikitext

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSimpleInfobox(t *testing.T) {
	t.Parallel()

	text := "{{Infobox person\n| name = John Doe\n| birth_date = 1990-01-01\n}}"
	infoboxes := ExtractInfoboxes(text)
	require.Len(t, infoboxes, 1)
	assert.Equal(t, "Infobox person", infoboxes[0].Type)
	require.Len(t, infoboxes[0].Fields, 2)
	assert.Equal(t, Field{"name", "John Doe"}, infoboxes[0].Fields[0])
	assert.Equal(t, Field{"birth_date", "1990-01-01"}, infoboxes[0].Fields[1])
}

func TestExtractInfoboxWithNestedTemplate(t *testing.T) {
	t.Parallel()

	text := "{{Infobox person\n| name = John\n| birth_date = {{birth date|1990|1|1}}\n}}"
	infoboxes := ExtractInfoboxes(text)
	require.Len(t, infoboxes, 1)
	require.Len(t, infoboxes[0].Fields, 2)
	assert.Equal(t, "birth_date", infoboxes[0].Fields[1].Key())
	assert.Contains(t, infoboxes[0].Fields[1].Value(), "{{birth date|1990|1|1}}")
}

func TestExtractMultipleInfoboxes(t *testing.T) {
	t.Parallel()

	text := "{{Infobox person\n| name = A\n}}\nSome text\n{{Infobox settlement\n| name = B\n}}"
	infoboxes := ExtractInfoboxes(text)
	require.Len(t, infoboxes, 2)
	assert.Equal(t, "Infobox person", infoboxes[0].Type)
	assert.Equal(t, "Infobox settlement", infoboxes[1].Type)
}

func TestExtractNoInfobox(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ExtractInfoboxes("This is a regular article with no infobox."))
	assert.Empty(t, ExtractInfoboxes("{{cite web|url=http://example.com}} and {{reflist}}"))
}

func TestExtractLowercaseInfobox(t *testing.T) {
	t.Parallel()

	infoboxes := ExtractInfoboxes("{{infobox country\n| name = Testland\n}}")
	require.Len(t, infoboxes, 1)
	assert.Equal(t, "infobox country", infoboxes[0].Type)
}

func TestExtractInfoboxWithUnderscore(t *testing.T) {
	t.Parallel()

	infoboxes := ExtractInfoboxes("{{Infobox_person\n| name = Test\n}}")
	require.Len(t, infoboxes, 1)
	assert.Equal(t, "Infobox_person", infoboxes[0].Type)
}

func TestExtractInfoboxEmptyFieldValue(t *testing.T) {
	t.Parallel()

	infoboxes := ExtractInfoboxes("{{Infobox person\n| name = \n| age = 30\n}}")
	require.Len(t, infoboxes, 1)
	require.Len(t, infoboxes[0].Fields, 2)
	assert.Equal(t, Field{"name", ""}, infoboxes[0].Fields[0])
}

func TestExtractInfoboxUnmatchedBraces(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ExtractInfoboxes("{{Infobox person\n| name = broken"))
}

func TestExtractInfoboxWithSurroundingText(t *testing.T) {
	t.Parallel()

	text := "Some intro text.\n{{Infobox person\n| name = Test\n}}\nMore text after."
	infoboxes := ExtractInfoboxes(text)
	require.Len(t, infoboxes, 1)
	assert.Equal(t, "Test", infoboxes[0].Fields[0].Value())
}

func TestExtractInfoboxWithNonASCIIBefore(t *testing.T) {
	t.Parallel()

	text := "Ünîcödé text here.\n{{Infobox person\n| name = Test\n}}"
	infoboxes := ExtractInfoboxes(text)
	require.Len(t, infoboxes, 1)
	assert.Equal(t, "Infobox person", infoboxes[0].Type)
	assert.Equal(t, "Test", infoboxes[0].Fields[0].Value())
}

func TestFindMatchingClose(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7, findMatchingClose("{{hello}}", 0))
	assert.Equal(t, 21, findMatchingClose("{{outer {{inner}} end}}", 0))
	assert.Equal(t, -1, findMatchingClose("{{never closed", 0))
}

func TestSplitAtDepthZero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b", "c"}, splitAtDepthZero("a|b|c"))
	assert.Equal(t, []string{"a", "b={{x|y}}", "c"}, splitAtDepthZero("a|b={{x|y}}|c"))
}

func TestInfoboxJSONShape(t *testing.T) {
	t.Parallel()

	infobox := Infobox{
		Type:   "Infobox person",
		Fields: []Field{{"name", "John"}, {"age", "30"}},
	}
	data, err := json.Marshal(infobox)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Infobox person","fields":[["name","John"],["age","30"]]}`, string(data))

	var decoded Infobox
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, infobox, decoded)
}
