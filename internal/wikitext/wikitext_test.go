package wikitext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCategories(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"Science"}, ExtractCategories("[[Category:Science]]"))
	assert.Equal(t, []string{"People"}, ExtractCategories("[[Category:People|Smith, John]]"))
	assert.Equal(t, []string{"Science", "Physics"}, ExtractCategories("[[Category:Science]]\n[[Category:Physics]]"))
	assert.Empty(t, ExtractCategories("[[Rust]] and [[Python]]"))
}

func TestExtractCategoriesSanitizesNewlines(t *testing.T) {
	t.Parallel()

	categories := ExtractCategories("[[Category:Explorers from n\nNew France]]")
	assert.Equal(t, []string{"Explorers from n New France"}, categories)
}

func TestExtractSections(t *testing.T) {
	t.Parallel()

	text := "Intro\n== History ==\nSome history\n== See also ==\nLinks\n"
	assert.Equal(t, []string{"History", "See also"}, ExtractSections(text))

	text = "== Level 2 ==\n=== Level 3 ===\n== Another ==\n"
	assert.Equal(t, []string{"Level 2", "Level 3", "Another"}, ExtractSections(text))

	assert.Empty(t, ExtractSections("Just a paragraph with no headings."))
}

func TestExtractSeeAlsoLinks(t *testing.T) {
	t.Parallel()

	text := "Intro text.\n== History ==\nSome history.\n== See also ==\n* [[Rust]]\n* [[Python]]\n== References ==\nRefs here."
	assert.Equal(t, []string{"Rust", "Python"}, ExtractSeeAlsoLinks(text))

	assert.Empty(t, ExtractSeeAlsoLinks("No see also section here.\n== References ==\nRefs."))

	assert.Equal(t, []string{"Rust"}, ExtractSeeAlsoLinks("Intro.\n== See also ==\n* [[Rust]]"))
}

func TestSeeAlsoSectionStart(t *testing.T) {
	t.Parallel()

	text := "Intro.\n== History ==\nSome history.\n== See also ==\n* [[Rust]]"
	start := SeeAlsoSectionStart(text)
	assert.GreaterOrEqual(t, start, 0)
	assert.True(t, len(text) > start)
	assert.Equal(t, "== See also ==", text[start:start+len("== See also ==")])

	assert.Equal(t, -1, SeeAlsoSectionStart("No see also section.\n== References ==\nRefs."))
}

func TestExtractImages(t *testing.T) {
	t.Parallel()

	text := "[[File:Example.jpg|thumb|Caption]] and [[Image:Logo.png]]"
	assert.Equal(t, []string{"Example.jpg", "Logo.png"}, ExtractImages(text))

	assert.Empty(t, ExtractImages("No images here, just [[a link]]."))

	// Prefix match is case-insensitive.
	text = "[[file:lower.jpg]] and [[IMAGE:upper.png]]"
	assert.Equal(t, []string{"lower.jpg", "upper.png"}, ExtractImages(text))
}

func TestExtractExternalLinks(t *testing.T) {
	t.Parallel()

	text := "[https://example.com Example] and [http://test.org Test Site]"
	assert.Equal(t, []string{"https://example.com", "http://test.org"}, ExtractExternalLinks(text))

	assert.Empty(t, ExtractExternalLinks("No external links, just [[internal links]]."))
}

func TestIsDisambiguation(t *testing.T) {
	t.Parallel()

	for _, marker := range []string{
		"{{disambiguation}}",
		"{{Disambiguation}}",
		"{{disambig}}",
		"{{dab}}",
		"{{surname}}",
		"{{given name}}",
		"{{geodis}}",
		"{{hndis}}",
	} {
		assert.True(t, IsDisambiguation(marker), marker)
	}

	assert.False(t, IsDisambiguation("Regular article text."))
	assert.False(t, IsDisambiguation("{{cite web|url=...}}"))
}

func TestExtractAbstract(t *testing.T) {
	t.Parallel()

	text := "This is the abstract.\n\n== History ==\nSome history."
	assert.Equal(t, "This is the abstract.", ExtractAbstract(text))

	text = "{{Infobox person|name=Test}}\nThis is the abstract.\n== Section ==\n"
	assert.Equal(t, "This is the abstract.", ExtractAbstract(text))

	text = "Just a simple article with no headings."
	assert.Equal(t, text, ExtractAbstract(text))

	assert.Equal(t, "", ExtractAbstract("== Section ==\nContent."))
}

func TestStripTemplates(t *testing.T) {
	t.Parallel()

	assert.Equal(t, " text after", StripTemplates("{{template}} text after"))
	assert.Equal(t, " text", StripTemplates("{{outer {{inner}} end}} text"))
	assert.Equal(t, "plain text", StripTemplates("plain text"))
	assert.Equal(t, " middle  end", StripTemplates("{{a}} middle {{b}} end"))
}

func TestStripTemplatesUnclosedDoesNotHang(t *testing.T) {
	t.Parallel()

	result := StripTemplates("{{unclosed template text after")
	assert.NotContains(t, result, "unclosed")
}

func TestLinks(t *testing.T) {
	t.Parallel()

	links := Links("See [[Rust]]")
	assert.Equal(t, []Link{{Target: "Rust", Offset: 4}}, links)

	links = Links("See [[Rust (programming language)|Rust]]")
	assert.Len(t, links, 1)
	assert.Equal(t, "Rust (programming language)", links[0].Target)

	targets := func(text string) []string {
		var out []string
		for _, l := range Links(text) {
			out = append(out, l.Target)
		}
		return out
	}
	assert.Equal(t, []string{"Rust", "Python"}, targets("[[Rust]] and [[Python]] are languages."))
	assert.Equal(t, []string{"A", "B", "C"}, targets("[[A]][[B]][[C]]"))
	assert.Equal(t, []string{"United States of America"}, targets("[[United States of America]]"))
	assert.Equal(t, []string{"Mercury (planet)"}, targets("[[Mercury (planet)]]"))
	assert.Empty(t, targets("[not a link]"))
	assert.Empty(t, targets("[[]]"))
	assert.Empty(t, targets("No links here"))
}

func TestLinksOffsetsAreByteOffsets(t *testing.T) {
	t.Parallel()

	text := "日本語の記事 with [[リンク]]"
	links := Links(text)
	assert.Len(t, links, 1)
	assert.Equal(t, "リンク", links[0].Target)
	assert.Equal(t, "[[", text[links[0].Offset:links[0].Offset+2])
}
