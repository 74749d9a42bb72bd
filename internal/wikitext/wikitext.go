// Package wikitext provides pure helpers over a single article's wikitext:
// abstracts, sections, categories, images, external links, see-also links,
// disambiguation detection, and infobox parsing.
//
// All offsets are byte offsets into the original text, so they stay valid
// across multi-byte characters.
package wikitext

import (
	"regexp"
	"strings"
)

//nolint:gochecknoglobals,lll
var (
	categoryRegex      = regexp.MustCompile(`\[\[Category:([^|\]]+?)(?:\|[^\]]+)?\]\]`)
	sectionRegex       = regexp.MustCompile(`(?m)^(={2,})\s*(.+?)\s*={2,}\s*$`)
	imageRegex         = regexp.MustCompile(`(?i)\[\[(?:File|Image):([^|\]]+?)(?:\|[^\]]*)*\]\]`)
	externalLinkRegex  = regexp.MustCompile(`\[(https?://\S+?)(?:\s[^\]]+)?\]`)
	disambigRegex      = regexp.MustCompile(`(?i)\{\{(?:disambig(?:uation)?|dab|hndis|geodis|disamb|surname|given name|human name disambiguation|place name disambiguation|hospital disambiguation|airport disambiguation|letter-numbercombdisambig|school disambiguation|road disambiguation|biology disambiguation|taxonomy disambiguation|species latin name disambiguation|mathematical disambiguation|chemistry disambiguation|music disambiguation)\b`)
	seeAlsoHeaderRegex = regexp.MustCompile(`(?mi)^={2,}\s*See\s+also\s*={2,}\s*$`)
	nextSectionRegex   = regexp.MustCompile(`(?m)^={2,}\s*[^=]`)
	linkRegex          = regexp.MustCompile(`\[\[([^|\]]+?)(?:\|[^\]]+)?\]\]`)
)

// Link is one wikilink occurrence: its raw target and the byte offset of the
// match in the article text.
type Link struct {
	Target string
	Offset int
}

// Links returns all wikilink targets in document order together with their
// byte offsets.
func Links(text string) []Link {
	matches := linkRegex.FindAllStringSubmatchIndex(text, -1)
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, Link{
			Target: text[m[2]:m[3]],
			Offset: m[0],
		})
	}
	return links
}

// ExtractAbstract returns the lead section (before the first heading) with
// templates stripped, trimmed line by line, empty lines dropped.
func ExtractAbstract(text string) string {
	// Strip templates first so headings inside {{Infobox ...}} don't truncate the lead.
	stripped := StripTemplates(text)

	end := len(stripped)
	if loc := sectionRegex.FindStringIndex(stripped); loc != nil {
		end = loc[0]
	}

	var lines []string
	for _, line := range strings.Split(stripped[:end], "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractSections returns all heading captions in document order.
func ExtractSections(text string) []string {
	var sections []string
	for _, m := range sectionRegex.FindAllStringSubmatch(text, -1) {
		sections = append(sections, strings.TrimSpace(m[2]))
	}
	return sections
}

// ExtractSeeAlsoLinks returns targets of wikilinks inside the see-also
// section, terminated by the next heading or end of text.
func ExtractSeeAlsoLinks(text string) []string {
	loc := seeAlsoHeaderRegex.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	afterHeader := text[loc[1]:]
	sectionEnd := len(afterHeader)
	if next := nextSectionRegex.FindStringIndex(afterHeader); next != nil {
		sectionEnd = next[0]
	}

	var links []string
	for _, link := range Links(afterHeader[:sectionEnd]) {
		target := strings.TrimSpace(link.Target)
		if target != "" {
			links = append(links, target)
		}
	}
	return links
}

// SeeAlsoSectionStart returns the byte offset of the first see-also heading,
// or -1 when the article has none. Used for position-based edge
// classification.
func SeeAlsoSectionStart(text string) int {
	loc := seeAlsoHeaderRegex.FindStringIndex(text)
	if loc == nil {
		return -1
	}
	return loc[0]
}

// ExtractCategories returns all category names referenced by the article.
func ExtractCategories(text string) []string {
	var categories []string
	for _, m := range categoryRegex.FindAllStringSubmatch(text, -1) {
		if name := sanitizeField(strings.TrimSpace(m[1])); name != "" {
			categories = append(categories, name)
		}
	}
	return categories
}

// ExtractImages returns all image filenames referenced by the article.
func ExtractImages(text string) []string {
	var images []string
	for _, m := range imageRegex.FindAllStringSubmatch(text, -1) {
		if name := sanitizeField(strings.TrimSpace(m[1])); name != "" {
			images = append(images, name)
		}
	}
	return images
}

// ExtractExternalLinks returns all external link URLs referenced by the
// article.
func ExtractExternalLinks(text string) []string {
	var links []string
	for _, m := range externalLinkRegex.FindAllStringSubmatch(text, -1) {
		if url := sanitizeField(strings.TrimSpace(m[1])); url != "" {
			links = append(links, url)
		}
	}
	return links
}

// IsDisambiguation reports whether the article carries a disambiguation
// template marker.
func IsDisambiguation(text string) bool {
	return disambigRegex.MatchString(text)
}

// StripTemplates removes {{...}} spans balanced by nesting. Text after an
// unclosed {{ is dropped.
func StripTemplates(text string) string {
	var result strings.Builder
	result.Grow(len(text))

	i := 0
	runStart := 0
	for i < len(text) {
		if i+1 < len(text) && text[i] == '{' && text[i+1] == '{' {
			if runStart < i {
				result.WriteString(text[runStart:i])
			}
			depth := 0
			for i+1 < len(text) {
				switch {
				case text[i] == '{' && text[i+1] == '{':
					depth++
					i += 2
				case text[i] == '}' && text[i+1] == '}':
					depth--
					i += 2
				default:
					i++
				}
				if depth == 0 {
					break
				}
			}
			if depth != 0 {
				// Unclosed template, drop the rest of the text.
				i = len(text)
			}
			runStart = i
		} else {
			i++
		}
	}

	if runStart < len(text) {
		result.WriteString(text[runStart:])
	}
	return result.String()
}

// sanitizeField collapses newlines and runs of whitespace into single spaces
// so CSV fields stay on one line.
func sanitizeField(s string) string {
	if !strings.ContainsAny(s, "\n\r") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}
