package newsbot

import (
	"strings"

	"golang.org/x/net/html"
)

const summaryLimit = 200

// StripHTML reduces feed markup to its visible text. Script and style bodies
// are skipped entirely; entities come back decoded from the tokenizer.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if tag := string(name); (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

// truncateRunes cuts s to at most n characters, not bytes, so a multibyte
// summary is never split mid-rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// buildContent assembles the bot post body: emoji headline, cleaned summary,
// attribution line.
func buildContent(emoji, title, summary, sourceName string) string {
	var b strings.Builder
	b.WriteString(emoji)
	b.WriteString(" ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if summary != "" {
		b.WriteString(truncateRunes(StripHTML(summary), summaryLimit))
		b.WriteString("\n\n")
	}
	b.WriteString("Source: ")
	b.WriteString(sourceName)
	return b.String()
}
