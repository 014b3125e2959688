// Package render substitutes an assignment plan into template HTML.
//
// Editable occurrences are emitted as tagged artifacts (data-cf-var,
// data-cf-occurrence) so Normalize can turn a rendered document back into
// tokens before the next pass. Non-editable values are baked in as escaped
// text. Render(Normalize(out), plan) reproduces out byte for byte.
package render

import (
	"html"
	"regexp"
	"strings"

	"contractflow/api/internal/placeholder"
	"contractflow/api/internal/resolve"
)

const imagePrefix = "data:image/"

const styleBlock = `<style data-cf-style>` +
	`.cf-box{display:inline-block;min-width:8em;min-height:1.4em;padding:0 .3em;border:1px dashed #8a8a8a;color:#8a8a8a;cursor:pointer}` +
	`.cf-input{font-style:italic;border-bottom:1px solid #444}` +
	`.cf-image{max-height:4em;vertical-align:bottom}` +
	`</style>`

var (
	styleBlockRE  = regexp.MustCompile(`(?s)<style data-cf-style>.*?</style>`)
	imageArtRE    = regexp.MustCompile(`<img\b[^>]*\bdata-cf-var="([^"]*)"[^>]*>`)
	spanArtRE     = regexp.MustCompile(`(?s)<span\b[^>]*\bdata-cf-var="([^"]*)"[^>]*>.*?</span>`)
	templateAsset = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>|<link\b[^>]*\brel=["']?stylesheet["']?[^>]*>`)
)

// Result is a rendered document.
type Result struct {
	HTML string
	// Styles lists the style and stylesheet declarations found in the
	// template, in document order. They stay inline in HTML as well.
	Styles []string
	// Unresolved lists token names that rendered as "--" or as an empty box
	// without an entry.
	Unresolved []string
}

// Render replaces every slot of plan in doc. doc must be the normalized text
// the plan's tokens were parsed from.
func Render(doc string, plan resolve.Plan) Result {
	var b strings.Builder
	b.Grow(len(doc) + len(styleBlock))

	artifacts := false
	unresolved := map[string]struct{}{}
	var unresolvedOrder []string
	last := 0
	for _, slot := range plan.Slots {
		tok := slot.Token
		if tok.Start < last || tok.End > len(doc) {
			continue
		}
		b.WriteString(doc[last:tok.Start])
		last = tok.End

		switch {
		case slot.Entry != nil && slot.Entry.Editable:
			artifacts = true
			b.WriteString(editable(slot.Entry))
		case slot.Entry != nil:
			b.WriteString(Text(slot.Value))
		default:
			if _, ok := unresolved[tok.Name]; !ok {
				unresolved[tok.Name] = struct{}{}
				unresolvedOrder = append(unresolvedOrder, tok.Name)
			}
			if placeholder.IsSignature(tok.Name) {
				artifacts = true
				b.WriteString(box(tok.Name, tok.Name))
				continue
			}
			b.WriteString(resolve.Missing)
		}
	}
	b.WriteString(doc[last:])

	out := b.String()
	if artifacts {
		out = styleBlock + out
	}
	return Result{
		HTML:       out,
		Styles:     Styles(doc),
		Unresolved: unresolvedOrder,
	}
}

// Normalize restores rendered artifacts to their literal tokens and drops
// the renderer's own style block.
func Normalize(doc string) string {
	doc = styleBlockRE.ReplaceAllString(doc, "")
	doc = imageArtRE.ReplaceAllStringFunc(doc, restoreToken(imageArtRE))
	return spanArtRE.ReplaceAllStringFunc(doc, restoreToken(spanArtRE))
}

func restoreToken(re *regexp.Regexp) func(string) string {
	return func(match string) string {
		m := re.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		return placeholder.Literal(html.UnescapeString(m[1]))
	}
}

// textEscaper also encodes '[' so a value quoting token syntax never parses
// as a token on the next pass.
var textEscaper = strings.NewReplacer("[", "&#91;", "\n", "<br>")

// Text escapes s for HTML and turns newlines into line breaks.
func Text(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return textEscaper.Replace(html.EscapeString(s))
}

// IsImage reports whether an input value is an embedded image.
func IsImage(value string) bool {
	return len(value) > len(imagePrefix) && strings.EqualFold(value[:len(imagePrefix)], imagePrefix)
}

func editable(e *resolve.Entry) string {
	switch {
	case e.InputValue == "":
		return box(e.Name, e.OccurrenceKey)
	case IsImage(e.InputValue):
		return `<img class="cf-image" ` + attrs(e.Name, e.OccurrenceKey) +
			` src="` + html.EscapeString(e.InputValue) + `" alt="` + html.EscapeString(e.Name) + `">`
	default:
		return `<span class="cf-input" ` + attrs(e.Name, e.OccurrenceKey) + `>` + Text(e.InputValue) + `</span>`
	}
}

// box keeps the literal token text so the occurrence stays targetable.
func box(name, occurrence string) string {
	return `<span class="cf-box" ` + attrs(name, occurrence) + `>` +
		html.EscapeString(placeholder.Literal(name)) + `</span>`
}

func attrs(name, occurrence string) string {
	return `data-cf-var="` + html.EscapeString(name) + `" data-cf-occurrence="` + html.EscapeString(occurrence) + `"`
}

// Styles returns the style blocks and stylesheet links of doc, excluding the
// renderer's own.
func Styles(doc string) []string {
	doc = styleBlockRE.ReplaceAllString(doc, "")
	return templateAsset.FindAllString(doc, -1)
}

// Split separates the style declarations of a rendered fragment, the
// renderer's own block first, from its body markup.
func Split(fragment string) (head, body string) {
	var h strings.Builder
	if own := styleBlockRE.FindString(fragment); own != "" {
		h.WriteString(own)
	}
	for _, s := range Styles(fragment) {
		h.WriteString(s)
	}
	body = styleBlockRE.ReplaceAllString(fragment, "")
	body = templateAsset.ReplaceAllString(body, "")
	return h.String(), body
}

// Standalone wraps a rendered fragment into a printable page. Style
// declarations are hoisted into the head.
func Standalone(title, fragment string) string {
	head, body := Split(fragment)
	return "<!doctype html><html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(title) +
		"</title>" + head + "</head><body>" + body + "</body></html>"
}
