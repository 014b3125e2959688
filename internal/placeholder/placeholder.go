// Package placeholder scans contract templates for var[{{name}}] tokens.
//
// Scanning works on raw text. Tokens never nest and never straddle an HTML
// tag, so document order of the matches is the only ordering signal later
// stages rely on when they map repeated tokens to distinct inputs.
package placeholder

import (
	"regexp"
	"strings"
)

// Repeatable placeholder names. Every occurrence of these gets its own input.
const (
	FreeText            = "text"
	Signature           = "signature"
	SignatureUser       = "signature.user"
	SignatureInfluencer = "signature.influencer"
)

var tokenRE = regexp.MustCompile(`var\[\s*\{\{\s*([^{}\[\]<>]+?)\s*\}\}\s*\]`)

// Token is one occurrence of a placeholder in a template.
type Token struct {
	Name  string
	Start int
	End   int
	Raw   string
}

// Parse returns every well-formed token in document order. Text that does not
// match the grammar is left alone.
func Parse(text string) []Token {
	matches := tokenRE.FindAllStringSubmatchIndex(text, -1)
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(text[m[2]:m[3]])
		if name == "" {
			continue
		}
		tokens = append(tokens, Token{
			Name:  name,
			Start: m[0],
			End:   m[1],
			Raw:   text[m[0]:m[1]],
		})
	}
	return tokens
}

// Literal returns the canonical token text for name.
func Literal(name string) string {
	return "var[{{" + name + "}}]"
}

// KeyName accepts either a bare name or a token and returns the bare name.
func KeyName(key string) string {
	key = strings.TrimSpace(key)
	if m := tokenRE.FindStringSubmatch(key); m != nil && m[0] == key {
		return strings.TrimSpace(m[1])
	}
	return key
}

// Names lists distinct token names in first-seen order.
func Names(tokens []Token) []string {
	seen := make(map[string]struct{}, len(tokens))
	names := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t.Name]; ok {
			continue
		}
		seen[t.Name] = struct{}{}
		names = append(names, t.Name)
	}
	return names
}

// Counts returns the number of occurrences per name.
func Counts(tokens []Token) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t.Name]++
	}
	return counts
}

// IsRepeatable reports whether each occurrence of name is filled independently.
func IsRepeatable(name string) bool {
	switch name {
	case FreeText, Signature, SignatureUser, SignatureInfluencer:
		return true
	default:
		return false
	}
}

// IsSignature reports whether name is one of the signature boxes.
func IsSignature(name string) bool {
	switch name {
	case Signature, SignatureUser, SignatureInfluencer:
		return true
	default:
		return false
	}
}
