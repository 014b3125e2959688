package placeholder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsDocumentOrder(t *testing.T) {
	text := `<p>Hello var[{{name}}], sign: var[{{signature}}] and var[ {{ signature }} ]</p>`

	tokens := Parse(text)
	require.Len(t, tokens, 3)

	assert.Equal(t, "name", tokens[0].Name)
	assert.Equal(t, "signature", tokens[1].Name)
	assert.Equal(t, "signature", tokens[2].Name)
	assert.Less(t, tokens[0].Start, tokens[1].Start)
	assert.Less(t, tokens[1].Start, tokens[2].Start)

	for _, tok := range tokens {
		assert.Equal(t, tok.Raw, text[tok.Start:tok.End])
	}
}

func TestParseDottedNamesAreDistinct(t *testing.T) {
	tokens := Parse(`var[{{signature.user}}] var[{{signature}}] var[{{signature.influencer}}]`)
	require.Len(t, tokens, 3)

	assert.Equal(t, []string{"signature.user", "signature", "signature.influencer"}, Names(tokens))
}

func TestParseLeavesMalformedTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "missing bracket", text: `var{{name}}]`},
		{name: "single brace", text: `var[{name}]`},
		{name: "empty name", text: `var[{{   }}]`},
		{name: "unterminated", text: `var[{{name}`},
		{name: "tag inside", text: `var[{{<b>name</b>}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, Parse(tt.text))
		})
	}
}

func TestCounts(t *testing.T) {
	tokens := Parse(`var[{{a}}] var[{{b}}] var[{{a}}] var[{{text}}] var[{{text}}] var[{{text}}]`)
	counts := Counts(tokens)

	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 1, counts["b"])
	assert.Equal(t, 3, counts["text"])
}

func TestKeyName(t *testing.T) {
	assert.Equal(t, "name", KeyName("name"))
	assert.Equal(t, "name", KeyName(" var[{{ name }}] "))
	assert.Equal(t, "signature.user", KeyName("var[{{signature.user}}]"))
	assert.Equal(t, "var[{{a}}] tail", KeyName("var[{{a}}] tail"))
}

func TestLiteralRoundTrips(t *testing.T) {
	tokens := Parse(Literal("signature.user"))
	require.Len(t, tokens, 1)
	assert.Equal(t, "signature.user", tokens[0].Name)
}

func TestRepeatableAndSignatureFamily(t *testing.T) {
	assert.True(t, IsRepeatable("text"))
	assert.True(t, IsRepeatable("signature"))
	assert.True(t, IsRepeatable("signature.user"))
	assert.True(t, IsRepeatable("signature.influencer"))
	assert.False(t, IsRepeatable("name"))

	assert.True(t, IsSignature("signature"))
	assert.True(t, IsSignature("signature.user"))
	assert.False(t, IsSignature("signature.witness"))
	assert.False(t, IsSignature("signatures"))
	assert.False(t, IsSignature("text"))
}
