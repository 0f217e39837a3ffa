package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "lowercases and strips tags",
			input: "<p>Verify YOUR Account</p>",
			want:  "verify your account",
		},
		{
			name:  "strips entities",
			input: "Hello&nbsp;customer &amp; friends",
			want:  "hello customer friends",
		},
		{
			name:  "strips urls and addresses",
			input: "Click https://evil.example.com/login?x=1 or mail support@evil.example now",
			want:  "click mail now",
		},
		{
			name:  "strips digits and punctuation",
			input: "Pay $500.00 today!!! (limited-offer)",
			want:  "pay today limited offer",
		},
		{
			name:  "collapses obfuscation runs",
			input: "card ending xxxx ... ---- done",
			want:  "card ending done",
		},
		{
			name:  "drops short tokens",
			input: "to be or not to be, go on",
			want:  "not",
		},
		{
			name:  "obfuscation revealed by digit removal",
			input: "account xxx1 locked",
			want:  "account locked",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "whitespace only",
			input: " \n\t ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"<div>URGENT: your PayPal account is LOCKED!</div>",
		"account xxx1 locked -- see a.b.c ... x-x-x",
		"&amp;&#39; mixed <b>tags</b> and entities&nbsp;here",
		"https://a.example/ab@cd visit now1 ab1c xx2xx",
		"Ünïcödé wörds stay lowercase ÄÖÜ",
		"...xxx--- 123 abc--- ---abc",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeValue(t *testing.T) {
	s := "Verify Account"
	assert.Equal(t, "verify account", NormalizeValue(s))
	assert.Equal(t, "verify account", NormalizeValue(&s))
	assert.Equal(t, "", NormalizeValue(42))
	assert.Equal(t, "", NormalizeValue(nil))
	assert.Equal(t, "", NormalizeValue((*string)(nil)))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"free", "account", "free"}, Tokens("free account free"))
	assert.Empty(t, Tokens(""))
}
