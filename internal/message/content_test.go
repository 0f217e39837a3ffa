package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Content
	}{
		{
			name: "camel case",
			data: `{"sender":"a@b.com","subject":"Hi","bodyText":"text","bodyHtml":"<p>x</p>"}`,
			want: Content{Sender: "a@b.com", Subject: "Hi", BodyText: "text", BodyHTML: "<p>x</p>"},
		},
		{
			name: "snake case",
			data: `{"from":"a@b.com","subject":"Hi","body_text":"text","body_html":"<p>x</p>"}`,
			want: Content{Sender: "a@b.com", Subject: "Hi", BodyText: "text", BodyHTML: "<p>x</p>"},
		},
		{
			name: "non-string fields become empty",
			data: `{"sender":42,"subject":null,"bodyText":["a"],"bodyHtml":{"x":1}}`,
			want: Content{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Content
			require.NoError(t, json.Unmarshal([]byte(tt.data), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var c Content
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &c))
}

func TestContentHasText(t *testing.T) {
	assert.False(t, Content{}.HasText())
	assert.False(t, Content{Sender: "a@b.com", BodyHTML: "<p>hi</p>"}.HasText())
	assert.True(t, Content{Subject: "Hi"}.HasText())
	assert.True(t, Content{BodyText: "body"}.HasText())
}
