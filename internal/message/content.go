// Package message defines the raw content a scan starts from.
package message

import "encoding/json"

// Content is the raw message as handed over by a content provider. Any
// field may be empty.
type Content struct {
	Sender   string `json:"sender"`
	Subject  string `json:"subject"`
	BodyText string `json:"bodyText"`
	BodyHTML string `json:"bodyHtml"`
}

// HasText reports whether there is a subject or a plain-text body to scan.
func (c Content) HasText() bool {
	return c.Subject != "" || c.BodyText != ""
}

// UnmarshalJSON accepts snake_case keys as well and treats fields that are
// not strings as empty.
func (c *Content) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Content{
		Sender:   stringField(raw, "sender", "from"),
		Subject:  stringField(raw, "subject"),
		BodyText: stringField(raw, "bodyText", "body_text", "text"),
		BodyHTML: stringField(raw, "bodyHtml", "body_html", "html"),
	}
	return nil
}

func stringField(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return ""
	}
	return ""
}
