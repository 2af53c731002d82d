package kbsync

type RichTextItem struct {
	PlainText string `json:"plain_text"`
}

type PropertyValue struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Checkbox bool           `json:"checkbox,omitempty"`
	Title    []RichTextItem `json:"title,omitempty"`
	RichText []RichTextItem `json:"rich_text,omitempty"`
}

type PropertySnapshot map[string]PropertyValue

const fallbackQuestion = "Untitled"

// ExtractContent pulls the question from the title field's first rich-text
// segment and the answer from the body field's first segment. Missing or
// empty fields degrade to fallbacks; extraction never fails.
func ExtractContent(snap PropertySnapshot, titleField, bodyField string) (question, answer string) {
	question = fallbackQuestion
	if prop, ok := snap[titleField]; ok && len(prop.Title) > 0 && prop.Title[0].PlainText != "" {
		question = prop.Title[0].PlainText
	}
	if prop, ok := snap[bodyField]; ok && len(prop.RichText) > 0 {
		answer = prop.RichText[0].PlainText
	}
	return question, answer
}
