package notion

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Block types.
const (
	TypeHeading2         = "heading_2"
	TypeParagraph        = "paragraph"
	TypeBulletedListItem = "bulleted_list_item"
)

// maxTextLength is Notion's per-span content limit.
const maxTextLength = 2000

// Block is a Notion block object.
type Block struct {
	Object           string   `json:"object"`
	Type             string   `json:"type"`
	Heading2         *Heading `json:"heading_2,omitempty"`
	Paragraph        *Text    `json:"paragraph,omitempty"`
	BulletedListItem *Text    `json:"bulleted_list_item,omitempty"`
}

// Heading is the payload of a heading block.
type Heading struct {
	RichText     []RichText `json:"rich_text"`
	IsToggleable bool       `json:"is_toggleable,omitempty"`
	Children     []Block    `json:"children,omitempty"`
}

// Text is the payload of a paragraph or list item.
type Text struct {
	RichText []RichText `json:"rich_text"`
}

// RichText is a plain text span.
type RichText struct {
	Type string      `json:"type"`
	Text TextContent `json:"text"`
}

// TextContent holds the span's characters.
type TextContent struct {
	Content string `json:"content"`
}

// PlainText concatenates the block's own text spans.
func (b Block) PlainText() string {
	var spans []RichText
	switch {
	case b.Heading2 != nil:
		spans = b.Heading2.RichText
	case b.Paragraph != nil:
		spans = b.Paragraph.RichText
	case b.BulletedListItem != nil:
		spans = b.BulletedListItem.RichText
	}

	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.Text.Content)
	}
	return sb.String()
}

// Children returns nested blocks, if any.
func (b Block) Children() []Block {
	if b.Heading2 == nil {
		return nil
	}
	return b.Heading2.Children
}

// NewHeading returns a heading_2 block.
func NewHeading(title string) Block {
	return Block{Object: "block", Type: TypeHeading2, Heading2: &Heading{RichText: richText(title)}}
}

// NewParagraph returns a paragraph block.
func NewParagraph(content string) Block {
	return Block{Object: "block", Type: TypeParagraph, Paragraph: &Text{RichText: richText(content)}}
}

// NewBullet returns a bulleted_list_item block.
func NewBullet(content string) Block {
	return Block{Object: "block", Type: TypeBulletedListItem, BulletedListItem: &Text{RichText: richText(content)}}
}

// ToggleBlock builds a collapsible heading with one bullet per item.
func ToggleBlock(title string, items []string) Block {
	b := toggle(title)
	for _, item := range items {
		b.Heading2.Children = append(b.Heading2.Children, NewBullet(item))
	}
	return b
}

// ToggleText builds a collapsible heading holding a single paragraph.
func ToggleText(title, content string) Block {
	b := toggle(title)
	b.Heading2.Children = []Block{NewParagraph(content)}
	return b
}

func toggle(title string) Block {
	b := NewHeading(title)
	b.Heading2.IsToggleable = true
	return b
}

// WorkbookToBlocks renders each section as a heading followed by one bullet
// per item, preserving section order.
func WorkbookToBlocks(wb Workbook) []Block {
	blocks := make([]Block, 0, len(wb))
	for _, s := range wb {
		blocks = append(blocks, NewHeading(Humanize(s.Name)))
		for _, item := range s.Items {
			blocks = append(blocks, NewBullet(item))
		}
	}
	return blocks
}

// Humanize turns a section key like "key_deliverables" into "Key Deliverables".
func Humanize(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func richText(content string) []RichText {
	if content == "" {
		return []RichText{{Type: "text", Text: TextContent{Content: ""}}}
	}

	var spans []RichText
	for len(content) > 0 {
		n := len(content)
		if utf8.RuneCountInString(content) > maxTextLength {
			n = 0
			for i := 0; i < maxTextLength; i++ {
				_, size := utf8.DecodeRuneInString(content[n:])
				n += size
			}
		}
		spans = append(spans, RichText{Type: "text", Text: TextContent{Content: content[:n]}})
		content = content[n:]
	}
	return spans
}
