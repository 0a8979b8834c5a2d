package doc

// Document is a parsed vendor document: a title plus flat text. All chunk
// boundaries and conflict offsets refer to rune positions in Text, so Text is
// never rewritten after parsing.
type Document struct {
	Title string
	Text  string
}

// Length returns the document length in runes.
func (d Document) Length() int {
	return len([]rune(d.Text))
}
