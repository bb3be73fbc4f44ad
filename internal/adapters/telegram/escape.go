package telegram

import "strings"

// markdownV2Special is the set of characters Telegram requires escaped
// inside MarkdownV2 text. Backslash is in the set too, or a literal
// backslash in the payload would corrupt the escapes that follow it.
const markdownV2Special = `\_*[]()~` + "`" + `>#+-=|{}.!`

var markdownV2Escaper = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(markdownV2Special))
	for _, c := range markdownV2Special {
		pairs = append(pairs, string(c), `\`+string(c))
	}
	return strings.NewReplacer(pairs...)
}()

// EscapeMarkdownV2 escapes user-provided text so it can be embedded in
// a MarkdownV2-formatted message verbatim.
func EscapeMarkdownV2(s string) string {
	return markdownV2Escaper.Replace(s)
}
