package pairing

import (
	"fmt"
	"html"
	"strings"

	"tg-pairbot/internal/domain"
)

// Mention формирует HTML-упоминание участника. Для пользователей без
// username используется ссылка tg://user?id=, чтобы упоминание работало
// всегда.
func Mention(id int64, m domain.Member, ok bool) string {
	name := strings.TrimSpace(m.FirstName)
	if !ok || name == "" {
		if ok && m.Username != "" {
			name = "@" + m.Username
		} else {
			name = fmt.Sprintf("участник %d", id)
		}
	}
	return fmt.Sprintf("<a href=\"tg://user?id=%d\">%s</a>", id, html.EscapeString(name))
}

// FormatRound формирует текст публикации результата раунда.
func FormatRound(round domain.Round, members map[int64]domain.Member) string {
	var builder strings.Builder
	builder.WriteString("🎲 <b>Пары этого раунда</b>")
	for _, g := range round.Groups {
		var parts []string
		for _, id := range g.IDs() {
			m, ok := members[id]
			parts = append(parts, Mention(id, m, ok))
		}
		builder.WriteString("\n• " + strings.Join(parts, " + "))
	}
	builder.WriteString("\n\nДоговоритесь о времени и формате сами. Удачи!")
	return builder.String()
}
