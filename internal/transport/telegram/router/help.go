package router

import (
	"strings"
	"unicode"
)

func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(args) > 0 {
		c, ok := m.cmds[commandWord(args[0])]
		if !ok {
			return "Unknown command. Try /help"
		}
		lines := []string{"/" + c.Name}
		if c.Description != "" {
			lines = append(lines, c.Description)
		}
		if c.Usage != "" {
			lines = append(lines, "", "Usage: "+c.Usage)
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Aliases: /"+strings.Join(c.Aliases, ", /"))
		}
		return strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range m.names {
		c := m.cmds[n]
		b.WriteString("/" + n)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nSend /help <command> for details.")
	return b.String()
}

// sanitizeCommand maps a name onto Telegram's [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "/")))
	var b strings.Builder
	underscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			underscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func menuDescription(desc, fallback string) string {
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		desc = fallback
	}
	if len(desc) > 256 {
		desc = desc[:256]
	}
	return desc
}
