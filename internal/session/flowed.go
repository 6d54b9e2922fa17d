package session

import "strings"

// flowedWidth is the preferred line length for format=flowed text.
const flowedWidth = 72

// FormatFlowed encodes plain text as RFC 3676 format=flowed: long lines are
// wrapped at word boundaries with a trailing space marking each soft
// break, and lines starting with a space or "From " are space-stuffed.
// Quoted (">") lines pass through unwrapped.
func FormatFlowed(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var out []string
	for _, line := range lines {
		if line != "-- " {
			line = strings.TrimRight(line, " ")
		}
		if strings.HasPrefix(line, ">") {
			out = append(out, line)
			continue
		}
		out = append(out, wrapFlowed(line)...)
	}
	return strings.Join(out, "\r\n")
}

func wrapFlowed(line string) []string {
	var out []string
	cont := false
	for len(line) > flowedWidth {
		cut := strings.LastIndex(line[:flowedWidth+1], " ")
		if cut <= 0 {
			// No break before the limit; break at the first space after it.
			next := strings.Index(line[flowedWidth:], " ")
			if next < 0 {
				break
			}
			cut = flowedWidth + next
		}
		out = append(out, stuff(line[:cut+1], cont))
		line = line[cut+1:]
		cont = true
	}
	return append(out, stuff(line, cont))
}

// stuff prefixes a space where the receiver would otherwise misread the
// line. Continuations that begin with ">" would read as quotes.
func stuff(line string, cont bool) string {
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "From ") ||
		(cont && strings.HasPrefix(line, ">")) {
		return " " + line
	}
	return line
}
