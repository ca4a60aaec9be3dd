package gateway

import (
	"regexp"
	"strings"
)

type Kind string

const (
	KindControl Kind = "control"
	KindContent Kind = "content"
)

const commandPrefixes = "!/"

// Route is the outcome of parsing one inbound message. Control routes carry
// an Action and its Args; content routes carry the text to send to the agent.
type Route struct {
	Kind   Kind
	Action Action
	Args   []string
	Text   string
}

func (r Route) IsControl() bool {
	return r.Kind == KindControl
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>\s*`)

// StripMentions removes user mention tokens such as "<@U0AA8NX69FU>".
func StripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

func Parse(text string) Route {
	trimmed := strings.TrimSpace(text)
	content := Route{Kind: KindContent, Text: trimmed}

	command, argument, ok := splitCommand(trimmed)
	if !ok {
		return content
	}
	for _, candidate := range Commands() {
		if !matchesName(candidate, command) {
			continue
		}
		if candidate.TakesArgument != (argument != "") {
			continue
		}
		route := Route{Kind: KindControl, Action: candidate.Action}
		if argument != "" {
			route.Args = []string{argument}
		}
		return route
	}
	return content
}

func matchesName(command Command, name string) bool {
	if NormalizeCommandName(command.Name) == name {
		return true
	}
	for _, alias := range command.Aliases {
		if NormalizeCommandName(alias) == name {
			return true
		}
	}
	return false
}

// splitCommand returns the lowercased command word and the untouched
// remainder of a prefixed message. Arguments keep their case since session
// tokens are case sensitive.
func splitCommand(text string) (string, string, bool) {
	if len(text) < 2 || !strings.ContainsRune(commandPrefixes, rune(text[0])) || isSpace(rune(text[1])) {
		return "", "", false
	}
	trimmed := text[1:]
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", "", false
	}
	command := NormalizeCommandName(fields[0])
	if len(fields) == 1 {
		return command, "", true
	}
	argStart := strings.IndexFunc(trimmed, isSpace)
	if argStart < 0 {
		return command, "", true
	}
	return command, strings.TrimSpace(trimmed[argStart:]), true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
