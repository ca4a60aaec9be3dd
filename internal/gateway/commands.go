package gateway

import "strings"

type Action string

const (
	ActionResetSession  Action = "reset-session"
	ActionSwitchSession Action = "switch-session"
	ActionShowSession   Action = "show-session"
	ActionWhoAmI        Action = "whoami"
)

type Command struct {
	Name         string
	Aliases      []string
	Description  string
	ArgumentName string
	Action       Action
	// TakesArgument selects between the bare form and the "<name> <arg>" form.
	TakesArgument bool
}

func Commands() []Command {
	return []Command{
		{
			Name:        "new",
			Aliases:     []string{"reset"},
			Description: "Start a new agent session",
			Action:      ActionResetSession,
		},
		{
			Name:          "session",
			Description:   "Switch to an existing agent session",
			ArgumentName:  "id",
			Action:        ActionSwitchSession,
			TakesArgument: true,
		},
		{
			Name:        "session",
			Aliases:     []string{"sessions"},
			Description: "Show the current agent session",
			Action:      ActionShowSession,
		},
		{
			Name:        "whoami",
			Description: "Show your chat identity",
			Action:      ActionWhoAmI,
		},
	}
}

func NormalizeCommandName(command string) string {
	return strings.ToLower(strings.TrimSpace(command))
}
