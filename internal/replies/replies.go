// Package replies renders every canned chat message the bot sends: command
// answers, user-facing errors and the object detection summary.
package replies

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/fpang/polybot/internal/assets"
)

// Kind identifies a canned reply.
type Kind int

const (
	Start Kind = iota
	Help
	About
	Default
	Error
	ActionNotValid
	CaptionNotDefined
	GroupIncomplete
)

// Pre-parsed templates. template.Must panics on malformed templates,
// catching errors at program startup rather than at call time.
var templates = map[Kind]*template.Template{
	Start:             template.Must(template.New("start").Parse(assets.StartReply)),
	Help:              template.Must(template.New("help").Parse(assets.HelpReply)),
	About:             template.Must(template.New("about").Parse(assets.AboutReply)),
	Default:           template.Must(template.New("default").Parse(assets.DefaultReply)),
	Error:             template.Must(template.New("error").Parse(assets.ErrorReply)),
	ActionNotValid:    template.Must(template.New("action-not-valid").Parse(assets.ActionNotValidReply)),
	CaptionNotDefined: template.Must(template.New("caption-not-defined").Parse(assets.CaptionNotDefinedReply)),
	GroupIncomplete:   template.Must(template.New("group-incomplete").Parse(assets.GroupIncompleteReply)),
}

// Data holds the dynamic values injected into reply templates.
type Data struct {
	ChatID int64
}

// Render returns the text of reply k for the given chat.
func Render(k Kind, chatID int64) string {
	tmpl, ok := templates[k]
	if !ok {
		tmpl = templates[Default]
	}
	var buf bytes.Buffer
	// Execution errors are not expected with these templates; whatever was
	// rendered is still returned.
	_ = tmpl.Execute(&buf, Data{ChatID: chatID})
	return strings.TrimRight(buf.String(), "\n")
}

// Command is a slash command a user can type.
type Command int

const (
	CommandUnknown Command = iota
	CommandStart
	CommandHelp
	CommandAbout
)

var commandNames = map[string]Command{
	"/start": CommandStart,
	"/help":  CommandHelp,
	"/about": CommandAbout,
}

// commandReplies is the static command → reply table. Unknown commands
// fall back to the help pointer.
var commandReplies = map[Command]Kind{
	CommandUnknown: Default,
	CommandStart:   Start,
	CommandHelp:    Help,
	CommandAbout:   About,
}

// ParseCommand classifies a text message. "/start@SomeBot" is treated as
// "/start" so commands work in group chats.
func ParseCommand(text string) Command {
	name := strings.TrimSpace(text)
	if i := strings.IndexByte(name, '@'); i > 0 && strings.HasPrefix(name, "/") {
		name = name[:i]
	}
	if cmd, ok := commandNames[name]; ok {
		return cmd
	}
	return CommandUnknown
}

// ForCommand renders the reply for cmd.
func ForCommand(cmd Command, chatID int64) string {
	kind, ok := commandReplies[cmd]
	if !ok {
		kind = Default
	}
	return Render(kind, chatID)
}
