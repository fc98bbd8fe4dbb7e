package line

import (
	"net/url"
	"strings"
)

// Command is the closed set of things a chat event can ask for. Inbound
// free text and postback payloads are parsed once, here, instead of
// string-matching inside handlers.
type Command interface{ isCommand() }

type ShowTasks struct{}

type Rerun struct{ Name string }

type ShowDetail struct{ TaskID string }

type AgreeTerms struct{ Version string }

type Unrecognized struct{ Text string }

func (ShowTasks) isCommand()    {}
func (Rerun) isCommand()        {}
func (ShowDetail) isCommand()   {}
func (AgreeTerms) isCommand()   {}
func (Unrecognized) isCommand() {}

const rerunSuffix = "再実行"

// ParseText maps a free-text chat message to a command. Task names for
// re-run are whatever precedes the 再実行 suffix; normalization happens
// later, at resolution time.
func ParseText(text string) Command {
	t := strings.TrimSpace(text)

	switch strings.ToLower(t) {
	case "タスク", "tasks", "task":
		return ShowTasks{}
	}

	if strings.HasSuffix(t, rerunSuffix) {
		name := strings.TrimSpace(strings.TrimSuffix(t, rerunSuffix))
		if name != "" {
			return Rerun{Name: name}
		}
	}

	return Unrecognized{Text: t}
}

// ParsePostback maps a postback data payload ("action=detail&task_id=…")
// to a command.
func ParsePostback(data string) Command {
	v, err := url.ParseQuery(data)
	if err != nil {
		return Unrecognized{Text: data}
	}

	switch v.Get("action") {
	case "detail":
		if id := strings.TrimSpace(v.Get("task_id")); id != "" {
			return ShowDetail{TaskID: id}
		}
	case "rerun":
		if name := strings.TrimSpace(v.Get("name")); name != "" {
			return Rerun{Name: name}
		}
	case "agree":
		return AgreeTerms{Version: strings.TrimSpace(v.Get("version"))}
	}

	return Unrecognized{Text: data}
}
