// Command event-summary is an example plugin app. It logs one line per
// delivery naming the repository, sender and subject, and nothing else from
// the payload.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/probot-gw/internal/protocol"
)

type pluginConfig struct {
	IgnoreSenders []string
}

func main() {
	resp := handle()
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func handle() protocol.Response {
	var req protocol.Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		return errResp(fmt.Sprintf("invalid request JSON: %v", err))
	}
	if req.Protocol != protocol.Version {
		return errResp(fmt.Sprintf("unsupported protocol version %d", req.Protocol))
	}

	switch strings.TrimSpace(req.Command) {
	case protocol.CommandHandle:
		return handleEvent(req, parseConfig(req.Config))
	default:
		return errResp(fmt.Sprintf("unknown command %q", req.Command))
	}
}

func handleEvent(req protocol.Request, cfg pluginConfig) protocol.Response {
	if req.Event == nil {
		return errResp("handle requires an event")
	}
	ev := req.Event

	sender := lookupString(ev.Payload, "sender", "login")
	for _, ignored := range cfg.IgnoreSenders {
		if strings.EqualFold(sender, ignored) {
			return protocol.Response{
				Status: "ok",
				Logs:   []protocol.LogEntry{{Level: "debug", Message: "ignored sender " + sender}},
			}
		}
	}

	return protocol.Response{
		Status: "ok",
		Logs:   []protocol.LogEntry{{Level: "info", Message: summarize(ev)}},
	}
}

// summarize renders e.g. "issues.opened owner/repo#7 by octocat".
func summarize(ev *protocol.Event) string {
	name := ev.Name
	if ev.Action != "" {
		name += "." + ev.Action
	}

	var b strings.Builder
	b.WriteString(name)

	if repo := lookupString(ev.Payload, "repository", "full_name"); repo != "" {
		b.WriteString(" ")
		b.WriteString(repo)
	}
	if n, ok := subjectNumber(ev.Payload); ok {
		fmt.Fprintf(&b, "#%d", n)
	}
	if ref := lookupString(ev.Payload, "ref"); ref != "" {
		b.WriteString(" ")
		b.WriteString(strings.TrimPrefix(ref, "refs/heads/"))
	}
	if sender := lookupString(ev.Payload, "sender", "login"); sender != "" {
		b.WriteString(" by ")
		b.WriteString(sender)
	}
	return b.String()
}

func subjectNumber(payload map[string]any) (int, bool) {
	for _, key := range []string{"issue", "pull_request"} {
		obj, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		if n, ok := obj["number"].(float64); ok {
			return int(n), true
		}
	}
	if n, ok := payload["number"].(float64); ok {
		return int(n), true
	}
	return 0, false
}

func lookupString(m map[string]any, path ...string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}

func parseConfig(cfg map[string]any) pluginConfig {
	var out pluginConfig
	if cfg == nil {
		return out
	}
	if list, ok := cfg["ignore_senders"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out.IgnoreSenders = append(out.IgnoreSenders, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func errResp(message string) protocol.Response {
	return protocol.Response{
		Status: "error",
		Error:  message,
		Logs:   []protocol.LogEntry{{Level: "error", Message: message}},
	}
}
