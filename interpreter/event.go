package interpreter

import (
	"encoding/json"
	"strings"
)

// Role 事件来源角色.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleComputer  Role = "computer"
)

// Kind 事件类型.
type Kind string

const (
	KindMessage      Kind = "message"
	KindCode         Kind = "code"
	KindConsole      Kind = "console"
	KindConfirmation Kind = "confirmation"
)

// FormatExecution marks a confirmation that asks the user to approve running code.
const FormatExecution = "execution"

// Variant is the closed set of {Role, Kind} combinations the gateway handles.
type Variant int

const (
	VariantAssistantMessage Variant = iota + 1
	VariantAssistantCode
	VariantComputerConsole
	VariantComputerConfirmation
)

func (v Variant) String() string {
	switch v {
	case VariantAssistantMessage:
		return "assistant.message"
	case VariantAssistantCode:
		return "assistant.code"
	case VariantComputerConsole:
		return "computer.console"
	case VariantComputerConfirmation:
		return "computer.confirmation"
	default:
		return "unknown"
	}
}

// variantOf maps a raw role/kind pair onto the closed variant set.
// ok is false for every combination outside it.
func variantOf(role Role, kind Kind) (Variant, bool) {
	switch {
	case role == RoleAssistant && kind == KindMessage:
		return VariantAssistantMessage, true
	case role == RoleAssistant && kind == KindCode:
		return VariantAssistantCode, true
	case role == RoleComputer && kind == KindConsole:
		return VariantComputerConsole, true
	case role == RoleComputer && kind == KindConfirmation:
		return VariantComputerConfirmation, true
	default:
		return 0, false
	}
}

// Event 是单个解码后的上游事件.
type Event struct {
	Variant Variant
	Role    Role
	Kind    Kind
	// Content 文本内容；结构化内容时为空，原始 JSON 在 Payload 中.
	Content string
	Payload json.RawMessage
	Start   bool
	End     bool
	Format  string
	// Raw 原始帧数据（去掉 data: 前缀之后）.
	Raw []byte
}

// IsExecutionConfirmation reports whether the event must suspend the turn
// until the user answers.
func (e Event) IsExecutionConfirmation() bool {
	return e.Variant == VariantComputerConfirmation && e.Format == FormatExecution
}

// Text returns the event content as display text: the string content when present,
// otherwise the raw JSON of the structured payload.
func (e Event) Text() string {
	if e.Content != "" {
		return e.Content
	}
	if len(e.Payload) == 0 {
		return ""
	}
	s := strings.TrimSpace(string(e.Payload))
	if s == "null" {
		return ""
	}
	return s
}

// ConfirmationPrompt builds the prompt shown to the user for an execution confirmation.
// Structured content of the form {"format":"python","content":"..."} is rendered as
// the language and the code to run.
func (e Event) ConfirmationPrompt() string {
	var code struct {
		Format  string `json:"format"`
		Content string `json:"content"`
	}
	if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &code) == nil && code.Content != "" {
		lang := code.Format
		if lang == "" {
			lang = "code"
		}
		return "Run this " + lang + "?\n" + code.Content
	}
	if text := e.Text(); text != "" {
		return "Run this code?\n" + text
	}
	return "Run this code?"
}
