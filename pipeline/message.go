package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/voicegate/types"
)

// 入站消息类型
const (
	InboundText  = "text"
	InboundAudio = "audio"
	InboundReset = "reset"
)

// 出站消息类型
const (
	OutboundChat           = "chat"
	OutboundCodeOutput     = "code_output"
	OutboundInputRequired  = "input_required"
	OutboundAudio          = "audio"
	OutboundResetConfirmed = "reset_confirmed"
)

// Inbound 客户端发来的一条消息. Audio 在 JSON 中为 base64 字符串.
type Inbound struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Audio    []byte `json:"audio,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Outbound 发往客户端的一条消息. Audio 在 JSON 中编码为 base64.
type Outbound struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Audio  []byte `json:"audio,omitempty"`
}

// ChatMessage 完整的助手语句或通知.
func ChatMessage(text string) Outbound {
	return Outbound{Type: OutboundChat, Text: text}
}

// CodeOutputMessage 代码块或控制台输出.
func CodeOutputMessage(text string) Outbound {
	return Outbound{Type: OutboundCodeOutput, Text: text}
}

// InputRequiredMessage 执行确认提示.
func InputRequiredMessage(prompt string) Outbound {
	return Outbound{Type: OutboundInputRequired, Prompt: prompt}
}

// AudioMessage pairs one sentence fragment with its synthesized audio.
func AudioMessage(text string, audio []byte) Outbound {
	return Outbound{Type: OutboundAudio, Text: text, Audio: audio}
}

// ResetConfirmedMessage acknowledges a reset request.
func ResetConfirmedMessage() Outbound {
	return Outbound{Type: OutboundResetConfirmed}
}

// parseInbound decodes a JSON client frame.
func parseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

// confirmationReply extracts the reply text from a frame received while a
// confirmation is pending. Plain text frames are taken as-is; a JSON text
// message contributes its text field.
func confirmationReply(data []byte) string {
	if in, err := parseInbound(data); err == nil && in.Type != "" {
		return in.Text
	}
	s := strings.TrimSpace(string(data))
	// 前端可能发送 JSON 字符串
	var quoted string
	if json.Unmarshal([]byte(s), &quoted) == nil {
		return quoted
	}
	return s
}

// ErrManagerClosed 管理器已关闭，不再接受新会话.
var ErrManagerClosed = types.NewError(types.ErrServiceUnavailable, "session manager is shut down")
