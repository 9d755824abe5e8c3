package pipeline

import (
	"fmt"
	"strings"

	"github.com/BaSui01/voicegate/interpreter"
	"github.com/google/uuid"
)

// =============================================================================
// 🧩 重组单元
// =============================================================================

// Unit 是 Assembler 产出的完整单元：*Utterance、*CodeBlock 或 *ConsoleEvent.
type Unit interface {
	unitKind() string
}

// Utterance 一段完整的助手语句.
type Utterance struct {
	ID       string
	Text     string
	Complete bool
}

// CodeBlock 一段完整的生成代码.
type CodeBlock struct {
	ID       string
	Text     string
	Complete bool
}

// ConsoleEvent 单帧控制台输出或确认请求，不做累积.
type ConsoleEvent struct {
	Kind   interpreter.Kind
	Format string
	// Payload 作为 code_output 下发的文本.
	Payload string
	// RequiresConfirmation 为 true 时会话必须等待用户回复.
	RequiresConfirmation bool
	Prompt               string
}

func (*Utterance) unitKind() string    { return "utterance" }
func (*CodeBlock) unitKind() string    { return "code_block" }
func (*ConsoleEvent) unitKind() string { return "console_event" }

// =============================================================================
// ⚠️ 协议违规
// =============================================================================

// 违规原因
const (
	ViolationStartWhileOpen   = "start_while_open"
	ViolationContentWhileIdle = "content_while_idle"
	ViolationEndWhileIdle     = "end_while_idle"
	ViolationUnknownVariant   = "unknown_variant"
)

// Violation 描述一次已恢复的协议违规，调用方记录日志与指标后继续.
type Violation struct {
	Kind   interpreter.Kind
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("protocol violation: %s on %s", v.Reason, v.Kind)
}

// =============================================================================
// 🔁 子状态机
// =============================================================================

// SubState 子状态机状态.
type SubState int

const (
	StateIdle SubState = iota
	StateOpen
)

func (s SubState) String() string {
	if s == StateOpen {
		return "open"
	}
	return "idle"
}

type subMachine struct {
	state SubState
	id    string
	buf   strings.Builder
	// opened 打开顺序，流结束时按此顺序冲刷
	opened uint64
}

func (m *subMachine) open(id string, seq uint64) {
	m.state = StateOpen
	m.id = id
	m.opened = seq
	m.buf.Reset()
}

// take 关闭子状态机并返回去除首尾空白的累积文本.
func (m *subMachine) take() (id, text string) {
	id, text = m.id, strings.TrimSpace(m.buf.String())
	m.state = StateIdle
	m.id = ""
	m.buf.Reset()
	return id, text
}

func (m *subMachine) reset() {
	m.state = StateIdle
	m.id = ""
	m.buf.Reset()
}

// =============================================================================
// 🏗️ Assembler
// =============================================================================

// Assembler reassembles the chunked upstream feed of one session into complete
// units. Message and code are tracked by two independent sub-machines, so
// interleaving the two kinds never affects either one's output.
//
// Recovery rules: a start on an open sub-machine flushes the open buffer first;
// content on an idle sub-machine opens it implicitly; Finish flushes whatever is
// still open. Accumulated text is never dropped except by Reset.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	message subMachine
	code    subMachine
	seq     uint64
	newID   func() string
}

// NewAssembler 创建重组器.
func NewAssembler() *Assembler {
	return &Assembler{newID: uuid.NewString}
}

// State returns the current state of the message and code sub-machines.
func (a *Assembler) State() (message, code SubState) {
	return a.message.state, a.code.state
}

// Feed consumes one event and returns the units it completed, in completion
// order. A non-nil Violation reports a recovered protocol violation; the
// returned units are valid either way.
func (a *Assembler) Feed(ev interpreter.Event) ([]Unit, *Violation) {
	switch ev.Variant {
	case interpreter.VariantAssistantMessage:
		return a.feedSub(&a.message, ev, func(id, text string) Unit {
			return &Utterance{ID: id, Text: text, Complete: true}
		})
	case interpreter.VariantAssistantCode:
		return a.feedSub(&a.code, ev, func(id, text string) Unit {
			return &CodeBlock{ID: id, Text: text, Complete: true}
		})
	case interpreter.VariantComputerConsole, interpreter.VariantComputerConfirmation:
		if ce := consoleEvent(ev); ce != nil {
			return []Unit{ce}, nil
		}
		return nil, nil
	default:
		return nil, &Violation{Kind: ev.Kind, Reason: ViolationUnknownVariant}
	}
}

func (a *Assembler) feedSub(m *subMachine, ev interpreter.Event, mk func(id, text string) Unit) ([]Unit, *Violation) {
	var (
		out       []Unit
		violation *Violation
	)
	flush := func() {
		if id, text := m.take(); text != "" {
			out = append(out, mk(id, text))
		}
	}

	if ev.Start {
		if m.state == StateOpen {
			violation = &Violation{Kind: ev.Kind, Reason: ViolationStartWhileOpen}
			flush()
		}
		a.seq++
		m.open(a.newID(), a.seq)
	}

	if ev.Content != "" {
		if m.state == StateIdle {
			// 缺失 start：隐式打开，保留内容
			if violation == nil {
				violation = &Violation{Kind: ev.Kind, Reason: ViolationContentWhileIdle}
			}
			a.seq++
			m.open(a.newID(), a.seq)
		}
		m.buf.WriteString(ev.Content)
	}

	if ev.End {
		if m.state == StateIdle {
			if violation == nil {
				violation = &Violation{Kind: ev.Kind, Reason: ViolationEndWhileIdle}
			}
			return out, violation
		}
		flush()
	}
	return out, violation
}

// Finish treats end of stream as an implicit end marker for every open
// sub-machine, flushing in the order they were opened.
func (a *Assembler) Finish() []Unit {
	first, second := &a.message, &a.code
	if second.state == StateOpen && (first.state != StateOpen || second.opened < first.opened) {
		first, second = second, first
	}

	var out []Unit
	for _, m := range []*subMachine{first, second} {
		if m.state != StateOpen {
			continue
		}
		isMessage := m == &a.message
		id, text := m.take()
		if text == "" {
			continue
		}
		if isMessage {
			out = append(out, &Utterance{ID: id, Text: text, Complete: true})
		} else {
			out = append(out, &CodeBlock{ID: id, Text: text, Complete: true})
		}
	}
	return out
}

// Reset discards both buffers without emitting anything.
func (a *Assembler) Reset() {
	a.message.reset()
	a.code.reset()
}

// consoleEvent converts a console or confirmation event. Console frames without
// any displayable content yield nil.
func consoleEvent(ev interpreter.Event) *ConsoleEvent {
	ce := &ConsoleEvent{Kind: ev.Kind, Format: ev.Format}
	switch {
	case ev.IsExecutionConfirmation():
		ce.RequiresConfirmation = true
		ce.Prompt = ev.ConfirmationPrompt()
		ce.Payload = ev.Text()
		return ce
	case ev.Variant == interpreter.VariantComputerConfirmation:
		// 非执行类确认仅作展示
		ce.Payload = string(ev.Raw)
	default:
		ce.Payload = ev.Text()
	}
	if strings.TrimSpace(ce.Payload) == "" {
		return nil
	}
	return ce
}
