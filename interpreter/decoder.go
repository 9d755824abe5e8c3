package interpreter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/voicegate/types"
)

var (
	// ErrSkipFrame 表示该帧不是数据帧（keep-alive、注释、空行），调用方应静默跳过.
	ErrSkipFrame = errors.New("interpreter: not a data frame")
	// ErrStreamDone 表示上游发送了 [DONE] 结束标记.
	ErrStreamDone = errors.New("interpreter: stream done")
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// wireFrame 上游 JSON 载荷.
type wireFrame struct {
	Role    string          `json:"role"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Start   bool            `json:"start,omitempty"`
	End     bool            `json:"end,omitempty"`
	Format  string          `json:"format,omitempty"`
}

// Decoder decodes single upstream frames. The zero value is ready to use and
// safe for concurrent use.
type Decoder struct{}

// Decode parses one raw frame (one line of the upstream feed).
func (Decoder) Decode(frame []byte) (Event, error) {
	line := bytes.TrimSpace(frame)
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Event{}, ErrSkipFrame
	}
	data := bytes.TrimSpace(line[len(dataPrefix):])
	if len(data) == 0 {
		return Event{}, ErrSkipFrame
	}
	if string(data) == doneMarker {
		return Event{}, ErrStreamDone
	}

	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return Event{}, types.NewError(types.ErrMalformedFrame, "invalid frame payload").WithCause(err)
	}

	role, kind := Role(wf.Role), Kind(wf.Type)
	variant, ok := variantOf(role, kind)
	if !ok {
		return Event{}, types.NewError(types.ErrMalformedFrame,
			fmt.Sprintf("unsupported event %s.%s", wf.Role, wf.Type))
	}

	ev := Event{
		Variant: variant,
		Role:    role,
		Kind:    kind,
		Start:   wf.Start,
		End:     wf.End,
		Format:  wf.Format,
		Raw:     append([]byte(nil), data...),
	}
	if len(wf.Content) > 0 {
		var s string
		if err := json.Unmarshal(wf.Content, &s); err == nil {
			ev.Content = s
		} else {
			ev.Payload = append(json.RawMessage(nil), wf.Content...)
		}
	}
	return ev, nil
}
