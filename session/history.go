package session

import (
	"github.com/cloudwego/eino/schema"
)

type Trimmer interface {
	Trim(history []*schema.Message) []*schema.Message
}

// KeepSystemLastNTrimmer keeps all system messages and the last N non-system messages.
// When N <= 0, it keeps the whole history.
type KeepSystemLastNTrimmer struct {
	N int
}

func (t KeepSystemLastNTrimmer) Trim(history []*schema.Message) []*schema.Message {
	if len(history) == 0 || t.N <= 0 {
		return history
	}

	nonSystemIdx := make([]int, 0, len(history))
	for i, m := range history {
		if m == nil {
			continue
		}
		if m.Role != schema.System {
			nonSystemIdx = append(nonSystemIdx, i)
		}
	}
	if len(nonSystemIdx) <= t.N {
		return history
	}

	keep := make(map[int]struct{}, t.N)
	for _, i := range nonSystemIdx[len(nonSystemIdx)-t.N:] {
		keep[i] = struct{}{}
	}

	out := make([]*schema.Message, 0, t.N)
	for i, m := range history {
		if m == nil {
			continue
		}
		if m.Role == schema.System {
			out = append(out, m)
			continue
		}
		if _, ok := keep[i]; ok {
			out = append(out, m)
		}
	}
	return out
}

func appendHistory(history []*schema.Message, msgs ...*schema.Message) []*schema.Message {
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		history = append(history, msg)
	}
	return history
}
