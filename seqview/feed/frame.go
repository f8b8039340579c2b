package feed

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/seqview/seqview/seqview"
)

// one change event on the wire.
//
// a reset frame carries the full list contents in `NewItems`, so a reset is
// also the snapshot a client needs to re-read. items travel as opaque bytes;
// the encoding is chosen by the feed owner.
type Frame struct {
	Action   seqview.ChangeAction
	Index    int
	OldIndex int
	OldItems [][]byte
	NewItems [][]byte
}

const (
	frameFieldAction   = 1
	frameFieldIndex    = 2
	frameFieldOldIndex = 3
	frameFieldOldItem  = 4
	frameFieldNewItem  = 5
)

var actionCodes = map[seqview.ChangeAction]uint64{
	seqview.ChangeActionAdd:     1,
	seqview.ChangeActionRemove:  2,
	seqview.ChangeActionReplace: 3,
	seqview.ChangeActionMove:    4,
	seqview.ChangeActionReset:   5,
}

var codeActions = map[uint64]seqview.ChangeAction{
	1: seqview.ChangeActionAdd,
	2: seqview.ChangeActionRemove,
	3: seqview.ChangeActionReplace,
	4: seqview.ChangeActionMove,
	5: seqview.ChangeActionReset,
}

func MarshalFrame(frame *Frame) ([]byte, error) {
	actionCode, ok := actionCodes[frame.Action]
	if !ok {
		return nil, fmt.Errorf("unknown action %s", frame.Action)
	}
	b := []byte{}
	b = protowire.AppendTag(b, frameFieldAction, protowire.VarintType)
	b = protowire.AppendVarint(b, actionCode)
	b = protowire.AppendTag(b, frameFieldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(frame.Index))
	b = protowire.AppendTag(b, frameFieldOldIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(frame.OldIndex))
	for _, item := range frame.OldItems {
		b = protowire.AppendTag(b, frameFieldOldItem, protowire.BytesType)
		b = protowire.AppendBytes(b, item)
	}
	for _, item := range frame.NewItems {
		b = protowire.AppendTag(b, frameFieldNewItem, protowire.BytesType)
		b = protowire.AppendBytes(b, item)
	}
	return b, nil
}

func UnmarshalFrame(b []byte) (*Frame, error) {
	frame := &Frame{}
	for 0 < len(b) {
		fieldNumber, fieldType, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch fieldType {
		case protowire.VarintType:
			value, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch fieldNumber {
			case frameFieldAction:
				action, ok := codeActions[value]
				if !ok {
					return nil, fmt.Errorf("unknown action code %d", value)
				}
				frame.Action = action
			case frameFieldIndex:
				frame.Index = int(value)
			case frameFieldOldIndex:
				frame.OldIndex = int(value)
			}
		case protowire.BytesType:
			value, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch fieldNumber {
			case frameFieldOldItem:
				frame.OldItems = append(frame.OldItems, append([]byte{}, value...))
			case frameFieldNewItem:
				frame.NewItems = append(frame.NewItems, append([]byte{}, value...))
			}
		default:
			// fields from a newer writer are skipped
			n := protowire.ConsumeFieldValue(fieldNumber, fieldType, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if frame.Action == "" {
		return nil, errors.New("frame has no action")
	}
	return frame, nil
}

// applies a frame to a local mirror list. a reset frame replaces the whole
// contents, so a mirror converges from any consistent frame stream.
func Apply[T any](list *seqview.List[T], frame *Frame, decode func(b []byte) (T, error)) error {
	decodeAll := func(itemsBytes [][]byte) ([]T, error) {
		items := make([]T, len(itemsBytes))
		for i, itemBytes := range itemsBytes {
			item, err := decode(itemBytes)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	}

	switch frame.Action {
	case seqview.ChangeActionAdd:
		items, err := decodeAll(frame.NewItems)
		if err != nil {
			return err
		}
		for i, item := range items {
			list.Insert(frame.Index+i, item)
		}
	case seqview.ChangeActionRemove:
		count := len(frame.OldItems)
		if count == 0 {
			count = 1
		}
		for i := 0; i < count; i += 1 {
			list.RemoveAt(frame.Index)
		}
	case seqview.ChangeActionReplace:
		items, err := decodeAll(frame.NewItems)
		if err != nil {
			return err
		}
		for i, item := range items {
			list.SetAt(frame.Index+i, item)
		}
	case seqview.ChangeActionMove:
		list.Move(frame.OldIndex, frame.Index)
	case seqview.ChangeActionReset:
		items, err := decodeAll(frame.NewItems)
		if err != nil {
			return err
		}
		list.ReplaceAll(items)
	default:
		return fmt.Errorf("unknown action %s", frame.Action)
	}
	return nil
}
