package feed

import (
	"context"
	"errors"
	"flag"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/go-playground/assert/v2"

	"github.com/seqview/seqview/seqview"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func encodeString(item string) ([]byte, error) {
	return []byte(item), nil
}

func decodeString(b []byte) (string, error) {
	return string(b), nil
}

func wsUrl(httpUrl string) string {
	return "ws" + strings.TrimPrefix(httpUrl, "http")
}

func TestFrameCodec(t *testing.T) {
	frames := []*Frame{
		{
			Action:   seqview.ChangeActionAdd,
			Index:    3,
			NewItems: [][]byte{[]byte("a"), []byte("b")},
		},
		{
			Action:   seqview.ChangeActionRemove,
			Index:    0,
			OldItems: [][]byte{[]byte("a")},
		},
		{
			Action:   seqview.ChangeActionReplace,
			Index:    2,
			OldItems: [][]byte{[]byte("old")},
			NewItems: [][]byte{[]byte("new")},
		},
		{
			Action:   seqview.ChangeActionMove,
			Index:    5,
			OldIndex: 1,
			NewItems: [][]byte{[]byte("m")},
		},
		{
			Action:   seqview.ChangeActionReset,
			NewItems: [][]byte{[]byte("x"), []byte(""), []byte("z")},
		},
	}
	for _, frame := range frames {
		frameBytes, err := MarshalFrame(frame)
		assert.Equal(t, nil, err)
		decoded, err := UnmarshalFrame(frameBytes)
		assert.Equal(t, nil, err)
		assert.Equal(t, frame.Action, decoded.Action)
		assert.Equal(t, frame.Index, decoded.Index)
		assert.Equal(t, frame.OldIndex, decoded.OldIndex)
		assert.Equal(t, len(frame.OldItems), len(decoded.OldItems))
		assert.Equal(t, len(frame.NewItems), len(decoded.NewItems))
		for i := range frame.OldItems {
			assert.Equal(t, frame.OldItems[i], decoded.OldItems[i])
		}
		for i := range frame.NewItems {
			assert.Equal(t, frame.NewItems[i], decoded.NewItems[i])
		}
	}

	_, err := UnmarshalFrame([]byte{})
	assert.NotEqual(t, nil, err)
}

func TestFrameCodecSkipsUnknownFields(t *testing.T) {
	frame := &Frame{
		Action:   seqview.ChangeActionAdd,
		Index:    2,
		NewItems: [][]byte{[]byte("a")},
	}
	frameBytes, err := MarshalFrame(frame)
	assert.Equal(t, nil, err)

	// fields added by a newer writer are skipped, whatever the wire type
	frameBytes = protowire.AppendTag(frameBytes, 8, protowire.Fixed64Type)
	frameBytes = protowire.AppendFixed64(frameBytes, 42)
	frameBytes = protowire.AppendTag(frameBytes, 9, protowire.Fixed32Type)
	frameBytes = protowire.AppendFixed32(frameBytes, 7)
	frameBytes = protowire.AppendTag(frameBytes, 10, protowire.BytesType)
	frameBytes = protowire.AppendBytes(frameBytes, []byte("future"))
	frameBytes = protowire.AppendTag(frameBytes, 11, protowire.VarintType)
	frameBytes = protowire.AppendVarint(frameBytes, 3)

	decoded, err := UnmarshalFrame(frameBytes)
	assert.Equal(t, nil, err)
	assert.Equal(t, frame.Action, decoded.Action)
	assert.Equal(t, frame.Index, decoded.Index)
	assert.Equal(t, [][]byte{[]byte("a")}, decoded.NewItems)
	assert.Equal(t, 0, len(decoded.OldItems))
}

func TestFeedSnapshotThenEdits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list := seqview.NewListWithDefaults[string]()
	list.AddRange([]string{"a", "b", "c"})

	server := httptest.NewServer(NewFeedWithDefaults[string](ctx, list, encodeString))
	defer server.Close()

	client, err := DialWithDefaults(ctx, wsUrl(server.URL))
	assert.Equal(t, nil, err)
	defer client.Close()

	// the first frame is a snapshot reset with the current contents
	frame, err := client.Read()
	assert.Equal(t, nil, err)
	assert.Equal(t, seqview.ChangeActionReset, frame.Action)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, frame.NewItems)

	mirror := seqview.NewListWithDefaults[string]()
	assert.Equal(t, nil, Apply(mirror, frame, decodeString))
	assert.Equal(t, []string{"a", "b", "c"}, mirror.Snapshot())

	// incremental edits follow
	list.Insert(1, "d")
	list.RemoveAt(0)
	list.SetAt(0, "e")
	list.Move(0, 1)

	for i := 0; i < 4; i += 1 {
		frame, err := client.Read()
		assert.Equal(t, nil, err)
		assert.Equal(t, nil, Apply(mirror, frame, decodeString))
	}
	assert.Equal(t, list.Snapshot(), mirror.Snapshot())
}

func TestFeedSnapshotEncodeFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list := seqview.NewListWithDefaults[string]()
	list.AddRange([]string{"a", "bad", "c"})

	encode := func(item string) ([]byte, error) {
		if item == "bad" {
			return nil, errors.New("unencodable item")
		}
		return []byte(item), nil
	}
	server := httptest.NewServer(NewFeedWithDefaults[string](ctx, list, encode))
	defer server.Close()

	client, err := DialWithDefaults(ctx, wsUrl(server.URL))
	assert.Equal(t, nil, err)
	defer client.Close()

	// the snapshot cannot be encoded, so the connection fails instead of
	// stalling with nothing to send
	_, err = client.Read()
	assert.NotEqual(t, nil, err)
}

func TestFeedAuth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secret := []byte("feed test secret")

	list := seqview.NewListWithDefaults[string]()
	list.Add("a")

	settings := DefaultFeedSettings()
	settings.AuthSecret = secret
	server := httptest.NewServer(NewFeed[string](ctx, list, encodeString, settings))
	defer server.Close()

	// no token
	_, err := DialWithDefaults(ctx, wsUrl(server.URL))
	assert.NotEqual(t, nil, err)

	// bad token
	badSettings := DefaultClientSettings()
	badSettings.Jwt = "not a token"
	_, err = Dial(ctx, wsUrl(server.URL), badSettings)
	assert.NotEqual(t, nil, err)

	// token signed with the wrong secret
	wrongToken, err := SignToken([]byte("other secret"), "test")
	assert.Equal(t, nil, err)
	wrongSettings := DefaultClientSettings()
	wrongSettings.Jwt = wrongToken
	_, err = Dial(ctx, wsUrl(server.URL), wrongSettings)
	assert.NotEqual(t, nil, err)

	// good token
	token, err := SignToken(secret, "test")
	assert.Equal(t, nil, err)
	clientSettings := DefaultClientSettings()
	clientSettings.Jwt = token
	client, err := Dial(ctx, wsUrl(server.URL), clientSettings)
	assert.Equal(t, nil, err)
	defer client.Close()

	frame, err := client.Read()
	assert.Equal(t, nil, err)
	assert.Equal(t, seqview.ChangeActionReset, frame.Action)
	assert.Equal(t, [][]byte{[]byte("a")}, frame.NewItems)
}

func TestFeedOverView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := seqview.NewListWithDefaults[int]()
	source.AddRange([]int{3, 1, 2})

	view, err := seqview.NewView(source, func(item int) string {
		return string(rune('a' + item))
	}, &seqview.ViewSettings[int, string]{
		Orderer: strings.Compare,
	})
	assert.Equal(t, nil, err)
	defer view.Close()

	server := httptest.NewServer(NewFeedWithDefaults[string](ctx, view, encodeString))
	defer server.Close()

	client, err := DialWithDefaults(ctx, wsUrl(server.URL))
	assert.Equal(t, nil, err)
	defer client.Close()

	mirror := seqview.NewListWithDefaults[string]()

	frame, err := client.Read()
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, Apply(mirror, frame, decodeString))
	assert.Equal(t, []string{"b", "c", "d"}, mirror.Snapshot())

	// a source edit flows through the view to the remote mirror
	source.Add(0)
	frame, err = client.Read()
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, Apply(mirror, frame, decodeString))
	assert.Equal(t, []string{"a", "b", "c", "d"}, mirror.Snapshot())
}
