package feed

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/golang/glog"

	"github.com/seqview/seqview/seqview"
)

func DefaultFeedSettings() *FeedSettings {
	return &FeedSettings{
		WriteTimeout:  15 * time.Second,
		SendQueueSize: 1024,
	}
}

type FeedSettings struct {
	WriteTimeout  time.Duration
	SendQueueSize int
	// optional hs256 secret. when set, connections must present a valid
	// bearer token in the `Authorization` header or the `auth` query
	// parameter.
	AuthSecret []byte
}

// what a feed needs from the list or view it publishes
type Source[T any] interface {
	Snapshot() []T
	AddChangedCallback(callback seqview.ChangeFunction[T]) func()
}

type EncodeFunction[T any] func(item T) ([]byte, error)

// publishes a source's change stream to websocket subscribers.
//
// each connection receives a reset frame carrying the current contents,
// then one frame per structural edit. a connection that cannot keep up has
// its queue dropped and coalesced into a fresh reset, bounding memory per
// subscriber the same way bulk edits coalesce on the list itself.
type Feed[T any] struct {
	ctx      context.Context
	source   Source[T]
	encode   EncodeFunction[T]
	settings *FeedSettings

	upgrader *websocket.Upgrader
}

func NewFeedWithDefaults[T any](ctx context.Context, source Source[T], encode EncodeFunction[T]) *Feed[T] {
	return NewFeed(ctx, source, encode, DefaultFeedSettings())
}

func NewFeed[T any](ctx context.Context, source Source[T], encode EncodeFunction[T], settings *FeedSettings) *Feed[T] {
	return &Feed[T]{
		ctx:      ctx,
		source:   source,
		encode:   encode,
		settings: settings,
		upgrader: &websocket.Upgrader{},
	}
}

func (self *Feed[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if self.settings.AuthSecret != nil {
		if !self.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.V(1).Infof("[feed]upgrade err = %s\n", err)
		return
	}
	clientId := seqview.NewId()
	glog.V(1).Infof("[feed]open %s\n", clientId)
	defer glog.V(1).Infof("[feed]close %s\n", clientId)

	conn := &feedConn[T]{
		feed:      self,
		ws:        ws,
		clientId:  clientId,
		sendQueue: make(chan *Frame, self.settings.SendQueueSize),
		// the first write is always a snapshot
		resetPending: true,
	}
	conn.run(self.ctx)
}

func (self *Feed[T]) authorize(r *http.Request) bool {
	token := r.URL.Query().Get("auth")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return false
	}
	parsedToken, err := jwt.Parse(
		token,
		func(t *jwt.Token) (any, error) {
			return self.settings.AuthSecret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		glog.V(1).Infof("[feed]auth err = %s\n", err)
		return false
	}
	return parsedToken.Valid
}

// signs a bearer token for a feed protected with `AuthSecret`
func SignToken(secret []byte, subject string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
	})
	return token.SignedString(secret)
}

type feedConn[T any] struct {
	feed     *Feed[T]
	ws       *websocket.Conn
	clientId seqview.Id

	sendQueue chan *Frame

	// guards `resetPending` and makes the snapshot taken by the writer
	// atomic with the enqueue path. while `resetPending` is set, incoming
	// frames are dropped; the next write is a snapshot that covers them.
	// a mutation racing the attach of this connection can still be
	// duplicated across the snapshot boundary; the stream heals on the
	// next reset.
	stateLock    sync.Mutex
	resetPending bool
}

func (self *feedConn[T]) run(ctx context.Context) {
	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()
	defer self.ws.Close()

	unsubscribe := self.feed.source.AddChangedCallback(func(change seqview.ListChange[T]) {
		self.enqueue(change)
	})
	defer unsubscribe()

	// the reader exists to notice the peer going away
	go func() {
		defer handleCancel()
		for {
			if _, _, err := self.ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var frame *Frame
		pendingFrame, err := self.takeSnapshotIfPending()
		if err != nil {
			glog.Errorf("[feed]snapshot %s err = %s\n", self.clientId, err)
			return
		}
		if pendingFrame != nil {
			frame = pendingFrame
		} else {
			select {
			case frame = <-self.sendQueue:
			case <-handleCtx.Done():
				return
			}
		}
		if err := self.write(frame); err != nil {
			glog.V(1).Infof("[feed]write %s err = %s\n", self.clientId, err)
			return
		}
	}
}

func (self *feedConn[T]) enqueue(change seqview.ListChange[T]) {
	frame, err := self.frameForChange(change)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.resetPending {
		// covered by the pending snapshot
		return
	}
	if err != nil || frame == nil {
		// source resets and encode failures coalesce to a snapshot
		if err != nil {
			glog.Errorf("[feed]encode err = %s\n", err)
		}
		self.resetPending = true
		return
	}
	select {
	case self.sendQueue <- frame:
	default:
		// queue overflow coalesces to a snapshot
		self.resetPending = true
	}
}

func (self *feedConn[T]) frameForChange(change seqview.ListChange[T]) (*Frame, error) {
	if change.Action == seqview.ChangeActionReset {
		return nil, nil
	}
	frame := &Frame{
		Action:   change.Action,
		Index:    change.Index,
		OldIndex: change.OldIndex,
	}
	for _, item := range change.OldItems {
		itemBytes, err := self.feed.encode(item)
		if err != nil {
			return nil, err
		}
		frame.OldItems = append(frame.OldItems, itemBytes)
	}
	for _, item := range change.NewItems {
		itemBytes, err := self.feed.encode(item)
		if err != nil {
			return nil, err
		}
		frame.NewItems = append(frame.NewItems, itemBytes)
	}
	return frame, nil
}

func (self *feedConn[T]) takeSnapshotIfPending() (*Frame, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if !self.resetPending {
		return nil, nil
	}
	frame := &Frame{
		Action: seqview.ChangeActionReset,
	}
	for _, item := range self.feed.source.Snapshot() {
		itemBytes, err := self.feed.encode(item)
		if err != nil {
			// a snapshot that cannot be encoded can never be sent.
			// fail the connection rather than leaving it stalled with
			// the pending flag swallowing every later frame.
			return nil, err
		}
		frame.NewItems = append(frame.NewItems, itemBytes)
	}
	self.resetPending = false
	return frame, nil
}

func (self *feedConn[T]) write(frame *Frame) error {
	frameBytes, err := MarshalFrame(frame)
	if err != nil {
		return err
	}
	self.ws.SetWriteDeadline(time.Now().Add(self.feed.settings.WriteTimeout))
	return self.ws.WriteMessage(websocket.BinaryMessage, frameBytes)
}
