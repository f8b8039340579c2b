package seqview

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/golang/glog"
)

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func (self Id) Bytes() []byte {
	return self[:]
}

func (self Id) String() string {
	return strings.ToLower(hex.EncodeToString(self[:]))
}

func (self Id) LessThan(b Id) bool {
	// ulids are ordered by create time
	return ulid.ULID(self).Compare(ulid.ULID(b)) < 0
}

type FacetFunction func(facet string)

// the per-item change protocol. an item that implements this is reindexed
// by tracking lists and derived views when it mutates; items that do not
// are only reprocessed on structural source edits.
type Observable interface {
	// a stable identity token for this instance.
	// tracking registries are keyed by this token, not by weak references,
	// so teardown is deterministic.
	ObservableId() Id
	AddFacetChangingCallback(callback FacetFunction) func()
	AddFacetChangedCallback(callback FacetFunction) func()
}

// an embeddable implementation of `Observable`.
// the zero value is ready to use; the identity token and callback lists are
// created lazily. embed by pointer or use the enclosing struct by pointer.
type Facets struct {
	initLock sync.Mutex
	id       Id

	facetChangingCallbacks *CallbackList[FacetFunction]
	facetChangedCallbacks  *CallbackList[FacetFunction]
}

func (self *Facets) init() {
	self.initLock.Lock()
	defer self.initLock.Unlock()
	if (self.id == Id{}) {
		self.id = NewId()
	}
	if self.facetChangingCallbacks == nil {
		self.facetChangingCallbacks = NewCallbackList[FacetFunction]()
		self.facetChangedCallbacks = NewCallbackList[FacetFunction]()
	}
}

func (self *Facets) ObservableId() Id {
	self.init()
	return self.id
}

func (self *Facets) AddFacetChangingCallback(callback FacetFunction) func() {
	self.init()
	callbackId := self.facetChangingCallbacks.Add(callback)
	return func() {
		self.facetChangingCallbacks.Remove(callbackId)
	}
}

func (self *Facets) AddFacetChangedCallback(callback FacetFunction) func() {
	self.init()
	callbackId := self.facetChangedCallbacks.Add(callback)
	return func() {
		self.facetChangedCallbacks.Remove(callbackId)
	}
}

// call before mutating a facet
func (self *Facets) RaiseFacetChanging(facet string) {
	self.init()
	for _, callback := range self.facetChangingCallbacks.Get() {
		callback(facet)
	}
}

// call after mutating a facet
func (self *Facets) RaiseFacetChanged(facet string) {
	self.init()
	for _, callback := range self.facetChangedCallbacks.Get() {
		callback(facet)
	}
}

type trackEntry struct {
	refCount            int
	unsubscribeChanging func()
	unsubscribeChanged  func()
}

// keeps exactly one live subscription per distinct observable item present
// in the owning list, no matter how many slots hold that instance.
// the subscription is torn down when the last holding slot is removed or
// when the registry closes.
type itemTracker[T any] struct {
	list *List[T]

	stateLock sync.Mutex
	entries   map[Id]*trackEntry
}

func newItemTracker[T any](list *List[T]) *itemTracker[T] {
	return &itemTracker[T]{
		list:    list,
		entries: map[Id]*trackEntry{},
	}
}

func (self *itemTracker[T]) track(item T) {
	observable, ok := any(item).(Observable)
	if !ok {
		// items without the change protocol are not tracked.
		// this includes value types, which have no usable identity.
		glog.V(2).Infof("[trk]item %T is not observable\n", item)
		return
	}
	observableId := observable.ObservableId()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if entry, ok := self.entries[observableId]; ok {
		entry.refCount += 1
		return
	}
	entry := &trackEntry{
		refCount: 1,
	}
	// forwarded notifications are re-tagged with the originating item
	entry.unsubscribeChanging = observable.AddFacetChangingCallback(func(facet string) {
		self.list.notifyItemChanging(item, facet)
	})
	entry.unsubscribeChanged = observable.AddFacetChangedCallback(func(facet string) {
		self.list.notifyItemChanged(item, facet)
	})
	self.entries[observableId] = entry
}

func (self *itemTracker[T]) untrack(item T) {
	observable, ok := any(item).(Observable)
	if !ok {
		return
	}
	observableId := observable.ObservableId()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[observableId]
	if !ok {
		return
	}
	entry.refCount -= 1
	if 0 < entry.refCount {
		return
	}
	entry.unsubscribeChanging()
	entry.unsubscribeChanged()
	delete(self.entries, observableId)
}

func (self *itemTracker[T]) close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, entry := range self.entries {
		entry.unsubscribeChanging()
		entry.unsubscribeChanged()
	}
	self.entries = map[Id]*trackEntry{}
}
