package seqview

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// structural edit actions on a list
type ChangeAction string

const (
	ChangeActionAdd     ChangeAction = "Add"
	ChangeActionRemove  ChangeAction = "Remove"
	ChangeActionReplace ChangeAction = "Replace"
	ChangeActionMove    ChangeAction = "Move"
	ChangeActionReset   ChangeAction = "Reset"
)

// one structural edit on a list
// for add/remove/replace, `Index` is the starting index of the affected range
// and `OldItems`/`NewItems` carry the affected elements in order.
// for move, `OldIndex` is the origin and `Index` the destination.
// for reset the payload is empty and subscribers must re-read the list.
type ListChange[T any] struct {
	Action   ChangeAction
	Index    int
	OldIndex int
	OldItems []T
	NewItems []T
}

type ChangeFunction[T any] func(change ListChange[T])
type ItemEventFunction[T any] func(index int, item T)
type CountFunction func(count int)
type ItemChangeFunction[T any] func(item T, facet string)
type ShouldResetFunction func()
type PanicFunction func(recovered any)

type callbackEntry[T any] struct {
	callbackId int
	callback   T
}

// makes a copy of the entries on update so that `Get` is safe to iterate
// while callbacks add or remove other callbacks
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	entries        []callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		entries: []callbackEntry[T]{},
	}
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	nextEntries := slices.Clone(self.entries)
	nextEntries = append(nextEntries, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.entries = nextEntries
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.entries, func(entry callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return
	}
	nextEntries := slices.Clone(self.entries)
	nextEntries = slices.Delete(nextEntries, i, i+1)
	self.entries = nextEntries
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, len(self.entries))
	for i, entry := range self.entries {
		callbacks[i] = entry.callback
	}
	return callbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.entries)
}

// runs one subscriber callback. A panic in the callback must not corrupt the
// producer or stop the remaining subscribers, so it is recovered here, logged,
// and forwarded to the panic callbacks.
func invokeCallback(tag string, panicCallbacks *CallbackList[PanicFunction], callback func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[%s]subscriber panic = %v\n", tag, r)
			for _, panicCallback := range panicCallbacks.Get() {
				func() {
					// a panic callback that panics is dropped
					defer recover()
					panicCallback(r)
				}()
			}
		}
	}()
	callback()
}
