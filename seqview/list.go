package seqview

import (
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

func DefaultListSettings() *ListSettings {
	return &ListSettings{
		ResetThreshold: 0.3,
		ResetRangeMin:  10,
	}
}

type ListSettings struct {
	// a range operation that changes more than this fraction of the list
	// coalesces to a single reset notification
	ResetThreshold float64
	// range operations at or below this size always notify per element
	ResetRangeMin int
}

// a mutable list that publishes pre ("changing") and post ("changed")
// notifications for every structural edit.
//
// every mutating operation funnels through the primitives
// `insertItem`, `removeItemAt`, `setItem`, `moveItem`, and `clearItems`,
// which are the only places notifications are emitted.
//
// mutation and notification delivery are synchronous on the calling thread.
// the storage is guarded for concurrent reads, but concurrent mutation of
// the same list from multiple threads is not a supported case.
type List[T any] struct {
	settings *ListSettings

	stateLock sync.Mutex
	items     []T

	suppressCount    int64
	suppressStartLen int

	tracker *itemTracker[T]

	lastEmpty       int32
	resetWarnedOnce int32

	changingCallbacks           *CallbackList[ChangeFunction[T]]
	changedCallbacks            *CallbackList[ChangeFunction[T]]
	beforeItemsAddedCallbacks   *CallbackList[ItemEventFunction[T]]
	itemsAddedCallbacks         *CallbackList[ItemEventFunction[T]]
	beforeItemsRemovedCallbacks *CallbackList[ItemEventFunction[T]]
	itemsRemovedCallbacks       *CallbackList[ItemEventFunction[T]]
	countChangingCallbacks      *CallbackList[CountFunction]
	countChangedCallbacks       *CallbackList[CountFunction]
	isEmptyCallbacks            *CallbackList[func(empty bool)]
	itemChangingCallbacks       *CallbackList[ItemChangeFunction[T]]
	itemChangedCallbacks        *CallbackList[ItemChangeFunction[T]]
	shouldResetCallbacks        *CallbackList[ShouldResetFunction]
	panicCallbacks              *CallbackList[PanicFunction]
}

func NewListWithDefaults[T any]() *List[T] {
	return NewList[T](DefaultListSettings())
}

func NewList[T any](settings *ListSettings) *List[T] {
	return &List[T]{
		settings:                    settings,
		items:                       []T{},
		lastEmpty:                   1,
		changingCallbacks:           NewCallbackList[ChangeFunction[T]](),
		changedCallbacks:            NewCallbackList[ChangeFunction[T]](),
		beforeItemsAddedCallbacks:   NewCallbackList[ItemEventFunction[T]](),
		itemsAddedCallbacks:         NewCallbackList[ItemEventFunction[T]](),
		beforeItemsRemovedCallbacks: NewCallbackList[ItemEventFunction[T]](),
		itemsRemovedCallbacks:       NewCallbackList[ItemEventFunction[T]](),
		countChangingCallbacks:      NewCallbackList[CountFunction](),
		countChangedCallbacks:       NewCallbackList[CountFunction](),
		isEmptyCallbacks:            NewCallbackList[func(empty bool)](),
		itemChangingCallbacks:       NewCallbackList[ItemChangeFunction[T]](),
		itemChangedCallbacks:        NewCallbackList[ItemChangeFunction[T]](),
		shouldResetCallbacks:        NewCallbackList[ShouldResetFunction](),
		panicCallbacks:              NewCallbackList[PanicFunction](),
	}
}

// subscriptions

func (self *List[T]) AddChangingCallback(callback ChangeFunction[T]) func() {
	callbackId := self.changingCallbacks.Add(callback)
	return func() {
		self.changingCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddChangedCallback(callback ChangeFunction[T]) func() {
	callbackId := self.changedCallbacks.Add(callback)
	return func() {
		self.changedCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddBeforeItemsAddedCallback(callback ItemEventFunction[T]) func() {
	callbackId := self.beforeItemsAddedCallbacks.Add(callback)
	return func() {
		self.beforeItemsAddedCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddItemsAddedCallback(callback ItemEventFunction[T]) func() {
	callbackId := self.itemsAddedCallbacks.Add(callback)
	return func() {
		self.itemsAddedCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddBeforeItemsRemovedCallback(callback ItemEventFunction[T]) func() {
	callbackId := self.beforeItemsRemovedCallbacks.Add(callback)
	return func() {
		self.beforeItemsRemovedCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddItemsRemovedCallback(callback ItemEventFunction[T]) func() {
	callbackId := self.itemsRemovedCallbacks.Add(callback)
	return func() {
		self.itemsRemovedCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddCountChangingCallback(callback CountFunction) func() {
	callbackId := self.countChangingCallbacks.Add(callback)
	return func() {
		self.countChangingCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddCountChangedCallback(callback CountFunction) func() {
	callbackId := self.countChangedCallbacks.Add(callback)
	return func() {
		self.countChangedCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddIsEmptyCallback(callback func(empty bool)) func() {
	callbackId := self.isEmptyCallbacks.Add(callback)
	return func() {
		self.isEmptyCallbacks.Remove(callbackId)
	}
}

// only active while item change tracking is enabled. see `SetTrackItemChanges`
func (self *List[T]) AddItemChangingCallback(callback ItemChangeFunction[T]) func() {
	callbackId := self.itemChangingCallbacks.Add(callback)
	return func() {
		self.itemChangingCallbacks.Remove(callbackId)
	}
}

func (self *List[T]) AddItemChangedCallback(callback ItemChangeFunction[T]) func() {
	callbackId := self.itemChangedCallbacks.Add(callback)
	return func() {
		self.itemChangedCallbacks.Remove(callbackId)
	}
}

// fires when a reset notification happens. subscriber accounting on this
// channel backs the bulk-edit misuse diagnostic: a reset that fires with
// per-item subscribers but no reset-aware subscriber is logged once.
func (self *List[T]) AddShouldResetCallback(callback ShouldResetFunction) func() {
	callbackId := self.shouldResetCallbacks.Add(callback)
	return func() {
		self.shouldResetCallbacks.Remove(callbackId)
	}
}

// surfaces panics recovered from subscriber callbacks
func (self *List[T]) AddPanicCallback(callback PanicFunction) func() {
	callbackId := self.panicCallbacks.Add(callback)
	return func() {
		self.panicCallbacks.Remove(callbackId)
	}
}

// reads

func (self *List[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.items)
}

func (self *List[T]) At(index int) T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.items[index]
}

func (self *List[T]) Snapshot() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.items)
}

func (self *List[T]) Each(callback func(item T)) {
	for _, item := range self.Snapshot() {
		callback(item)
	}
}

func (self *List[T]) IsEmpty() bool {
	return self.Len() == 0
}

func (self *List[T]) IndexOfFunc(match func(item T) bool) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.IndexFunc(self.items, match)
}

// suppression

// returns a release function. while any acquisition is outstanding,
// individual notifications are swallowed. on the outermost release, if the
// list length changed during suppression, a single reset notification fires
// instead of the suppressed individual ones.
// acquisition/release is safe across threads; releasing twice is a no-op.
func (self *List[T]) SuppressChangeNotifications() func() {
	if atomic.AddInt64(&self.suppressCount, 1) == 1 {
		self.suppressStartLen = self.Len()
	}
	released := int32(0)
	return func() {
		if !atomic.CompareAndSwapInt32(&released, 0, 1) {
			return
		}
		if atomic.AddInt64(&self.suppressCount, -1) == 0 {
			if self.Len() != self.suppressStartLen {
				self.notifyReset()
			}
		}
	}
}

func (self *List[T]) suppressed() bool {
	return 0 < atomic.LoadInt64(&self.suppressCount)
}

// mutations

func (self *List[T]) Add(item T) {
	self.insertItem(self.Len(), item)
}

func (self *List[T]) Insert(index int, item T) {
	self.insertItem(index, item)
}

func (self *List[T]) RemoveAt(index int) T {
	return self.removeItemAt(index)
}

// removes the first item matching `match`. returns false if none matched.
func (self *List[T]) RemoveFirstFunc(match func(item T) bool) bool {
	index := self.IndexOfFunc(match)
	if index < 0 {
		return false
	}
	self.removeItemAt(index)
	return true
}

// replaces the item at `index` and returns the previous item
func (self *List[T]) SetAt(index int, item T) T {
	return self.setItem(index, item)
}

func (self *List[T]) Move(fromIndex int, toIndex int) {
	self.moveItem(fromIndex, toIndex)
}

func (self *List[T]) Swap(i int, j int) {
	if i == j {
		return
	}
	a := self.At(i)
	b := self.At(j)
	self.setItem(i, b)
	self.setItem(j, a)
}

func (self *List[T]) Clear() {
	self.clearItems()
}

func (self *List[T]) AddRange(items []T) {
	self.InsertRange(self.Len(), items)
}

func (self *List[T]) InsertRange(index int, items []T) {
	if self.shouldCoalesce(len(items)) {
		release := self.SuppressChangeNotifications()
		defer release()
	}
	for i, item := range items {
		self.insertItem(index+i, item)
	}
}

func (self *List[T]) RemoveRange(start int, count int) {
	if self.shouldCoalesce(count) {
		release := self.SuppressChangeNotifications()
		defer release()
	}
	for i := 0; i < count; i += 1 {
		self.removeItemAt(start)
	}
}

// removes every item matching `match` and returns the number removed
func (self *List[T]) RemoveAll(match func(item T) bool) int {
	matchedIndexes := []int{}
	for i, item := range self.Snapshot() {
		if match(item) {
			matchedIndexes = append(matchedIndexes, i)
		}
	}
	if len(matchedIndexes) == 0 {
		return 0
	}
	if self.shouldCoalesce(len(matchedIndexes)) {
		release := self.SuppressChangeNotifications()
		defer release()
	}
	// remove descending so earlier indexes stay valid
	for i := len(matchedIndexes) - 1; 0 <= i; i -= 1 {
		self.removeItemAt(matchedIndexes[i])
	}
	return len(matchedIndexes)
}

// reorders in place, then fires an unconditional reset.
// no attempt is made to diff the old and new order.
func (self *List[T]) Sort(cmp func(a T, b T) int) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		slices.SortStableFunc(self.items, cmp)
	}()
	self.notifyReset()
}

// decides whether a range operation of `changedCount` elements coalesces
// to a reset instead of notifying per element
func (self *List[T]) shouldCoalesce(changedCount int) bool {
	if changedCount <= self.settings.ResetRangeMin {
		return false
	}
	count := self.Len()
	if count == 0 {
		return true
	}
	return self.settings.ResetThreshold < float64(changedCount)/float64(count)
}

// item change tracking

// while enabled, the list keeps one live subscription per distinct
// observable item currently present and republishes the items' own facet
// notifications on the item-changing/item-changed channels
func (self *List[T]) SetTrackItemChanges(track bool) {
	if track {
		if self.tracker != nil {
			return
		}
		self.tracker = newItemTracker[T](self)
		for _, item := range self.Snapshot() {
			self.tracker.track(item)
		}
	} else {
		if self.tracker == nil {
			return
		}
		self.tracker.close()
		self.tracker = nil
	}
}

func (self *List[T]) TrackItemChanges() bool {
	return self.tracker != nil
}

func (self *List[T]) notifyItemChanging(item T, facet string) {
	for _, callback := range self.itemChangingCallbacks.Get() {
		callback := callback
		invokeCallback("lst", self.panicCallbacks, func() {
			callback(item, facet)
		})
	}
}

func (self *List[T]) notifyItemChanged(item T, facet string) {
	for _, callback := range self.itemChangedCallbacks.Get() {
		callback := callback
		invokeCallback("lst", self.panicCallbacks, func() {
			callback(item, facet)
		})
	}
}

// primitives. all structural notifications originate here.

func (self *List[T]) insertItem(index int, item T) {
	change := ListChange[T]{
		Action:   ChangeActionAdd,
		Index:    index,
		NewItems: []T{item},
	}
	self.notifyChanging(change)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.items = slices.Insert(self.items, index, item)
	}()
	if self.tracker != nil {
		self.tracker.track(item)
	}
	self.notifyChanged(change)
}

func (self *List[T]) removeItemAt(index int) T {
	item := self.At(index)
	change := ListChange[T]{
		Action:   ChangeActionRemove,
		Index:    index,
		OldItems: []T{item},
	}
	self.notifyChanging(change)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.items = slices.Delete(self.items, index, index+1)
	}()
	if self.tracker != nil {
		self.tracker.untrack(item)
	}
	self.notifyChanged(change)
	return item
}

func (self *List[T]) setItem(index int, item T) T {
	oldItem := self.At(index)
	change := ListChange[T]{
		Action:   ChangeActionReplace,
		Index:    index,
		OldItems: []T{oldItem},
		NewItems: []T{item},
	}
	self.notifyChanging(change)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.items[index] = item
	}()
	if self.tracker != nil {
		self.tracker.untrack(oldItem)
		self.tracker.track(item)
	}
	self.notifyChanged(change)
	return oldItem
}

func (self *List[T]) moveItem(fromIndex int, toIndex int) {
	if fromIndex == toIndex {
		return
	}
	item := self.At(fromIndex)
	change := ListChange[T]{
		Action:   ChangeActionMove,
		Index:    toIndex,
		OldIndex: fromIndex,
		NewItems: []T{item},
	}
	self.notifyChanging(change)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.items = slices.Delete(self.items, fromIndex, fromIndex+1)
		self.items = slices.Insert(self.items, toIndex, item)
	}()
	self.notifyChanged(change)
}

func (self *List[T]) clearItems() {
	items := self.Snapshot()
	change := ListChange[T]{
		Action: ChangeActionReset,
	}
	self.notifyChanging(change)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.items = []T{}
	}()
	if self.tracker != nil {
		for _, item := range items {
			self.tracker.untrack(item)
		}
	}
	self.notifyChanged(change)
}

// swaps the entire contents for `items`, firing one reset notification
func (self *List[T]) ReplaceAll(items []T) {
	self.replaceAll(items)
}

// swaps the entire backing storage. used by the derived view engine on
// rebuild so that one reset covers the whole transition.
func (self *List[T]) replaceAll(items []T) {
	oldItems := self.Snapshot()
	change := ListChange[T]{
		Action: ChangeActionReset,
	}
	self.notifyChanging(change)
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.items = slices.Clone(items)
	}()
	if self.tracker != nil {
		for _, item := range oldItems {
			self.tracker.untrack(item)
		}
		for _, item := range items {
			self.tracker.track(item)
		}
	}
	self.notifyChanged(change)
}

func (self *List[T]) notifyReset() {
	change := ListChange[T]{
		Action: ChangeActionReset,
	}
	self.notifyChanging(change)
	self.notifyChanged(change)
}

// notifications

func (self *List[T]) notifyChanging(change ListChange[T]) {
	if self.suppressed() {
		return
	}
	for _, callback := range self.changingCallbacks.Get() {
		callback := callback
		invokeCallback("lst", self.panicCallbacks, func() {
			callback(change)
		})
	}
	switch change.Action {
	case ChangeActionAdd:
		self.notifyItemEvents(self.beforeItemsAddedCallbacks, change.Index, change.NewItems)
		self.notifyCount(self.countChangingCallbacks)
	case ChangeActionRemove:
		self.notifyItemEvents(self.beforeItemsRemovedCallbacks, change.Index, change.OldItems)
		self.notifyCount(self.countChangingCallbacks)
	case ChangeActionReplace:
		self.notifyItemEvents(self.beforeItemsRemovedCallbacks, change.Index, change.OldItems)
		self.notifyItemEvents(self.beforeItemsAddedCallbacks, change.Index, change.NewItems)
	case ChangeActionReset:
		self.notifyCount(self.countChangingCallbacks)
	}
}

func (self *List[T]) notifyChanged(change ListChange[T]) {
	if self.suppressed() {
		return
	}
	for _, callback := range self.changedCallbacks.Get() {
		callback := callback
		invokeCallback("lst", self.panicCallbacks, func() {
			callback(change)
		})
	}
	switch change.Action {
	case ChangeActionAdd:
		self.notifyItemEvents(self.itemsAddedCallbacks, change.Index, change.NewItems)
		self.notifyCount(self.countChangedCallbacks)
		self.notifyIsEmpty()
	case ChangeActionRemove:
		self.notifyItemEvents(self.itemsRemovedCallbacks, change.Index, change.OldItems)
		self.notifyCount(self.countChangedCallbacks)
		self.notifyIsEmpty()
	case ChangeActionReplace:
		self.notifyItemEvents(self.itemsRemovedCallbacks, change.Index, change.OldItems)
		self.notifyItemEvents(self.itemsAddedCallbacks, change.Index, change.NewItems)
	case ChangeActionReset:
		self.notifyShouldReset()
		self.notifyCount(self.countChangedCallbacks)
		self.notifyIsEmpty()
	}
}

func (self *List[T]) notifyItemEvents(callbacks *CallbackList[ItemEventFunction[T]], index int, items []T) {
	allCallbacks := callbacks.Get()
	if len(allCallbacks) == 0 {
		return
	}
	for i, item := range items {
		for _, callback := range allCallbacks {
			i := i
			item := item
			callback := callback
			invokeCallback("lst", self.panicCallbacks, func() {
				callback(index+i, item)
			})
		}
	}
}

func (self *List[T]) notifyCount(callbacks *CallbackList[CountFunction]) {
	allCallbacks := callbacks.Get()
	if len(allCallbacks) == 0 {
		return
	}
	count := self.Len()
	for _, callback := range allCallbacks {
		callback := callback
		invokeCallback("lst", self.panicCallbacks, func() {
			callback(count)
		})
	}
}

func (self *List[T]) notifyIsEmpty() {
	empty := int32(0)
	if self.Len() == 0 {
		empty = 1
	}
	if atomic.SwapInt32(&self.lastEmpty, empty) == empty {
		return
	}
	for _, callback := range self.isEmptyCallbacks.Get() {
		callback := callback
		invokeCallback("lst", self.panicCallbacks, func() {
			callback(empty == 1)
		})
	}
}

func (self *List[T]) notifyShouldReset() {
	if self.shouldResetCallbacks.Len() == 0 {
		if 0 < self.itemsAddedCallbacks.Len() || 0 < self.itemsRemovedCallbacks.Len() {
			if atomic.CompareAndSwapInt32(&self.resetWarnedOnce, 0, 1) {
				glog.Warningf("[lst]reset fired with per-item subscribers but no reset-aware subscriber. bulk edits coalesce to resets, so those subscribers will miss edits.\n")
			}
		}
		return
	}
	for _, callback := range self.shouldResetCallbacks.Get() {
		callback := callback
		invokeCallback("lst", self.panicCallbacks, func() {
			callback()
		})
	}
}

// convenience helpers for lists of comparable items

func IndexOf[T comparable](list *List[T], item T) int {
	return list.IndexOfFunc(func(other T) bool {
		return other == item
	})
}

func Contains[T comparable](list *List[T], item T) bool {
	return 0 <= IndexOf(list, item)
}

func RemoveFirst[T comparable](list *List[T], item T) bool {
	return list.RemoveFirstFunc(func(other T) bool {
		return other == item
	})
}
