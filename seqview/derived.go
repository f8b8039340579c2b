package seqview

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

var (
	ErrSourceRequired   = errors.New("a source is required")
	ErrSelectorRequired = errors.New("a selector is required")
	// filtering a source with no positional access needs an orderer,
	// since source relative order cannot be recovered incrementally
	ErrOrdererRequired = errors.New("a filter without an orderer requires a positional source")
)

// a source that can only be enumerated in order
type EnumerableSource[S any] interface {
	Each(callback func(item S))
}

// a source with positional access
type ListSource[S any] interface {
	EnumerableSource[S]
	Len() int
	At(index int) S
}

// a source that publishes structural change events.
// a source without this downgrades the view to manual refresh only.
type NotifyingSource[S any] interface {
	AddChangedCallback(callback ChangeFunction[S]) func()
}

// a source that publishes per-item change events
type ItemNotifyingSource[S any] interface {
	AddItemChangedCallback(callback ItemChangeFunction[S]) func()
}

// adapts a plain slice as a refresh-only source
type SliceSource[S any] []S

func (self SliceSource[S]) Each(callback func(item S)) {
	for _, item := range self {
		callback(item)
	}
}

func (self SliceSource[S]) Len() int {
	return len(self)
}

func (self SliceSource[S]) At(index int) S {
	return self[index]
}

func DefaultViewSettings[S comparable, D comparable]() *ViewSettings[S, D] {
	return &ViewSettings[S, D]{}
}

type ViewSettings[S comparable, D comparable] struct {
	// inclusion predicate over source items. nil includes all.
	Filter func(item S) bool
	// total order over derived values. nil preserves source relative order.
	Orderer func(a D, b D) int
	// settings for the owned derived list
	ListSettings *ListSettings
}

// a live filtered/projected/ordered view of a source sequence.
//
// the view owns its backing list and is the only writer to it; callers get
// a read-only facade plus the list's change channels. the view consumes the
// source's structural and per-item change events and applies minimal edits,
// falling back to a full rebuild only on source resets (or `Refresh`).
//
// `sourceIndexes[i]` is the source index that produced slot `i` of the
// view, and stays the same length as the view after every operation.
//
// all absorption runs synchronously on the thread delivering the source
// event. the view is not safe for concurrent mutation of the source from
// multiple threads, matching the source list itself.
type View[S comparable, D comparable] struct {
	settings *ViewSettings[S, D]

	source   EnumerableSource[S]
	selector func(item S) D

	list          *List[D]
	sourceIndexes []int

	unsubscribeSource func()
	unsubscribeItems  func()

	closeLock sync.Mutex
	closed    bool
}

func NewViewWithDefaults[S comparable, D comparable](
	source EnumerableSource[S],
	selector func(item S) D,
) (*View[S, D], error) {
	return NewView(source, selector, DefaultViewSettings[S, D]())
}

func NewView[S comparable, D comparable](
	source EnumerableSource[S],
	selector func(item S) D,
	settings *ViewSettings[S, D],
) (*View[S, D], error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if selector == nil {
		return nil, ErrSelectorRequired
	}
	if settings.Filter != nil && settings.Orderer == nil {
		if _, ok := source.(ListSource[S]); !ok {
			return nil, ErrOrdererRequired
		}
	}

	listSettings := settings.ListSettings
	if listSettings == nil {
		listSettings = DefaultListSettings()
	}

	view := &View[S, D]{
		settings:      settings,
		source:        source,
		selector:      selector,
		list:          NewList[D](listSettings),
		sourceIndexes: []int{},
	}

	if notifyingSource, ok := source.(NotifyingSource[S]); ok {
		view.unsubscribeSource = notifyingSource.AddChangedCallback(view.absorbSourceChange)
	} else {
		warnRefreshOnly(source)
	}
	if itemNotifyingSource, ok := source.(ItemNotifyingSource[S]); ok {
		view.unsubscribeItems = itemNotifyingSource.AddItemChangedCallback(view.absorbItemChange)
	}

	view.rebuild()
	return view, nil
}

// reads

func (self *View[S, D]) Len() int {
	return self.list.Len()
}

func (self *View[S, D]) At(index int) D {
	return self.list.At(index)
}

func (self *View[S, D]) Snapshot() []D {
	return self.list.Snapshot()
}

func (self *View[S, D]) Each(callback func(item D)) {
	self.list.Each(callback)
}

func (self *View[S, D]) IsEmpty() bool {
	return self.list.IsEmpty()
}

func (self *View[S, D]) IndexOfFunc(match func(item D) bool) int {
	return self.list.IndexOfFunc(match)
}

// change channels, delegated to the owned list

func (self *View[S, D]) AddChangingCallback(callback ChangeFunction[D]) func() {
	return self.list.AddChangingCallback(callback)
}

func (self *View[S, D]) AddChangedCallback(callback ChangeFunction[D]) func() {
	return self.list.AddChangedCallback(callback)
}

func (self *View[S, D]) AddBeforeItemsAddedCallback(callback ItemEventFunction[D]) func() {
	return self.list.AddBeforeItemsAddedCallback(callback)
}

func (self *View[S, D]) AddItemsAddedCallback(callback ItemEventFunction[D]) func() {
	return self.list.AddItemsAddedCallback(callback)
}

func (self *View[S, D]) AddBeforeItemsRemovedCallback(callback ItemEventFunction[D]) func() {
	return self.list.AddBeforeItemsRemovedCallback(callback)
}

func (self *View[S, D]) AddItemsRemovedCallback(callback ItemEventFunction[D]) func() {
	return self.list.AddItemsRemovedCallback(callback)
}

func (self *View[S, D]) AddCountChangingCallback(callback CountFunction) func() {
	return self.list.AddCountChangingCallback(callback)
}

func (self *View[S, D]) AddCountChangedCallback(callback CountFunction) func() {
	return self.list.AddCountChangedCallback(callback)
}

func (self *View[S, D]) AddIsEmptyCallback(callback func(empty bool)) func() {
	return self.list.AddIsEmptyCallback(callback)
}

func (self *View[S, D]) AddShouldResetCallback(callback ShouldResetFunction) func() {
	return self.list.AddShouldResetCallback(callback)
}

func (self *View[S, D]) AddPanicCallback(callback PanicFunction) func() {
	return self.list.AddPanicCallback(callback)
}

func (self *View[S, D]) AddItemChangingCallback(callback ItemChangeFunction[D]) func() {
	return self.list.AddItemChangingCallback(callback)
}

func (self *View[S, D]) AddItemChangedCallback(callback ItemChangeFunction[D]) func() {
	return self.list.AddItemChangedCallback(callback)
}

func (self *View[S, D]) SetTrackItemChanges(track bool) {
	self.list.SetTrackItemChanges(track)
}

func (self *View[S, D]) SuppressChangeNotifications() func() {
	return self.list.SuppressChangeNotifications()
}

// rebuilds the view from the current source state.
// this is the only way to converge a view over a source that does not
// publish structural change events.
func (self *View[S, D]) Refresh() {
	self.rebuild()
}

// unsubscribes from the source. the view keeps its last contents but no
// longer follows source mutations.
func (self *View[S, D]) Close() {
	self.closeLock.Lock()
	defer self.closeLock.Unlock()
	if self.closed {
		return
	}
	self.closed = true
	if self.unsubscribeSource != nil {
		self.unsubscribeSource()
	}
	if self.unsubscribeItems != nil {
		self.unsubscribeItems()
	}
	self.list.SetTrackItemChanges(false)
}

// source structural change absorption

func (self *View[S, D]) absorbSourceChange(change ListChange[S]) {
	switch change.Action {
	case ChangeActionAdd:
		self.absorbInsert(change.Index, change.NewItems)
	case ChangeActionRemove:
		self.absorbRemove(change.Index, change.OldItems)
	case ChangeActionReplace:
		// remove+insert, consistent with move
		self.absorbRemove(change.Index, change.OldItems)
		self.absorbInsert(change.Index, change.NewItems)
	case ChangeActionMove:
		self.absorbRemove(change.OldIndex, change.NewItems)
		self.absorbInsert(change.Index, change.NewItems)
	case ChangeActionReset:
		self.rebuild()
	default:
		glog.V(1).Infof("[drv]unknown source change action %s\n", change.Action)
	}
}

func (self *View[S, D]) absorbRemove(start int, oldItems []S) {
	count := len(oldItems)
	// remove corresponding slots first, then shift the map.
	// the shift must come after so that map lookups during removal still
	// see pre-event source indexes.
	for sourceIndex := start; sourceIndex < start+count; sourceIndex += 1 {
		if destIndex := slices.Index(self.sourceIndexes, sourceIndex); 0 <= destIndex {
			self.removeSlot(destIndex)
		}
	}
	for i := range self.sourceIndexes {
		if start+count <= self.sourceIndexes[i] {
			self.sourceIndexes[i] -= count
		}
	}
}

func (self *View[S, D]) absorbInsert(start int, newItems []S) {
	count := len(newItems)
	// shift the map first to make room, then place the new elements.
	// reversing this order corrupts the map by one position.
	for i := range self.sourceIndexes {
		if start <= self.sourceIndexes[i] {
			self.sourceIndexes[i] += count
		}
	}
	for i, item := range newItems {
		if self.include(item) {
			self.insertValue(start+i, self.selector(item))
		}
	}
}

// per-item change absorption.
//
// filter and order decisions apply independently per source slot, so an
// instance held by several slots is reprocessed once per slot.
func (self *View[S, D]) absorbItemChange(item S, facet string) {
	sourceIndex := 0
	self.source.Each(func(other S) {
		if other == item {
			self.reindexSourceSlot(sourceIndex, item)
		}
		sourceIndex += 1
	})
}

func (self *View[S, D]) reindexSourceSlot(sourceIndex int, item S) {
	destIndex := slices.Index(self.sourceIndexes, sourceIndex)
	included := 0 <= destIndex
	shouldInclude := self.include(item)

	if !included {
		if shouldInclude {
			self.insertValue(sourceIndex, self.selector(item))
		}
		return
	}
	if !shouldInclude {
		self.removeSlot(destIndex)
		return
	}

	value := self.selector(item)
	if self.settings.Orderer == nil {
		if value != self.list.At(destIndex) {
			self.list.setItem(destIndex, value)
		}
		return
	}
	if self.canStayAt(destIndex, value) {
		if value != self.list.At(destIndex) {
			self.list.setItem(destIndex, value)
		}
		return
	}
	// reported as two distinct edits; no move is synthesized
	self.removeSlot(destIndex)
	self.insertValue(sourceIndex, value)
}

// whether `value` still satisfies the orderer against the immediate
// neighbors of slot `destIndex`
func (self *View[S, D]) canStayAt(destIndex int, value D) bool {
	if 0 < destIndex {
		if 0 < self.settings.Orderer(self.list.At(destIndex-1), value) {
			return false
		}
	}
	if destIndex+1 < self.list.Len() {
		if 0 < self.settings.Orderer(value, self.list.At(destIndex+1)) {
			return false
		}
	}
	return true
}

// edit primitives. the map entry and the list slot move in lock step.

func (self *View[S, D]) insertValue(sourceIndex int, value D) {
	var destIndex int
	if self.settings.Orderer != nil {
		destIndex = positionForValue(self.list.Len(), self.list.At, value, self.settings.Orderer)
	} else {
		destIndex = positionForSourceIndex(self.sourceIndexes, sourceIndex)
	}
	self.sourceIndexes = slices.Insert(self.sourceIndexes, destIndex, sourceIndex)
	self.list.insertItem(destIndex, value)
}

func (self *View[S, D]) removeSlot(destIndex int) {
	self.sourceIndexes = slices.Delete(self.sourceIndexes, destIndex, destIndex+1)
	self.list.removeItemAt(destIndex)
}

func (self *View[S, D]) include(item S) bool {
	return self.settings.Filter == nil || self.settings.Filter(item)
}

func (self *View[S, D]) rebuild() {
	items := []D{}
	indexes := []int{}
	sourceIndex := 0
	self.source.Each(func(item S) {
		if self.include(item) {
			value := self.selector(item)
			destIndex := len(items)
			if self.settings.Orderer != nil {
				destIndex = positionForValue(
					len(items),
					func(i int) D {
						return items[i]
					},
					value,
					self.settings.Orderer,
				)
			}
			items = slices.Insert(items, destIndex, value)
			indexes = slices.Insert(indexes, destIndex, sourceIndex)
		}
		sourceIndex += 1
	})
	self.sourceIndexes = indexes
	self.list.replaceAll(items)
}

// refresh-only downgrade warning, once per distinct source type

var refreshOnlyWarnedLock sync.Mutex
var refreshOnlyWarnedTypes = map[string]bool{}

func warnRefreshOnly(source any) {
	sourceType := fmt.Sprintf("%T", source)

	refreshOnlyWarnedLock.Lock()
	defer refreshOnlyWarnedLock.Unlock()
	if refreshOnlyWarnedTypes[sourceType] {
		return
	}
	refreshOnlyWarnedTypes[sourceType] = true
	glog.Warningf("[drv]source %s publishes no structural change events. views over it only converge on Refresh.\n", sourceType)
}
