package seqview

import (
	"flag"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestListPrimitives(t *testing.T) {
	list := NewListWithDefaults[string]()

	changes := []ListChange[string]{}
	unsubscribeChanged := list.AddChangedCallback(func(change ListChange[string]) {
		changes = append(changes, change)
	})
	defer unsubscribeChanged()

	list.Add("a")
	list.Add("c")
	list.Insert(1, "b")
	assert.Equal(t, []string{"a", "b", "c"}, list.Snapshot())
	assert.Equal(t, 3, list.Len())
	assert.Equal(t, "b", list.At(1))
	assert.Equal(t, false, list.IsEmpty())

	old := list.SetAt(2, "d")
	assert.Equal(t, "c", old)
	assert.Equal(t, []string{"a", "b", "d"}, list.Snapshot())

	list.Move(0, 2)
	assert.Equal(t, []string{"b", "d", "a"}, list.Snapshot())

	removed := list.RemoveAt(1)
	assert.Equal(t, "d", removed)
	assert.Equal(t, []string{"b", "a"}, list.Snapshot())

	list.Clear()
	assert.Equal(t, 0, list.Len())
	assert.Equal(t, true, list.IsEmpty())

	assert.Equal(t, 7, len(changes))
	assert.Equal(t, ChangeActionAdd, changes[0].Action)
	assert.Equal(t, ChangeActionAdd, changes[1].Action)
	assert.Equal(t, ChangeActionAdd, changes[2].Action)
	assert.Equal(t, 1, changes[2].Index)
	assert.Equal(t, []string{"b"}, changes[2].NewItems)
	assert.Equal(t, ChangeActionReplace, changes[3].Action)
	assert.Equal(t, []string{"c"}, changes[3].OldItems)
	assert.Equal(t, []string{"d"}, changes[3].NewItems)
	assert.Equal(t, ChangeActionMove, changes[4].Action)
	assert.Equal(t, 0, changes[4].OldIndex)
	assert.Equal(t, 2, changes[4].Index)
	assert.Equal(t, ChangeActionRemove, changes[5].Action)
	assert.Equal(t, ChangeActionReset, changes[6].Action)
}

func TestListChangingBeforeMutation(t *testing.T) {
	list := NewListWithDefaults[int]()

	sawLens := []int{}
	unsubscribeChanging := list.AddChangingCallback(func(change ListChange[int]) {
		sawLens = append(sawLens, list.Len())
	})
	defer unsubscribeChanging()
	unsubscribeChanged := list.AddChangedCallback(func(change ListChange[int]) {
		sawLens = append(sawLens, list.Len())
	})
	defer unsubscribeChanged()

	list.Add(1)
	list.Add(2)
	list.RemoveAt(0)

	// changing sees the pre-edit length, changed sees the post-edit length
	assert.Equal(t, []int{0, 1, 1, 2, 2, 1}, sawLens)
}

func TestListItemEventChannels(t *testing.T) {
	list := NewListWithDefaults[string]()

	added := []string{}
	removed := []string{}
	counts := []int{}
	unsubscribeAdded := list.AddItemsAddedCallback(func(index int, item string) {
		added = append(added, fmt.Sprintf("%d:%s", index, item))
	})
	defer unsubscribeAdded()
	unsubscribeRemoved := list.AddItemsRemovedCallback(func(index int, item string) {
		removed = append(removed, fmt.Sprintf("%d:%s", index, item))
	})
	defer unsubscribeRemoved()
	unsubscribeCount := list.AddCountChangedCallback(func(count int) {
		counts = append(counts, count)
	})
	defer unsubscribeCount()

	list.Add("a")
	list.Add("b")
	// replace publishes on both item channels and does not change the count
	list.SetAt(0, "c")
	list.RemoveAt(1)

	assert.Equal(t, []string{"0:a", "1:b", "0:c"}, added)
	assert.Equal(t, []string{"0:a", "1:b"}, removed)
	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestListIsEmptyTransitions(t *testing.T) {
	list := NewListWithDefaults[int]()

	transitions := []bool{}
	unsubscribe := list.AddIsEmptyCallback(func(empty bool) {
		transitions = append(transitions, empty)
	})
	defer unsubscribe()

	list.Add(1)
	list.Add(2)
	list.RemoveAt(0)
	list.RemoveAt(0)
	list.Add(3)

	assert.Equal(t, []bool{false, true, false}, transitions)
}

func TestSuppressionCoalescing(t *testing.T) {
	list := NewListWithDefaults[int]()
	for i := 0; i < 10; i += 1 {
		list.Add(i)
	}

	itemsAdded := 0
	resets := 0
	unsubscribeAdded := list.AddItemsAddedCallback(func(index int, item int) {
		itemsAdded += 1
	})
	defer unsubscribeAdded()
	unsubscribeReset := list.AddShouldResetCallback(func() {
		resets += 1
	})
	defer unsubscribeReset()

	// 100 inserts into a list of 10 crosses the reset threshold:
	// exactly one reset, zero per-item notifications
	items := []int{}
	for i := 0; i < 100; i += 1 {
		items = append(items, i)
	}
	list.AddRange(items)
	assert.Equal(t, 0, itemsAdded)
	assert.Equal(t, 1, resets)
	assert.Equal(t, 110, list.Len())

	// 2 inserts stay under the threshold: two per-item notifications, no reset
	list.AddRange([]int{1000, 1001})
	assert.Equal(t, 2, itemsAdded)
	assert.Equal(t, 1, resets)
}

func TestSuppressionNesting(t *testing.T) {
	list := NewListWithDefaults[int]()

	resets := 0
	itemsAdded := 0
	unsubscribeReset := list.AddShouldResetCallback(func() {
		resets += 1
	})
	defer unsubscribeReset()
	unsubscribeAdded := list.AddItemsAddedCallback(func(index int, item int) {
		itemsAdded += 1
	})
	defer unsubscribeAdded()

	releaseOuter := list.SuppressChangeNotifications()
	releaseInner := list.SuppressChangeNotifications()
	list.Add(1)
	list.Add(2)

	// only the outermost release emits
	releaseInner()
	assert.Equal(t, 0, resets)
	releaseOuter()
	assert.Equal(t, 1, resets)
	assert.Equal(t, 0, itemsAdded)

	// releasing twice is a no-op
	releaseOuter()
	assert.Equal(t, 1, resets)

	// no net length change, no reset
	release := list.SuppressChangeNotifications()
	list.Add(3)
	list.RemoveAt(2)
	release()
	assert.Equal(t, 1, resets)
}

func TestSortEmitsSingleReset(t *testing.T) {
	list := NewListWithDefaults[int]()
	list.AddRange([]int{3, 1, 2})

	changes := []ListChange[int]{}
	unsubscribe := list.AddChangedCallback(func(change ListChange[int]) {
		changes = append(changes, change)
	})
	defer unsubscribe()

	list.Sort(func(a int, b int) int {
		return a - b
	})
	assert.Equal(t, []int{1, 2, 3}, list.Snapshot())
	assert.Equal(t, 1, len(changes))
	assert.Equal(t, ChangeActionReset, changes[0].Action)
}

func TestRemoveAll(t *testing.T) {
	list := NewListWithDefaults[int]()
	for i := 0; i < 10; i += 1 {
		list.Add(i)
	}

	removed := list.RemoveAll(func(item int) bool {
		return item%2 == 0
	})
	assert.Equal(t, 5, removed)
	assert.Equal(t, []int{1, 3, 5, 7, 9}, list.Snapshot())
}

func TestComparableHelpers(t *testing.T) {
	list := NewListWithDefaults[string]()
	list.AddRange([]string{"a", "b", "c", "b"})

	assert.Equal(t, 1, IndexOf(list, "b"))
	assert.Equal(t, true, Contains(list, "c"))
	assert.Equal(t, false, Contains(list, "z"))
	assert.Equal(t, true, RemoveFirst(list, "b"))
	assert.Equal(t, []string{"a", "c", "b"}, list.Snapshot())
	assert.Equal(t, false, RemoveFirst(list, "z"))
}

func TestSubscriberPanicIsolation(t *testing.T) {
	list := NewListWithDefaults[int]()

	secondNotified := 0
	panics := []any{}
	unsubscribePanic := list.AddPanicCallback(func(recovered any) {
		panics = append(panics, recovered)
	})
	defer unsubscribePanic()
	unsubscribeBad := list.AddChangedCallback(func(change ListChange[int]) {
		panic("subscriber bug")
	})
	defer unsubscribeBad()
	unsubscribeGood := list.AddChangedCallback(func(change ListChange[int]) {
		secondNotified += 1
	})
	defer unsubscribeGood()

	list.Add(1)
	list.Add(2)

	// the panic neither stopped the other subscriber nor corrupted the list
	assert.Equal(t, 2, secondNotified)
	assert.Equal(t, []any{"subscriber bug", "subscriber bug"}, panics)
	assert.Equal(t, []int{1, 2}, list.Snapshot())
}

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func()]()
	assert.Equal(t, 0, callbacks.Len())

	a := 0
	callbackIdA := callbacks.Add(func() {
		a += 1
	})
	callbacks.Add(func() {
		a += 10
	})
	assert.Equal(t, 2, callbacks.Len())

	for _, callback := range callbacks.Get() {
		callback()
	}
	assert.Equal(t, 11, a)

	callbacks.Remove(callbackIdA)
	assert.Equal(t, 1, callbacks.Len())
	// removing again is a no-op
	callbacks.Remove(callbackIdA)
	assert.Equal(t, 1, callbacks.Len())
}
