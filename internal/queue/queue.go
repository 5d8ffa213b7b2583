// Package queue implements the ordered play queue with a current-position
// cursor. The queue is owned and mutated by the session command loop only;
// mutating methods are not safe for concurrent callers.
package queue

import (
	"math/rand"

	"github.com/soracane/utaq/internal/structures"
)

// Queue is an indexable sequence of items plus the cursor of the currently
// active item. An optional saved pre-shuffle order allows the original
// sequence to be restored after a shuffle.
type Queue struct {
	items      []structures.QueueItem
	cursor     int
	savedOrder []structures.QueueItem
	nextSeq    int64
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Len returns the number of items in the queue.
func (q *Queue) Len() int {
	return len(q.items)
}

// Index returns the cursor index.
func (q *Queue) Index() int {
	return q.cursor
}

// Items returns a copy of the queue contents in order.
func (q *Queue) Items() []structures.QueueItem {
	out := make([]structures.QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// SetItems replaces the queue contents and resets the cursor to 0. Each item
// is stamped with a fresh sequence id; any saved pre-shuffle order is
// discarded.
func (q *Queue) SetItems(items []structures.QueueItem) {
	q.items = make([]structures.QueueItem, len(items))
	copy(q.items, items)
	for i := range q.items {
		q.items[i].SequenceID = q.seq()
	}
	q.cursor = 0
	q.savedOrder = nil
}

// IncrementIndex moves the cursor forward, wrapping past the end to 0.
func (q *Queue) IncrementIndex() {
	if len(q.items) == 0 {
		return
	}
	q.cursor++
	if q.cursor >= len(q.items) {
		q.cursor = 0
	}
}

// DecrementIndex moves the cursor backward, wrapping before 0 to the end.
func (q *Queue) DecrementIndex() {
	if len(q.items) == 0 {
		return
	}
	q.cursor--
	if q.cursor < 0 {
		q.cursor = len(q.items) - 1
	}
}

// SkipTo moves the cursor directly to the given index. Out-of-bounds
// indexes are rejected.
func (q *Queue) SkipTo(index int) bool {
	if index < 0 || index >= len(q.items) {
		return false
	}
	q.cursor = index
	return true
}

// CurrentItem returns the item at the cursor.
func (q *Queue) CurrentItem() (structures.QueueItem, bool) {
	return q.ItemAt(q.cursor)
}

// ItemAt returns the item at the given index.
func (q *Queue) ItemAt(index int) (structures.QueueItem, bool) {
	if index < 0 || index >= len(q.items) {
		return structures.QueueItem{}, false
	}
	return q.items[index], true
}

// ItemByMediaID returns the item with the given media id and its index.
func (q *Queue) ItemByMediaID(mediaID string) (structures.QueueItem, int, bool) {
	for i, item := range q.items {
		if item.MediaID == mediaID {
			return item, i, true
		}
	}
	return structures.QueueItem{}, -1, false
}

// MoveItem moves the item with the given media id to the target position.
// Out-of-bounds targets and moves to the item's current position are silent
// no-ops. The cursor follows the same logical item it pointed at before the
// move.
func (q *Queue) MoveItem(mediaID string, toPosition int) {
	if toPosition < 0 || toPosition >= len(q.items) {
		return
	}
	item, from, ok := q.ItemByMediaID(mediaID)
	if !ok || from == toPosition {
		return
	}

	cursorSeq := int64(-1)
	if cur, ok := q.CurrentItem(); ok {
		cursorSeq = cur.SequenceID
	}

	q.items = append(q.items[:from], q.items[from+1:]...)
	rest := append([]structures.QueueItem{item}, q.items[toPosition:]...)
	q.items = append(q.items[:toPosition], rest...)

	q.resolveCursor(cursorSeq)
}

// RemoveItem removes the item at the given position. When the removed item is
// not the cursor item the cursor keeps following its logical item; when it is,
// the index is left as-is and now addresses whatever shifted into the slot.
// Callers relying on the cursor item after a removal must re-validate it.
func (q *Queue) RemoveItem(position int) {
	if position < 0 || position >= len(q.items) {
		return
	}

	removingCursor := position == q.cursor
	cursorSeq := int64(-1)
	if cur, ok := q.CurrentItem(); ok {
		cursorSeq = cur.SequenceID
	}
	removed := q.items[position]

	q.items = append(q.items[:position], q.items[position+1:]...)
	q.removeFromSavedOrder(removed.SequenceID)

	if removingCursor {
		if q.cursor >= len(q.items) && q.cursor > 0 {
			q.cursor = len(q.items) - 1
		}
		return
	}
	q.resolveCursor(cursorSeq)
}

// InsertNext inserts the item directly after the cursor. On an empty queue
// the result is a single-item queue with the cursor at 0.
func (q *Queue) InsertNext(item structures.QueueItem) {
	item.SequenceID = q.seq()
	if len(q.items) == 0 {
		q.items = []structures.QueueItem{item}
		q.cursor = 0
	} else {
		at := q.cursor + 1
		rest := append([]structures.QueueItem{item}, q.items[at:]...)
		q.items = append(q.items[:at], rest...)
	}
	q.appendToSavedOrder(item)
}

// InsertLast appends the item at the end of the queue.
func (q *Queue) InsertLast(item structures.QueueItem) {
	item.SequenceID = q.seq()
	q.items = append(q.items, item)
	q.appendToSavedOrder(item)
}

// Shuffle randomizes the queue order and saves the current order as the
// unshuffle baseline. With keepCurrentFirst the current item is pinned to
// index 0 (cursor reset to 0) and only the remainder is shuffled; otherwise
// the cursor follows its logical item to the new position. A queue of one
// item or fewer is left untouched.
func (q *Queue) Shuffle(keepCurrentFirst bool) {
	if len(q.items) <= 1 {
		return
	}

	q.savedOrder = make([]structures.QueueItem, len(q.items))
	copy(q.savedOrder, q.items)

	if keepCurrentFirst {
		current := q.items[q.cursor]
		pool := make([]structures.QueueItem, 0, len(q.items)-1)
		pool = append(pool, q.items[:q.cursor]...)
		pool = append(pool, q.items[q.cursor+1:]...)
		pool = shuffled(pool)
		q.items = append([]structures.QueueItem{current}, pool...)
		q.cursor = 0
		return
	}

	cursorSeq := q.items[q.cursor].SequenceID
	q.items = shuffled(q.items)
	q.resolveCursor(cursorSeq)
}

// Unshuffle restores the order saved by the last Shuffle, re-resolving the
// cursor to its logical item. Without a saved baseline this is a no-op.
func (q *Queue) Unshuffle() {
	if q.savedOrder == nil {
		return
	}

	cursorSeq := int64(-1)
	if cur, ok := q.CurrentItem(); ok {
		cursorSeq = cur.SequenceID
	}

	q.items = q.savedOrder
	q.savedOrder = nil
	q.resolveCursor(cursorSeq)
}

// IsShuffled reports whether an unshuffle baseline is saved.
func (q *Queue) IsShuffled() bool {
	return q.savedOrder != nil
}

func (q *Queue) seq() int64 {
	q.nextSeq++
	return q.nextSeq
}

// resolveCursor points the cursor back at the item with the given sequence id.
// If the item is gone the cursor is clamped into range instead.
func (q *Queue) resolveCursor(sequenceID int64) {
	for i, item := range q.items {
		if item.SequenceID == sequenceID {
			q.cursor = i
			return
		}
	}
	if q.cursor >= len(q.items) {
		q.cursor = 0
	}
}

func (q *Queue) appendToSavedOrder(item structures.QueueItem) {
	// Mid-shuffle insertions must survive a later unshuffle.
	if q.savedOrder != nil {
		q.savedOrder = append(q.savedOrder, item)
	}
}

func (q *Queue) removeFromSavedOrder(sequenceID int64) {
	if q.savedOrder == nil {
		return
	}
	for i, item := range q.savedOrder {
		if item.SequenceID == sequenceID {
			q.savedOrder = append(q.savedOrder[:i], q.savedOrder[i+1:]...)
			return
		}
	}
}

// shuffled returns the items in a new random order. For more than one item the
// permutation is redrawn until it differs from the identity, so a shuffle of
// two or more items is always observable.
func shuffled(items []structures.QueueItem) []structures.QueueItem {
	perm := changedPerm(len(items))
	out := make([]structures.QueueItem, len(items))
	for i, p := range perm {
		out[i] = items[p]
	}
	return out
}

// ShuffleTracks shuffles a free-standing track list before it becomes a
// queue, optionally keeping the first element (the generation seed) in place.
func ShuffleTracks(tracks []structures.Track, keepFirst bool) []structures.Track {
	if len(tracks) <= 1 {
		return tracks
	}
	if keepFirst {
		rest := ShuffleTracks(tracks[1:], false)
		return append([]structures.Track{tracks[0]}, rest...)
	}
	perm := changedPerm(len(tracks))
	out := make([]structures.Track, len(tracks))
	for i, p := range perm {
		out[i] = tracks[p]
	}
	return out
}

// changedPerm draws a Fisher-Yates permutation of n elements, redrawing until
// it is not the identity when n > 1.
func changedPerm(n int) []int {
	perm := rand.Perm(n)
	if n <= 1 {
		return perm
	}
	for isIdentity(perm) {
		perm = rand.Perm(n)
	}
	return perm
}

func isIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}
