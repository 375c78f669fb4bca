package chatkit

import (
	"sort"
	"time"
)

// timeline is the ordered message sequence of one room. After any merge or
// reconciliation the sequence is sorted by CreatedAt ascending; live events
// are never reordered relative to transport delivery, only page merges
// re-sort.
type timeline struct {
	msgs []Message
}

func (t *timeline) contains(id string) bool {
	return t.indexByID(id) >= 0
}

func (t *timeline) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *timeline) indexByTempID(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i := range t.msgs {
		if t.msgs[i].IsTemporary && t.msgs[i].TempID == tempID {
			return i
		}
	}
	return -1
}

// indexTempMatch finds an unconfirmed echo with the same sender and content
// created within the window. Fallback correlation for servers that do not
// echo the tempId back.
func (t *timeline) indexTempMatch(senderID, content string, now time.Time, window time.Duration) int {
	for i := range t.msgs {
		m := &t.msgs[i]
		if !m.IsTemporary || m.Failed {
			continue
		}
		if m.Sender.ID != senderID || m.Content != content {
			continue
		}
		if now.Sub(m.CreatedAt) <= window {
			return i
		}
	}
	return -1
}

// hasRecentTemp reports whether an unconfirmed echo for (sender, content)
// exists within the window. At most one such echo may exist at a time; a
// second identical send inside the window is suppressed.
func (t *timeline) hasRecentTemp(senderID, content string, now time.Time, window time.Duration) bool {
	return t.indexTempMatch(senderID, content, now, window) >= 0
}

func (t *timeline) append(m Message) {
	t.msgs = append(t.msgs, m)
}

func (t *timeline) removeAt(i int) {
	t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
}

// merge unions a history page into the sequence keyed by id. Messages whose
// id is already held are dropped silently, which makes merging the same page
// twice a no-op.
func (t *timeline) merge(page []Message) {
	for _, m := range page {
		if m.ID != "" && t.contains(m.ID) {
			continue
		}
		t.msgs = append(t.msgs, m)
	}
	t.sortChronological()
}

func (t *timeline) sortChronological() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return t.msgs[i].CreatedAt.Before(t.msgs[j].CreatedAt)
	})
}

// oldestConfirmedID returns the id of the oldest server-confirmed message,
// used as the cursor for backward pagination.
func (t *timeline) oldestConfirmedID() string {
	for i := range t.msgs {
		if t.msgs[i].ID != "" {
			return t.msgs[i].ID
		}
	}
	return ""
}

func (t *timeline) snapshot() []Message {
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// DayGroup is one calendar day of a room timeline.
type DayGroup struct {
	Date     time.Time
	Messages []Message
}

// GroupByDay splits a chronologically ordered message slice into calendar
// days. It is a pure function over the sequence; grouping is never stored.
func GroupByDay(msgs []Message) []DayGroup {
	var groups []DayGroup
	for _, m := range msgs {
		day := time.Date(m.CreatedAt.Year(), m.CreatedAt.Month(), m.CreatedAt.Day(), 0, 0, 0, 0, m.CreatedAt.Location())
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Messages: []Message{m}})
	}
	return groups
}
