// Package digest contains the core domain types for forum digest notifications:
// the per-user digest of discussion activity, its courses, threads, and items,
// and the capping/sorting rules that shape what a subscriber actually sees.
package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// MaxCourseThreads is the maximum number of threads to display per course.
	MaxCourseThreads = 30
	// MaxThreadItems is the maximum number of items (posts) to display per thread.
	MaxThreadItems = 10
	// ThreadTitleMaxLen is the maximum number of characters in a thread title before truncating.
	ThreadTitleMaxLen = 140
	// ThreadItemMaxLen is the maximum number of characters in a post body before truncating.
	ThreadItemMaxLen = 140
)

// Digest is the filtered, capped summary of one user's visible discussion
// activity for a single run. Courses are sorted ascending by title,
// case-insensitively, and never contain a course with zero threads.
type Digest struct {
	Courses []*Course
}

// Empty reports whether the digest has no courses left after filtering.
func (d *Digest) Empty() bool {
	return len(d.Courses) == 0
}

// ThreadCount returns the total number of threads across all courses,
// counted before per-course capping (for display).
func (d *Digest) ThreadCount() int {
	var n int
	for _, c := range d.Courses {
		n += c.ThreadCount
	}
	return n
}

// CourseTitles returns the titles of all courses in display order.
func (d *Digest) CourseTitles() []string {
	titles := make([]string, len(d.Courses))
	for i, c := range d.Courses {
		titles[i] = c.Title
	}
	return titles
}

// Course is one course's worth of digest material for a user.
type Course struct {
	ID    string
	Title string
	URL   string
	// ThreadCount is the number of threads visible to the user before
	// capping; it may exceed len(Threads).
	ThreadCount int
	// Threads holds at most MaxCourseThreads threads, sorted descending
	// by recency.
	Threads []*Thread
}

// Thread is a single discussion thread within a course.
type Thread struct {
	ID    string
	Title string
	URL   string
	// Items holds at most MaxThreadItems items, sorted descending by
	// timestamp. Never empty: empty threads are dropped during building.
	Items []*Item
}

// Recency returns the timestamp of the thread's most recent retained item.
// The builder never emits a thread with zero items, so this is always defined.
func (t *Thread) Recency() time.Time {
	dt := t.Items[0].At
	for _, item := range t.Items[1:] {
		if item.At.After(dt) {
			dt = item.At
		}
	}
	return dt
}

// Item is a single post within a thread.
type Item struct {
	Body   string
	Author string
	At     time.Time
}

// newCourse builds a Course from the threads that survived access filtering,
// applying the sort and cap rules.
func newCourse(courseID, lmsBase string, threads []*Thread) *Course {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].Recency().After(threads[j].Recency())
	})
	kept := threads
	if len(kept) > MaxCourseThreads {
		kept = kept[:MaxCourseThreads]
	}
	return &Course{
		ID:          courseID,
		Title:       CourseTitle(courseID),
		URL:         CourseURL(lmsBase, courseID),
		ThreadCount: len(threads),
		Threads:     kept,
	}
}

// newThread builds a Thread from raw title/items, applying truncation and the
// item sort/cap rules. Returns nil if no items remain.
func newThread(threadID, courseID, commentableID, title, lmsBase string, items []*Item) *Thread {
	if len(items) == 0 {
		return nil
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].At.After(items[j].At)
	})
	if len(items) > MaxThreadItems {
		items = items[:MaxThreadItems]
	}
	return &Thread{
		ID:    threadID,
		Title: Truncate(StripTags(title), ThreadTitleMaxLen),
		URL:   ThreadURL(lmsBase, courseID, threadID, commentableID),
		Items: items,
	}
}

// CourseTitle transforms a course id into a string suitable for display in
// digest notifications. Both legacy ("MITx/6.002x/2012_Fall" -> "6.002x MITx")
// and new-style ("course-v1:MITx+6.002x+2012_Fall") keys are understood;
// anything else is returned as-is.
func CourseTitle(courseID string) string {
	if rest, ok := strings.CutPrefix(courseID, "course-v1:"); ok {
		if parts := strings.Split(rest, "+"); len(parts) == 3 {
			return fmt.Sprintf("%s %s", parts[1], parts[0])
		}
		return rest
	}
	if parts := strings.Split(courseID, "/"); len(parts) == 3 {
		return fmt.Sprintf("%s %s", parts[1], parts[0])
	}
	return courseID
}

// CourseURL generates a click-through url for a course.
func CourseURL(lmsBase, courseID string) string {
	return fmt.Sprintf("%s/courses/%s/", strings.TrimSuffix(lmsBase, "/"), courseID)
}

// ThreadURL generates a click-through url for a specific discussion thread.
func ThreadURL(lmsBase, courseID, threadID, commentableID string) string {
	return fmt.Sprintf("%sdiscussion/forum/%s/threads/%s", CourseURL(lmsBase, courseID), commentableID, threadID)
}

// UnsubscribeURL generates a one-click unsubscribe url from an opaque token.
func UnsubscribeURL(lmsBase, token string) string {
	return fmt.Sprintf("%s/notification_prefs/unsubscribe/%s/", strings.TrimSuffix(lmsBase, "/"), token)
}
