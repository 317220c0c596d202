package digest

import (
	"sort"
	"strings"
	"time"
)

// ThreadActivity is the raw, untrusted per-thread activity reported by the
// upstream content service for one time window.
type ThreadActivity struct {
	Title         string
	CommentableID string
	// GroupID scopes the thread to a single cohort when non-nil.
	GroupID *int64
	Items   []ItemActivity
}

// ItemActivity is one raw post within a thread.
type ItemActivity struct {
	Body   string
	Author string
	At     time.Time
}

// CourseActivity maps thread id to raw thread activity.
type CourseActivity map[string]ThreadActivity

// UserActivity maps course id to raw course activity for one user.
type UserActivity map[string]CourseActivity

// CourseAccess is a user's authorization posture for one enrolled course.
type CourseAccess struct {
	// SeeAllCohorts grants visibility across all cohorts in the course.
	SeeAllCohorts bool
	// CohortID is the user's cohort within the course; nil if uncohorted.
	CohortID *int64
}

// Access maps course id to the user's access for that course. A course
// absent from the map is a course the user is not enrolled in.
type Access map[string]CourseAccess

// Builder turns raw upstream activity plus per-user authorization data into
// capped, sorted digests. The upstream service is not trusted to pre-filter:
// a user never receives threads from cohorts or courses they cannot see.
type Builder struct {
	lmsBase string
}

// NewBuilder returns a Builder that generates click-through urls against the
// given LMS base url.
func NewBuilder(lmsBase string) *Builder {
	return &Builder{lmsBase: strings.TrimSuffix(lmsBase, "/")}
}

// Build produces a digest per user from the raw activity payload, emitting
// only users whose resulting digest is non-empty. Callers must not assume
// every requested user appears in the output.
func (b *Builder) Build(activity map[string]UserActivity, access map[string]Access) map[string]*Digest {
	out := make(map[string]*Digest, len(activity))
	for userID, userActivity := range activity {
		d := b.buildUser(userActivity, access[userID])
		if !d.Empty() {
			out[userID] = d
		}
	}
	return out
}

// BuildUser builds the digest for a single user. The returned digest may be
// empty; Build filters those out.
func (b *Builder) BuildUser(userActivity UserActivity, userAccess Access) *Digest {
	return b.buildUser(userActivity, userAccess)
}

func (b *Builder) buildUser(userActivity UserActivity, userAccess Access) *Digest {
	var courses []*Course
	for courseID, courseActivity := range userActivity {
		acc, enrolled := userAccess[courseID]
		if !enrolled {
			continue
		}
		var threads []*Thread
		for threadID, raw := range courseActivity {
			if !visible(raw, acc) {
				continue
			}
			items := make([]*Item, len(raw.Items))
			for i, it := range raw.Items {
				items[i] = &Item{
					Body:   Truncate(StripTags(it.Body), ThreadItemMaxLen),
					Author: it.Author,
					At:     it.At,
				}
			}
			if t := newThread(threadID, courseID, raw.CommentableID, raw.Title, b.lmsBase, items); t != nil {
				threads = append(threads, t)
			}
		}
		if len(threads) == 0 {
			continue
		}
		courses = append(courses, newCourse(courseID, b.lmsBase, threads))
	}
	sort.SliceStable(courses, func(i, j int) bool {
		return strings.ToLower(courses[i].Title) < strings.ToLower(courses[j].Title)
	})
	return &Digest{Courses: courses}
}

// visible applies the cohort rule: a thread is visible iff the user sees all
// cohorts, or the thread is ungrouped, or the thread's group is exactly the
// user's cohort.
func visible(t ThreadActivity, acc CourseAccess) bool {
	if acc.SeeAllCohorts {
		return true
	}
	if t.GroupID == nil {
		return true
	}
	return acc.CohortID != nil && *t.GroupID == *acc.CohortID
}
