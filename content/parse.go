package content

import (
	"encoding/json"
	"fmt"
	"time"

	"forum-digest-notifier/pkg/digest"
)

// Wire shapes of the notifications payload:
//
//	{ user_id: { course_id: { thread_id: {
//	      "title": ..., "commentable_id": ..., "group_id": null | int,
//	      "content": [ {"body": ..., "username": ..., "updated_at": ...} ]
//	} } } }
//
// Required fields are pointers so a missing key is distinguishable from a
// zero value and fails the whole batch loudly.
type wireThread struct {
	Title         *string    `json:"title"`
	CommentableID *string    `json:"commentable_id"`
	GroupID       *int64     `json:"group_id"`
	Content       []wireItem `json:"content"`
}

type wireItem struct {
	Body      *string `json:"body"`
	Username  *string `json:"username"`
	UpdatedAt *string `json:"updated_at"`
}

// itemTimeLayouts are the ISO-ish timestamp shapes the upstream service has
// been observed to emit.
var itemTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParsePayload decodes and validates a notifications response body into
// typed per-user activity. Malformed records (missing required fields,
// unparseable timestamps) fail the parse rather than being skipped.
func ParsePayload(body []byte) (map[string]digest.UserActivity, error) {
	var raw map[string]map[string]map[string]wireThread
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	out := make(map[string]digest.UserActivity, len(raw))
	for userID, courses := range raw {
		userActivity := make(digest.UserActivity, len(courses))
		for courseID, threads := range courses {
			courseActivity := make(digest.CourseActivity, len(threads))
			for threadID, wt := range threads {
				ta, err := parseThread(wt)
				if err != nil {
					return nil, fmt.Errorf("user %s course %s thread %s: %w", userID, courseID, threadID, err)
				}
				courseActivity[threadID] = ta
			}
			userActivity[courseID] = courseActivity
		}
		out[userID] = userActivity
	}
	return out, nil
}

func parseThread(wt wireThread) (digest.ThreadActivity, error) {
	switch {
	case wt.Title == nil:
		return digest.ThreadActivity{}, fmt.Errorf("missing title")
	case wt.CommentableID == nil:
		return digest.ThreadActivity{}, fmt.Errorf("missing commentable_id")
	case wt.Content == nil:
		return digest.ThreadActivity{}, fmt.Errorf("missing content")
	}

	items := make([]digest.ItemActivity, len(wt.Content))
	for i, wi := range wt.Content {
		switch {
		case wi.Body == nil:
			return digest.ThreadActivity{}, fmt.Errorf("item %d: missing body", i)
		case wi.Username == nil:
			return digest.ThreadActivity{}, fmt.Errorf("item %d: missing username", i)
		case wi.UpdatedAt == nil:
			return digest.ThreadActivity{}, fmt.Errorf("item %d: missing updated_at", i)
		}
		at, err := parseItemTime(*wi.UpdatedAt)
		if err != nil {
			return digest.ThreadActivity{}, fmt.Errorf("item %d: %w", i, err)
		}
		items[i] = digest.ItemActivity{
			Body:   *wi.Body,
			Author: *wi.Username,
			At:     at,
		}
	}

	return digest.ThreadActivity{
		Title:         *wt.Title,
		CommentableID: *wt.CommentableID,
		GroupID:       wt.GroupID,
		Items:         items,
	}, nil
}

func parseItemTime(s string) (time.Time, error) {
	for _, layout := range itemTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable updated_at %q", s)
}
