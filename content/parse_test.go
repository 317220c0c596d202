package content

import (
	"strings"
	"testing"
	"time"
)

const samplePayload = `{
	"10": {
		"org/course/run": {
			"thread-1": {
				"title": "A question",
				"commentable_id": "general",
				"group_id": null,
				"content": [
					{"body": "first", "username": "alice", "updated_at": "2013-01-07T12:00:00Z"},
					{"body": "second", "username": "bob", "updated_at": "2013-01-07 12:05:00"}
				]
			},
			"thread-2": {
				"title": "Cohort only",
				"commentable_id": "general",
				"group_id": 7,
				"content": [
					{"body": "hidden", "username": "carol", "updated_at": "2013-01-07T12:10:00"}
				]
			}
		}
	}
}`

func TestParsePayload(t *testing.T) {
	payload, err := ParsePayload([]byte(samplePayload))
	if err != nil {
		t.Fatalf("ParsePayload error = %v", err)
	}

	user, ok := payload["10"]
	if !ok {
		t.Fatal("user 10 missing")
	}
	course, ok := user["org/course/run"]
	if !ok {
		t.Fatal("course missing")
	}

	t1 := course["thread-1"]
	if t1.Title != "A question" || t1.CommentableID != "general" {
		t.Errorf("thread-1 = %+v", t1)
	}
	if t1.GroupID != nil {
		t.Errorf("thread-1 group id = %v, want nil", *t1.GroupID)
	}
	if len(t1.Items) != 2 {
		t.Fatalf("thread-1 items = %d, want 2", len(t1.Items))
	}
	want := time.Date(2013, 1, 7, 12, 0, 0, 0, time.UTC)
	if !t1.Items[0].At.Equal(want) {
		t.Errorf("item[0] at = %v, want %v", t1.Items[0].At, want)
	}

	t2 := course["thread-2"]
	if t2.GroupID == nil || *t2.GroupID != 7 {
		t.Errorf("thread-2 group id = %v, want 7", t2.GroupID)
	}
}

func TestParsePayloadRejectsMalformedRecords(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantIn  string
	}{
		{
			name:    "not json",
			payload: `{`,
			wantIn:  "decode payload",
		},
		{
			name: "missing title",
			payload: `{"10": {"c": {"t": {
				"commentable_id": "general", "content": []}}}}`,
			wantIn: "missing title",
		},
		{
			name: "missing commentable_id",
			payload: `{"10": {"c": {"t": {
				"title": "x", "content": []}}}}`,
			wantIn: "missing commentable_id",
		},
		{
			name: "missing content",
			payload: `{"10": {"c": {"t": {
				"title": "x", "commentable_id": "general"}}}}`,
			wantIn: "missing content",
		},
		{
			name: "item missing username",
			payload: `{"10": {"c": {"t": {
				"title": "x", "commentable_id": "general",
				"content": [{"body": "b", "updated_at": "2013-01-07T12:00:00Z"}]}}}}`,
			wantIn: "missing username",
		},
		{
			name: "item with bad timestamp",
			payload: `{"10": {"c": {"t": {
				"title": "x", "commentable_id": "general",
				"content": [{"body": "b", "username": "u", "updated_at": "not a time"}]}}}}`,
			wantIn: "unparseable updated_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.payload))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error = %v, want substring %q", err, tt.wantIn)
			}
		})
	}
}

func TestParseItemTimeLayouts(t *testing.T) {
	inputs := []string{
		"2013-01-07T12:00:00.123456Z",
		"2013-01-07T12:00:00Z",
		"2013-01-07T12:00:00",
		"2013-01-07 12:00:00Z",
		"2013-01-07 12:00:00",
	}
	for _, in := range inputs {
		if _, err := parseItemTime(in); err != nil {
			t.Errorf("parseItemTime(%q) error = %v", in, err)
		}
	}
}
