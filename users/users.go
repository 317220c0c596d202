// Package users talks to the user-directory API: it streams digest
// subscribers and per-course moderators page by page and carries each
// user's per-course authorization data used for access filtering.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"forum-digest-notifier/pkg/digest"
)

// ServiceError indicates the user-directory API was unreachable or returned
// a non-2xx response. It is retryable at the top-level run.
type ServiceError struct {
	Status int
	Detail string
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("user service HTTP %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("user service request failed: %s", e.Detail)
}

// IsServiceError checks if an error is a users ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// ID is a user identifier. The directory API emits numeric ids; the content
// service keys its payload with their decimal string form, so we normalize
// to strings on decode.
type ID string

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Subscriber is one user opted in to digest notifications, along with the
// authorization data needed to filter content on their behalf.
type Subscriber struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	// CourseInfo maps enrolled course id to cohort visibility.
	CourseInfo map[string]CourseInfo `json:"course_info"`
}

// CourseInfo is the cohort visibility the directory reports for one of the
// subscriber's enrolled courses.
type CourseInfo struct {
	SeeAllCohorts bool   `json:"see_all_cohorts"`
	CohortID      *int64 `json:"cohort_id"`
}

// Access converts the subscriber's course info to the digest builder's
// access map.
func (s *Subscriber) Access() digest.Access {
	access := make(digest.Access, len(s.CourseInfo))
	for courseID, info := range s.CourseInfo {
		access[courseID] = digest.CourseAccess{
			SeeAllCohorts: info.SeeAllCohorts,
			CohortID:      info.CohortID,
		}
	}
	return access
}

// BasicAuth is optional HTTP basic auth for the user-directory API.
type BasicAuth struct {
	User string
	Pass string
}

// Client pages through the user-directory API.
type Client struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	apiKey   string
	auth     *BasicAuth
	pageSize int
}

// New creates a user-directory client. pageSize controls how many
// subscribers each API page carries.
func New(client *http.Client, baseURL, apiKey string, auth *BasicAuth, pageSize int, logger *slog.Logger) *Client {
	return &Client{
		client:   client,
		logger:   logger,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		auth:     auth,
		pageSize: pageSize,
	}
}

type page struct {
	Count    int          `json:"count"`
	Next     *string      `json:"next"`
	Previous *string      `json:"previous"`
	Results  []Subscriber `json:"results"`
}

// Subscribers lazily yields every digest subscriber, fetching directory
// pages on demand until the API reports no next page. A fetch or decode
// failure is yielded as a non-nil error and terminates the sequence.
func (c *Client) Subscribers(ctx context.Context) iter.Seq2[Subscriber, error] {
	return c.paged(ctx, nil)
}

// Moderators lazily yields the forum moderators of one course, paged the
// same way as Subscribers.
func (c *Client) Moderators(ctx context.Context, courseID string) iter.Seq2[Subscriber, error] {
	return c.paged(ctx, url.Values{"course_id": {courseID}})
}

func (c *Client) paged(ctx context.Context, filter url.Values) iter.Seq2[Subscriber, error] {
	return func(yield func(Subscriber, error) bool) {
		for pageNum := 1; ; pageNum++ {
			p, err := c.fetchPage(ctx, pageNum, filter)
			if err != nil {
				yield(Subscriber{}, err)
				return
			}
			for _, sub := range p.Results {
				if !yield(sub, nil) {
					return
				}
			}
			if p.Next == nil {
				return
			}
		}
	}
}

func (c *Client) fetchPage(ctx context.Context, pageNum int, filter url.Values) (*page, error) {
	endpoint := c.baseURL + "/notifier_api/v1/users/"
	q := url.Values{
		"page_size": {strconv.Itoa(c.pageSize)},
		"page":      {strconv.Itoa(pageNum)},
	}
	for k, vs := range filter {
		q[k] = vs
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Edx-Api-Key", c.apiKey)
	if c.auth != nil {
		req.SetBasicAuth(c.auth.User, c.auth.Pass)
	}

	c.logger.Info("User service request starting",
		"method", "GET",
		"endpoint", endpoint,
		"page", pageNum,
		"page_size", c.pageSize)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ServiceError{Detail: err.Error()}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{Status: resp.StatusCode, Detail: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Detail: fmt.Sprintf("read response: %s", err)}
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &ServiceError{Detail: fmt.Sprintf("decode page %d: %s", pageNum, err)}
	}

	c.logger.Info("User service page fetched",
		"page", pageNum,
		"results", len(p.Results),
		"total", p.Count,
		"has_next", p.Next != nil)

	return &p, nil
}
