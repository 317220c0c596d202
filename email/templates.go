package email

import (
	"fmt"
	"strings"

	"forum-digest-notifier/pkg/digest"
	"forum-digest-notifier/token"
	"forum-digest-notifier/users"
)

// Renderer produces the text and HTML bodies of a digest email.
type Renderer struct {
	cipher  *token.Cipher
	lmsBase string
}

// NewRenderer creates a renderer. Unsubscribe links embed the subscriber id
// encrypted with the given cipher and point at the LMS.
func NewRenderer(cipher *token.Cipher, lmsBase string) *Renderer {
	return &Renderer{
		cipher:  cipher,
		lmsBase: strings.TrimRight(lmsBase, "/"),
	}
}

// Render implements RenderFunc.
func (r *Renderer) Render(user users.Subscriber, d *digest.Digest, title, description string) (string, string, error) {
	unsubURL, err := r.unsubscribeURL(string(user.ID))
	if err != nil {
		return "", "", fmt.Errorf("unsubscribe url: %w", err)
	}
	return r.renderText(d, description, unsubURL), r.renderHTML(d, title, description, unsubURL), nil
}

func (r *Renderer) unsubscribeURL(userID string) (string, error) {
	tok, err := r.cipher.Encode(userID)
	if err != nil {
		return "", err
	}
	return digest.UnsubscribeURL(r.lmsBase, tok), nil
}

func (r *Renderer) renderText(d *digest.Digest, description, unsubURL string) string {
	var b strings.Builder

	if description != "" {
		b.WriteString(description)
		b.WriteString("\n\n")
	}
	b.WriteString(fmt.Sprintf("There is new activity in %s.\n\n",
		digest.TextList(d.CourseTitles())))

	for _, course := range d.Courses {
		b.WriteString(course.Title)
		b.WriteString("\n")
		b.WriteString(strings.Repeat("=", len(course.Title)))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("%s\n", threadCountLabel(course.ThreadCount)))
		b.WriteString("\n")

		for _, thread := range course.Threads {
			b.WriteString(fmt.Sprintf("- %s\n", thread.Title))
			b.WriteString(fmt.Sprintf("  %s\n", thread.URL))
			for _, item := range thread.Items {
				b.WriteString(fmt.Sprintf("  %s (%s): %s\n",
					item.Author,
					item.At.UTC().Format("Jan 2, 2006 at 3:04 PM"),
					item.Body))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("Unsubscribe from these emails:\n")
	b.WriteString(unsubURL)
	b.WriteString("\n")

	return b.String()
}

func (r *Renderer) renderHTML(d *digest.Digest, title, description, unsubURL string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".header { border-bottom: 2px solid #2c7cb0; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".course { margin-bottom: 30px; }\n")
	b.WriteString(".course-title { font-size: 1.2em; font-weight: 600; }\n")
	b.WriteString(".thread-count { color: #7f8c8d; font-size: 0.9em; margin-bottom: 10px; }\n")
	b.WriteString(".thread { margin: 12px 0 12px 15px; }\n")
	b.WriteString(".thread-title { font-weight: 600; }\n")
	b.WriteString(".item { margin: 6px 0 6px 15px; }\n")
	b.WriteString(".author { color: #2c7cb0; font-weight: 600; }\n")
	b.WriteString(".timestamp { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #ddd; font-size: 0.9em; color: #7f8c8d; }\n")
	b.WriteString("a { color: #2c7cb0; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	b.WriteString(fmt.Sprintf("<h2>%s</h2>\n", escapeHTML(title)))
	if description != "" {
		b.WriteString(fmt.Sprintf("<p>%s</p>\n", escapeHTML(description)))
	}
	b.WriteString(fmt.Sprintf("<p>There is new activity in %s.</p>\n",
		escapeHTML(digest.TextList(d.CourseTitles()))))
	b.WriteString("</div>\n")

	for _, course := range d.Courses {
		b.WriteString("<div class=\"course\">\n")
		b.WriteString(fmt.Sprintf("<div class=\"course-title\"><a href=\"%s\">%s</a></div>\n",
			escapeHTML(course.URL), escapeHTML(course.Title)))
		b.WriteString(fmt.Sprintf("<div class=\"thread-count\">%s</div>\n",
			escapeHTML(threadCountLabel(course.ThreadCount))))

		for _, thread := range course.Threads {
			b.WriteString("<div class=\"thread\">\n")
			b.WriteString(fmt.Sprintf("<div class=\"thread-title\"><a href=\"%s\">%s</a></div>\n",
				escapeHTML(thread.URL), escapeHTML(thread.Title)))
			for _, item := range thread.Items {
				b.WriteString("<div class=\"item\">\n")
				b.WriteString(fmt.Sprintf("<span class=\"author\">%s</span>\n", escapeHTML(item.Author)))
				b.WriteString(fmt.Sprintf("<span class=\"timestamp\"> &bull; %s UTC</span>\n",
					item.At.UTC().Format("Jan 2, 2006 at 3:04 PM")))
				b.WriteString(fmt.Sprintf("<div>%s</div>\n", escapeHTML(item.Body)))
				b.WriteString("</div>\n")
			}
			b.WriteString("</div>\n")
		}
		b.WriteString("</div>\n")
	}

	b.WriteString("<div class=\"footer\">\n")
	b.WriteString(fmt.Sprintf("<a href=\"%s\">Unsubscribe from these emails</a>\n", escapeHTML(unsubURL)))
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")

	return b.String()
}

// RenderFlagged implements FlaggedRenderFunc. The body lists the posts
// flagged for moderation in one course; moderators receive these by role,
// so there is no unsubscribe link.
func (r *Renderer) RenderFlagged(_ users.Subscriber, courseID string, posts []string) (string, string, error) {
	return renderFlaggedText(courseID, posts), renderFlaggedHTML(courseID, posts), nil
}

func renderFlaggedText(courseID string, posts []string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s in %s %s been flagged for moderation:\n\n",
		flaggedCountLabel(len(posts)), courseID, havePlural(len(posts))))
	for _, post := range posts {
		b.WriteString(fmt.Sprintf("- %s\n", post))
	}

	return b.String()
}

func renderFlaggedHTML(courseID string, posts []string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".header { border-bottom: 2px solid #2c7cb0; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".post { margin: 6px 0; }\n")
	b.WriteString("a { color: #2c7cb0; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	b.WriteString(fmt.Sprintf("<h2>Flagged posts in %s</h2>\n", escapeHTML(courseID)))
	b.WriteString(fmt.Sprintf("<p>%s %s been flagged for moderation.</p>\n",
		escapeHTML(flaggedCountLabel(len(posts))), havePlural(len(posts))))
	b.WriteString("</div>\n")

	for _, post := range posts {
		b.WriteString(fmt.Sprintf("<div class=\"post\"><a href=\"%s\">%s</a></div>\n",
			escapeHTML(post), escapeHTML(post)))
	}

	b.WriteString("</body>\n</html>")

	return b.String()
}

func flaggedCountLabel(n int) string {
	if n == 1 {
		return "1 post"
	}
	return fmt.Sprintf("%d posts", n)
}

func havePlural(n int) string {
	if n == 1 {
		return "has"
	}
	return "have"
}

func threadCountLabel(n int) string {
	if n == 1 {
		return "1 discussion thread with new activity"
	}
	return fmt.Sprintf("%d discussion threads with new activity", n)
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
