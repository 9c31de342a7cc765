// Package notifier composes the manual-publish message sent when automated
// publishing gives up: the failing platform, the error, fresh signed download
// links, and everything the user typed, so they can publish by hand.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"postflow/internal/domain"
	"postflow/internal/store"
)

type SignedLink struct {
	Label     string
	URL       string
	ExpiresAt time.Time
}

// Linker mints time-limited signed download links for a content record. The
// content store itself is an external collaborator.
type Linker interface {
	SignedLinks(ctx context.Context, contentID string) ([]SignedLink, error)
}

// Mailer is the delivery channel. Its failures are logged by the caller and
// never revert the record's terminal state.
type Mailer interface {
	Send(ctx context.Context, userID, subject, textBody, htmlBody string) error
}

var platformNames = map[domain.Platform]string{
	domain.PlatformFacebookPage:      "Facebook Page",
	domain.PlatformInstagramBusiness: "Instagram Business",
	domain.PlatformLinkedIn:          "LinkedIn",
	domain.PlatformYouTubeDraft:      "YouTube (draft)",
}

type messageData struct {
	Platform      string
	ScheduledTime string
	LastError     string
	Text          string
	Title         string
	Description   string
	Links         []SignedLink
}

var textTmpl = texttemplate.Must(texttemplate.New("fallback").Parse(`Your scheduled post to {{.Platform}} could not be published automatically.

Scheduled for: {{.ScheduledTime}}
Last error: {{.LastError}}

To publish manually, download your content (links expire):
{{range .Links}}  - {{.Label}}: {{.URL}} (valid until {{.ExpiresAt.Format "2006-01-02 15:04 MST"}})
{{end}}
{{if .Title}}Title: {{.Title}}
{{end}}{{if .Description}}Description:
{{.Description}}

{{end}}{{if .Text}}Post text:
{{.Text}}
{{end}}`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("fallback").Parse(`<h2>Manual publish needed</h2>
<p>Your scheduled post to <strong>{{.Platform}}</strong> could not be published automatically.</p>
<p>Scheduled for: {{.ScheduledTime}}<br>Last error: <code>{{.LastError}}</code></p>
<p>Download your content (links expire):</p>
<ul>
{{range .Links}}<li><a href="{{.URL}}">{{.Label}}</a> (valid until {{.ExpiresAt.Format "2006-01-02 15:04 MST"}})</li>
{{end}}</ul>
{{if .Title}}<p><strong>Title:</strong> {{.Title}}</p>{{end}}
{{if .Description}}<p><strong>Description:</strong></p><p>{{.Description}}</p>{{end}}
{{if .Text}}<p><strong>Post text:</strong></p><p>{{.Text}}</p>{{end}}`))

type Notifier struct {
	Links  Linker
	Mailer Mailer
}

// Message is the rendered fallback content, also what the UI shows inline so
// it matches exactly what was emailed.
type Message struct {
	Subject string
	Text    string
	HTML    string
	Links   []SignedLink
}

func (n *Notifier) Build(ctx context.Context, rec store.ScheduleRecord, lastError string) (Message, error) {
	links, err := n.Links.SignedLinks(ctx, rec.ContentID)
	if err != nil {
		return Message{}, fmt.Errorf("sign content links: %w", err)
	}

	name := platformNames[rec.Platform]
	if name == "" {
		name = string(rec.Platform)
	}
	data := messageData{
		Platform:      name,
		ScheduledTime: rec.ScheduledTime.UTC().Format(time.RFC1123),
		LastError:     lastError,
		Text:          rec.Text,
		Title:         rec.Title,
		Description:   rec.Description,
		Links:         links,
	}

	var textBuf, htmlBuf bytes.Buffer
	if err := textTmpl.Execute(&textBuf, data); err != nil {
		return Message{}, err
	}
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return Message{}, err
	}

	return Message{
		Subject: "Action needed: publish your " + name + " post manually",
		Text:    strings.TrimRight(textBuf.String(), "\n") + "\n",
		HTML:    htmlBuf.String(),
		Links:   links,
	}, nil
}

// Notify builds and delivers the manual-publish message. The caller guards
// exactly-once delivery with the record's fallback_sent flag before invoking.
func (n *Notifier) Notify(ctx context.Context, rec store.ScheduleRecord, lastError string) error {
	msg, err := n.Build(ctx, rec, lastError)
	if err != nil {
		return err
	}
	return n.Mailer.Send(ctx, rec.UserID, msg.Subject, msg.Text, msg.HTML)
}
