package publisher

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"postflow/internal/domain"
)

// FacebookPage publishes to a page feed via the Graph API. A single image
// attachment goes through /photos so the post renders with the media inline.
type FacebookPage struct {
	HTTP    *http.Client
	BaseURL string
}

func (c *FacebookPage) Platform() domain.Platform { return domain.PlatformFacebookPage }

func (c *FacebookPage) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultGraphBaseURL
}

func (c *FacebookPage) Publish(ctx context.Context, p Payload, accessToken string) (Outcome, error) {
	if err := ValidatePayload(domain.PlatformFacebookPage, p); err != nil {
		return Outcome{}, err
	}

	form := url.Values{}
	form.Set("access_token", accessToken)

	endpoint := c.baseURL() + "/" + p.AccountRef + "/feed"
	form.Set("message", p.Text)
	if len(p.MediaURLs) == 1 && !isVideoURL(p.MediaURLs[0]) {
		endpoint = c.baseURL() + "/" + p.AccountRef + "/photos"
		form.Del("message")
		form.Set("caption", p.Text)
		form.Set("url", p.MediaURLs[0])
	} else if len(p.MediaURLs) > 0 {
		form.Set("link", p.MediaURLs[0])
	}

	env, _, err := graphCall(ctx, c.HTTP, http.MethodPost, endpoint, form)
	if err != nil {
		return Outcome{}, err
	}

	id := env.PostID
	if id == "" {
		id = env.ID
	}
	return Outcome{URL: "https://www.facebook.com/" + id}, nil
}

func isVideoURL(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range []string{".mp4", ".mov", ".avi", ".webm", ".mkv"} {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}
