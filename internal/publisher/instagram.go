package publisher

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"postflow/internal/domain"
)

// InstagramBusiness publishes through the two-step container flow: create a
// media container, publish it, then read back the permalink.
type InstagramBusiness struct {
	HTTP    *http.Client
	BaseURL string
}

func (c *InstagramBusiness) Platform() domain.Platform { return domain.PlatformInstagramBusiness }

func (c *InstagramBusiness) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultGraphBaseURL
}

func (c *InstagramBusiness) Publish(ctx context.Context, p Payload, accessToken string) (Outcome, error) {
	if err := ValidatePayload(domain.PlatformInstagramBusiness, p); err != nil {
		return Outcome{}, err
	}

	// step 1: media container
	form := url.Values{}
	form.Set("access_token", accessToken)
	form.Set("caption", p.Text)
	if isVideoURL(p.MediaURLs[0]) {
		form.Set("media_type", "REELS")
		form.Set("video_url", p.MediaURLs[0])
	} else {
		form.Set("image_url", p.MediaURLs[0])
	}
	env, _, err := graphCall(ctx, c.HTTP, http.MethodPost, c.baseURL()+"/"+p.AccountRef+"/media", form)
	if err != nil {
		return Outcome{}, err
	}
	creationID := env.ID

	// step 2: publish the container
	form = url.Values{}
	form.Set("access_token", accessToken)
	form.Set("creation_id", creationID)
	env, _, err = graphCall(ctx, c.HTTP, http.MethodPost, c.baseURL()+"/"+p.AccountRef+"/media_publish", form)
	if err != nil {
		return Outcome{}, err
	}
	mediaID := env.ID

	// step 3: canonical permalink; the publish itself already succeeded, so a
	// failure here falls back to the media id URL rather than failing the run
	form = url.Values{}
	form.Set("access_token", accessToken)
	form.Set("fields", "permalink")
	env, _, err = graphCall(ctx, c.HTTP, http.MethodGet, c.baseURL()+"/"+mediaID, form)
	if err != nil || env.Permalink == "" {
		return Outcome{URL: "https://www.instagram.com/p/" + mediaID}, nil
	}
	return Outcome{URL: env.Permalink}, nil
}
