package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"postflow/internal/domain"
)

// LinkedIn publishes UGC posts on behalf of a member or organization. The
// author URN comes from the linked account's external ref.
type LinkedIn struct {
	HTTP    *http.Client
	BaseURL string
}

func (c *LinkedIn) Platform() domain.Platform { return domain.PlatformLinkedIn }

func (c *LinkedIn) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "https://api.linkedin.com"
}

type liShareContent struct {
	ShareCommentary struct {
		Text string `json:"text"`
	} `json:"shareCommentary"`
	ShareMediaCategory string    `json:"shareMediaCategory"`
	Media              []liMedia `json:"media,omitempty"`
}

type liMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

type liUGCPost struct {
	Author          string `json:"author"`
	LifecycleState  string `json:"lifecycleState"`
	SpecificContent struct {
		ShareContent liShareContent `json:"com.linkedin.ugc.ShareContent"`
	} `json:"specificContent"`
	Visibility struct {
		Code string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
	} `json:"visibility"`
}

func (c *LinkedIn) Publish(ctx context.Context, p Payload, accessToken string) (Outcome, error) {
	if err := ValidatePayload(domain.PlatformLinkedIn, p); err != nil {
		return Outcome{}, err
	}

	post := liUGCPost{Author: p.AccountRef, LifecycleState: "PUBLISHED"}
	post.SpecificContent.ShareContent.ShareCommentary.Text = p.Text
	post.SpecificContent.ShareContent.ShareMediaCategory = "NONE"
	if len(p.MediaURLs) > 0 {
		post.SpecificContent.ShareContent.ShareMediaCategory = "ARTICLE"
		for _, u := range p.MediaURLs {
			post.SpecificContent.ShareContent.Media = append(post.SpecificContent.ShareContent.Media,
				liMedia{Status: "READY", OriginalURL: u})
		}
	}
	post.Visibility.Code = "PUBLIC"

	body, err := json.Marshal(post)
	if err != nil {
		return Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message          string `json:"message"`
			ServiceErrorCode int    `json:"serviceErrorCode"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = "linkedin publish failed"
		}
		return Outcome{}, &Error{
			Code:       classifyStatus(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Message:    msg,
		}
	}

	id := resp.Header.Get("X-RestLi-Id")
	if id == "" {
		var out struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &out)
		id = out.ID
	}
	return Outcome{URL: "https://www.linkedin.com/feed/update/" + id}, nil
}
