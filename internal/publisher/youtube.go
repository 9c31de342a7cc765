package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"postflow/internal/domain"
)

// YouTubeDraft uploads a private video draft via the resumable upload flow:
// initiate a session with the snippet metadata, then stream the video bytes
// from the stored media URL into the session.
type YouTubeDraft struct {
	HTTP      *http.Client
	UploadURL string
	// fetches the video source; separate client so a large transfer isn't
	// bound by the API call timeout
	MediaHTTP *http.Client
}

func (c *YouTubeDraft) Platform() domain.Platform { return domain.PlatformYouTubeDraft }

func (c *YouTubeDraft) uploadURL() string {
	if c.UploadURL != "" {
		return strings.TrimRight(c.UploadURL, "/")
	}
	return "https://www.googleapis.com/upload/youtube/v3"
}

func (c *YouTubeDraft) mediaClient() *http.Client {
	if c.MediaHTTP != nil {
		return c.MediaHTTP
	}
	return c.HTTP
}

func (c *YouTubeDraft) Publish(ctx context.Context, p Payload, accessToken string) (Outcome, error) {
	if err := ValidatePayload(domain.PlatformYouTubeDraft, p); err != nil {
		return Outcome{}, err
	}

	meta := map[string]any{
		"snippet": map[string]any{
			"title":       p.Title,
			"description": p.Description,
		},
		"status": map[string]any{
			"privacyStatus": "private",
		},
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return Outcome{}, err
	}

	initURL := c.uploadURL() + "/videos?uploadType=resumable&part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{}, youtubeError(resp.StatusCode, raw)
	}
	session := resp.Header.Get("Location")
	if session == "" {
		return Outcome{}, &Error{Code: domain.ErrUnknown, HTTPStatus: resp.StatusCode, Message: "upload session missing Location header"}
	}

	// stream the source into the session
	src, err := c.mediaClient().Get(p.MediaURLs[0])
	if err != nil {
		return Outcome{}, &Error{Code: domain.ErrInvalidMedia, Message: fmt.Sprintf("fetch video source: %v", err)}
	}
	defer src.Body.Close()
	if src.StatusCode < 200 || src.StatusCode >= 300 {
		return Outcome{}, &Error{Code: domain.ErrInvalidMedia, HTTPStatus: src.StatusCode, Message: "video source not readable"}
	}

	up, err := http.NewRequestWithContext(ctx, http.MethodPut, session, src.Body)
	if err != nil {
		return Outcome{}, err
	}
	if src.ContentLength > 0 {
		up.ContentLength = src.ContentLength
	}
	upResp, err := c.mediaClient().Do(up)
	if err != nil {
		return Outcome{}, err
	}
	defer upResp.Body.Close()
	upRaw, _ := io.ReadAll(io.LimitReader(upResp.Body, 1<<20))

	if upResp.StatusCode < 200 || upResp.StatusCode >= 300 {
		return Outcome{}, youtubeError(upResp.StatusCode, upRaw)
	}

	var out struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(upRaw, &out)
	if out.ID == "" {
		return Outcome{}, &Error{Code: domain.ErrUnknown, HTTPStatus: upResp.StatusCode, Message: "upload response missing video id"}
	}
	return Outcome{URL: "https://studio.youtube.com/video/" + out.ID + "/edit"}, nil
}

func youtubeError(status int, raw []byte) *Error {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &env)

	code := classifyStatus(status)
	for _, e := range env.Error.Errors {
		switch e.Reason {
		case "quotaExceeded", "userRateLimitExceeded", "rateLimitExceeded":
			code = domain.ErrRateLimit
		case "authError", "expiredToken", "invalidCredentials":
			code = domain.ErrTokenExpired
		case "forbidden", "insufficientPermissions", "youtubeSignupRequired":
			code = domain.ErrPermission
		case "invalidVideoMetadata", "mediaBodyRequired", "invalidFilename":
			code = domain.ErrInvalidMedia
		}
	}
	msg := env.Error.Message
	if msg == "" {
		msg = "youtube upload failed"
	}
	return &Error{Code: code, HTTPStatus: status, Message: msg}
}
