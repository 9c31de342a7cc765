package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"postflow/internal/domain"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// graphEnvelope is the Graph API error shape shared by facebook pages and
// instagram business publishing.
type graphEnvelope struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	Permalink string `json:"permalink"`
	Error     *struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        int    `json:"code"`
		Subcode     int    `json:"error_subcode"`
		IsTransient bool   `json:"is_transient"`
	} `json:"error"`
}

// classifyGraph maps Graph API error codes onto the closed set. Code 190 is
// the OAuth family (expired/invalidated token); 4, 17, 32 and 613 are the
// documented throttling codes; 200-299 are permission errors.
func classifyGraph(httpStatus int, env graphEnvelope) domain.ErrorCode {
	if env.Error == nil {
		return classifyStatus(httpStatus)
	}
	switch {
	case env.Error.Code == 190:
		return domain.ErrTokenExpired
	case env.Error.Code == 4 || env.Error.Code == 17 || env.Error.Code == 32 || env.Error.Code == 613:
		return domain.ErrRateLimit
	case env.Error.Code >= 200 && env.Error.Code <= 299:
		return domain.ErrPermission
	case env.Error.Code == 100:
		return domain.ErrInvalidMedia
	case env.Error.Code == 110 || env.Error.Code == 803:
		return domain.ErrInvalidAccount
	case env.Error.IsTransient:
		return domain.ErrUnknown
	default:
		return classifyStatus(httpStatus)
	}
}

// graphCall posts a form to the Graph API and decodes the shared envelope.
func graphCall(ctx context.Context, client *http.Client, method, endpoint string, form url.Values) (graphEnvelope, int, error) {
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(form.Encode())
	} else if len(form) > 0 {
		endpoint = endpoint + "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return graphEnvelope{}, 0, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := client.Do(req)
	if err != nil {
		return graphEnvelope{}, 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var env graphEnvelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "graph call failed"
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return env, resp.StatusCode, &Error{
			Code:       classifyGraph(resp.StatusCode, env),
			HTTPStatus: resp.StatusCode,
			Message:    msg,
		}
	}
	return env, resp.StatusCode, nil
}
