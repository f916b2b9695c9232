package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sockbridge/sockbridge/internal/config"
)

const authCacheSize = 128

// authResponse is the application server's answer to a channel auth request.
type authResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// authClient signs private- and presence- channel subscriptions against the
// configured endpoint. Signatures are cached per (socket id, channel) since
// they only change when the socket id does, and concurrent requests for the
// same key collapse into one POST.
type authClient struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
	cache    *lru.Cache[string, authResponse]
	group    singleflight.Group
}

func newAuthClient(opts *config.AuthOptions) *authClient {
	cache, _ := lru.New[string, authResponse](authCacheSize)
	return &authClient{
		endpoint: opts.Endpoint,
		headers:  opts.Headers,
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    cache,
	}
}

func (a *authClient) authorize(socketID, channelName string) (authResponse, error) {
	key := socketID + "|" + channelName
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		if cached, ok := a.cache.Get(key); ok {
			return cached, nil
		}
		resp, err := a.post(socketID, channelName)
		if err != nil {
			return authResponse{}, err
		}
		a.cache.Add(key, resp)
		return resp, nil
	})
	if err != nil {
		return authResponse{}, err
	}
	return v.(authResponse), nil
}

func (a *authClient) post(socketID, channelName string) (authResponse, error) {
	form := url.Values{
		"socket_id":    {socketID},
		"channel_name": {channelName},
	}
	req, err := http.NewRequest(http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return authResponse{}, fmt.Errorf("auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return authResponse{}, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return authResponse{}, fmt.Errorf("auth endpoint returned %d for %s", resp.StatusCode, channelName)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return authResponse{}, fmt.Errorf("auth response: %w", err)
	}
	var parsed authResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return authResponse{}, fmt.Errorf("auth response: %w", err)
	}
	return parsed, nil
}
