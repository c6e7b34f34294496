package directory

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/invitewarden/invitewarden-server/internal/domain"
	"github.com/invitewarden/invitewarden-server/internal/errors"
)

// RESTClient talks to a Discord-compatible guild directory REST API.
// Outbound calls are throttled with a token bucket so the tracker's poll
// loop and retroactive passes stay inside the directory's rate limits.
type RESTClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// RESTConfig configures a RESTClient.
type RESTConfig struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// NewRESTClient creates a directory client for the given API endpoint.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base URL is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &RESTClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
	}, nil
}

// wire types for the Discord-compatible API.

type wireUser struct {
	ID string `json:"id"`
}

type wireInvite struct {
	Code    string    `json:"code"`
	Uses    int       `json:"uses"`
	Inviter *wireUser `json:"inviter"`
}

type wireMember struct {
	User  wireUser `json:"user"`
	Roles []string `json:"roles"`
}

type wireRole struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListInvites implements Directory.
func (c *RESTClient) ListInvites(ctx context.Context, guildID string) ([]domain.InviteInfo, error) {
	var invites []wireInvite
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/invites", url.PathEscape(guildID)), &invites); err != nil {
		return nil, err
	}

	out := make([]domain.InviteInfo, 0, len(invites))
	for _, inv := range invites {
		info := domain.InviteInfo{Code: inv.Code, Uses: inv.Uses}
		if inv.Inviter != nil {
			info.InviterID = inv.Inviter.ID
		}
		out = append(out, info)
	}
	return out, nil
}

// ListMembers implements Directory.
func (c *RESTClient) ListMembers(ctx context.Context, guildID string) ([]*domain.Member, error) {
	var members []wireMember
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/members?limit=1000", url.PathEscape(guildID)), &members); err != nil {
		return nil, err
	}

	out := make([]*domain.Member, 0, len(members))
	for _, m := range members {
		out = append(out, &domain.Member{ID: m.User.ID, RoleIDs: m.Roles})
	}
	return out, nil
}

// FetchMember implements Directory.
func (c *RESTClient) FetchMember(ctx context.Context, guildID, userID string) (*domain.Member, error) {
	var m wireMember
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(guildID), url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, &m); err != nil {
		return nil, err
	}
	return &domain.Member{ID: m.User.ID, RoleIDs: m.Roles}, nil
}

// ListRoles implements Directory.
func (c *RESTClient) ListRoles(ctx context.Context, guildID string) ([]domain.GuildRole, error) {
	var roles []wireRole
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/guilds/%s/roles", url.PathEscape(guildID)), &roles); err != nil {
		return nil, err
	}

	out := make([]domain.GuildRole, 0, len(roles))
	for _, r := range roles {
		out = append(out, domain.GuildRole{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

// AddRole implements Directory.
func (c *RESTClient) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(roleID))
	return c.do(ctx, http.MethodPut, path, nil)
}

// RemoveRole implements Directory.
func (c *RESTClient) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(roleID))
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do performs a rate-limited request and decodes the JSON response into dest
// (when dest is non-nil).
func (c *RESTClient) do(ctx context.Context, method, path string, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.CodeUnavailable, "directory rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "build directory request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, errors.CodeUnavailable, "directory %s %s", method, path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.ErrNotFound
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Unavailablef("directory %s %s: status %d: %s", method, path, resp.StatusCode, body)
	}

	if dest == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.UnmarshalRead(resp.Body, dest); err != nil {
		return errors.Wrapf(err, errors.CodeUnavailable, "decode directory %s %s response", method, path)
	}
	return nil
}
