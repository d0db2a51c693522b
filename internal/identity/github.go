package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// graphPageSize is the maximum page size the GitHub REST API allows on the follower and following listings.
const graphPageSize = 100

// maxGraphPages bounds graph pagination. Users with more than 1000 connections get a truncated graph rather than an
// unbounded login.
const maxGraphPages = 10

// GitHub implements Adapter against the GitHub REST API.
type GitHub struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewGitHub creates a GitHub identity adapter. The timeout bounds every individual request so a slow provider cannot
// stall a login indefinitely.
func NewGitHub(baseURL string, timeout time.Duration, logger zerolog.Logger) *GitHub {
	return &GitHub{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// githubUser is the subset of the /user response we consume.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// githubRef is one entry of a follower or following listing.
type githubRef struct {
	ID int64 `json:"id"`
}

// Fetch resolves the token into the user's profile and graph. A 401 from the provider maps to ErrUnauthorized;
// network failures and 5xx responses map to ErrUnavailable.
func (g *GitHub) Fetch(ctx context.Context, token string) (*Profile, error) {
	var u githubUser
	if err := g.get(ctx, token, "/user", &u); err != nil {
		return nil, err
	}

	followers, err := g.fetchGraph(ctx, token, "/user/followers")
	if err != nil {
		return nil, err
	}
	following, err := g.fetchGraph(ctx, token, "/user/following")
	if err != nil {
		return nil, err
	}

	g.log.Debug().
		Int64("github_id", u.ID).
		Int("followers", len(followers)).
		Int("following", len(following)).
		Msg("Fetched identity profile")

	return &Profile{
		GithubID:  u.ID,
		Username:  u.Login,
		AvatarURL: u.AvatarURL,
		Followers: followers,
		Following: following,
	}, nil
}

// fetchGraph pages through a follower or following listing and collects the identity-ids.
func (g *GitHub) fetchGraph(ctx context.Context, token, path string) ([]int64, error) {
	ids := make([]int64, 0, graphPageSize)
	for page := 1; page <= maxGraphPages; page++ {
		var refs []githubRef
		url := fmt.Sprintf("%s?per_page=%d&page=%d", path, graphPageSize, page)
		if err := g.get(ctx, token, url, &refs); err != nil {
			return nil, err
		}
		for _, ref := range refs {
			ids = append(ids, ref.ID)
		}
		if len(refs) < graphPageSize {
			break
		}
	}
	return ids, nil
}

func (g *GitHub) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode identity response: %w", err)
	}
	return nil
}
