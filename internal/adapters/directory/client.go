// Package directory resolves participant display data with a bounded,
// expiring cache. Lookups never fail from the caller's point of view.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/callcoord/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type Client struct {
	base  string
	http  *http.Client
	cache *expirable.LRU[domain.ParticipantID, domain.Profile]
	group singleflight.Group
}

func NewClient(baseURL string, cacheSize int, ttl time.Duration, timeout time.Duration) *Client {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: timeout},
		cache: expirable.NewLRU[domain.ParticipantID, domain.Profile](cacheSize, nil, ttl),
	}
}

// Lookup returns the profile of id, or a placeholder when the directory
// cannot answer. Placeholders are not cached.
func (c *Client) Lookup(ctx context.Context, id domain.ParticipantID) domain.Profile {
	if p, ok := c.cache.Get(id); ok {
		return p
	}
	v, err, _ := c.group.Do(string(id), func() (any, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "directory").Str("participant", string(id)).Msg("lookup failed, using placeholder")
		return domain.PlaceholderProfile(id)
	}
	p := v.(domain.Profile)
	c.cache.Add(id, p)
	return p
}

func (c *Client) fetch(ctx context.Context, id domain.ParticipantID) (domain.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/profile/"+url.PathEscape(string(id)), nil)
	if err != nil {
		return domain.Profile{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Profile{}, fmt.Errorf("directory: status %d", resp.StatusCode)
	}
	var p domain.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return domain.Profile{}, fmt.Errorf("directory: decode: %w", err)
	}
	if p.Name == "" {
		p.Name = domain.PlaceholderProfile(id).Name
	}
	return p, nil
}
