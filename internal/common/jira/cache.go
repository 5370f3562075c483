package jira

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the key/value store behind CachedClient. *database.RedisClient
// satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Logger is the logging surface CachedClient needs.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// CachedClient serves list/get reads from Redis when possible. Mutations and
// Ping always go to Jira; a successful mutation drops the cached reads it
// affects. A cache fault never fails a call.
type CachedClient struct {
	*Client
	cache  Cache
	ttl    time.Duration
	logger Logger
}

type cacheEntry struct {
	ResourceID string          `json:"resource_id"`
	Raw        json.RawMessage `json:"raw"`
}

func NewCachedClient(client *Client, cache Cache, ttl time.Duration, logger Logger) *CachedClient {
	return &CachedClient{Client: client, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(operation string, args ...string) string {
	return "jira:" + operation + ":" + strings.Join(args, ":")
}

func (c *CachedClient) read(ctx context.Context, operation string, args []string, fetch func() (*Result, error)) (*Result, error) {
	key := cacheKey(operation, args...)

	if cached, err := c.cache.Get(ctx, key); err == nil {
		var entry cacheEntry
		if jsonErr := json.Unmarshal([]byte(cached), &entry); jsonErr == nil {
			if res, resErr := newResult(operation, entry.ResourceID, entry.Raw); resErr == nil {
				c.logger.Debug("Jira cache hit", map[string]interface{}{"key": key})
				return res, nil
			}
		}
		c.logger.Warn("Discarding unreadable cache entry", map[string]interface{}{"key": key})
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("Jira cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	res, err := fetch()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cacheEntry{ResourceID: res.ResourceID, Raw: res.Raw})
	if err == nil {
		err = c.cache.Set(ctx, key, string(payload), c.ttl)
	}
	if err != nil {
		c.logger.Warn("Jira cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
	return res, nil
}

func (c *CachedClient) ListEpics(ctx context.Context, projectKey string) (*Result, error) {
	return c.read(ctx, OpListContainers, []string{projectKey}, func() (*Result, error) {
		return c.Client.ListEpics(ctx, projectKey)
	})
}

func (c *CachedClient) GetEpic(ctx context.Context, key string) (*Result, error) {
	return c.read(ctx, OpGetContainer, []string{key}, func() (*Result, error) {
		return c.Client.GetEpic(ctx, key)
	})
}

func (c *CachedClient) ListSprints(ctx context.Context, boardID int) (*Result, error) {
	return c.read(ctx, OpListWindows, []string{strconv.Itoa(boardID)}, func() (*Result, error) {
		return c.Client.ListSprints(ctx, boardID)
	})
}

func (c *CachedClient) GetSprint(ctx context.Context, sprintID int) (*Result, error) {
	return c.read(ctx, OpGetWindow, []string{strconv.Itoa(sprintID)}, func() (*Result, error) {
		return c.Client.GetSprint(ctx, sprintID)
	})
}

func (c *CachedClient) ListSprintIssues(ctx context.Context, sprintID int) (*Result, error) {
	return c.read(ctx, OpListWindowItems, []string{strconv.Itoa(sprintID)}, func() (*Result, error) {
		return c.Client.ListSprintIssues(ctx, sprintID)
	})
}

func (c *CachedClient) ListBoards(ctx context.Context) (*Result, error) {
	return c.read(ctx, OpListBoards, nil, func() (*Result, error) {
		return c.Client.ListBoards(ctx)
	})
}

// invalidate drops keys after a write. Failures only cost freshness until
// the TTL expires, so they are logged.
func (c *CachedClient) invalidate(ctx context.Context, keys ...string) {
	if err := c.cache.Del(ctx, keys...); err != nil {
		c.logger.Warn("Jira cache invalidation failed", map[string]interface{}{"keys": keys, "error": err.Error()})
	}
}

func (c *CachedClient) CreateEpic(ctx context.Context, projectKey, summary, description string) (*Result, error) {
	res, err := c.Client.CreateEpic(ctx, projectKey, summary, description)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, cacheKey(OpListContainers, projectKey), cacheKey(OpListContainers, ""))
	return res, nil
}

func (c *CachedClient) UpdateEpic(ctx context.Context, key string, fields map[string]interface{}) (*Result, error) {
	res, err := c.Client.UpdateEpic(ctx, key, fields)
	if err != nil {
		return nil, err
	}
	keys := []string{cacheKey(OpGetContainer, key), cacheKey(OpListContainers, "")}
	if project, _, ok := strings.Cut(key, "-"); ok {
		keys = append(keys, cacheKey(OpListContainers, project))
	}
	c.invalidate(ctx, keys...)
	return res, nil
}

func (c *CachedClient) CreateSprint(ctx context.Context, name string, boardID int, startDate, endDate string) (*Result, error) {
	res, err := c.Client.CreateSprint(ctx, name, boardID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, cacheKey(OpListWindows, strconv.Itoa(boardID)), cacheKey(OpListWindows, "0"))
	return res, nil
}

func (c *CachedClient) UpdateSprint(ctx context.Context, sprintID int, fields map[string]interface{}) (*Result, error) {
	res, err := c.Client.UpdateSprint(ctx, sprintID, fields)
	if err != nil {
		return nil, err
	}
	keys := []string{cacheKey(OpGetWindow, strconv.Itoa(sprintID)), cacheKey(OpListWindows, "0")}
	var updated Sprint
	if err := res.Decode(&updated); err == nil && updated.OriginBoardID > 0 {
		keys = append(keys, cacheKey(OpListWindows, strconv.Itoa(updated.OriginBoardID)))
	}
	c.invalidate(ctx, keys...)
	return res, nil
}
