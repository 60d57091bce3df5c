// Package identity resolves subject ids to user profiles through the
// identity service and extracts the acting subject from the request context.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nyakairu/prosa/model"
)

// Actor is the resolved profile of a subject id.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// Client resolves subject ids against the identity service.
type Client interface {
	// Resolve returns the profile for a single subject id.
	Resolve(ctx context.Context, id string) (Actor, error)

	// ResolveBatch returns the profiles for the given subject ids, keyed by
	// id. Ids that cannot be resolved are absent from the result; a partial
	// map is not an error.
	ResolveBatch(ctx context.Context, ids []string) (map[string]Actor, error)
}

// CurrentActorID extracts the acting subject from the request context.
func CurrentActorID(ctx context.Context) (string, error) {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil || rctx.SubjectID == "" {
		return "", model.NewValidationMessageError("acting user could not be determined from the request")
	}
	return rctx.SubjectID, nil
}

// HTTPClient resolves subjects over the identity service REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an identity client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Resolve returns the profile for a single subject id.
func (c *HTTPClient) Resolve(ctx context.Context, id string) (Actor, error) {
	if id == "" {
		return Actor{}, model.NewInvalidArgumentError("subject id is required")
	}

	var out Actor
	path := "/v1/users/" + url.PathEscape(id)
	if err := c.get(ctx, path, &out); err != nil {
		return Actor{}, err
	}
	return out, nil
}

// ResolveBatch resolves multiple subjects in a single request.
func (c *HTTPClient) ResolveBatch(ctx context.Context, ids []string) (map[string]Actor, error) {
	if len(ids) == 0 {
		return map[string]Actor{}, nil
	}

	payload, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("identity: marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/v1/users/batch", strings.NewReader(string(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: batch resolve: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: batch resolve: status %d", resp.StatusCode)
	}

	var actors []Actor
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&actors); err != nil {
		return nil, fmt.Errorf("identity: decode batch response: %w", err)
	}

	result := make(map[string]Actor, len(actors))
	for _, actor := range actors {
		result[actor.ID] = actor
	}
	return result, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.NewNotFoundError("subject not found")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity: request: status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// StaticClient serves profiles from a fixed map. For tests and local runs.
type StaticClient struct {
	actors map[string]Actor
}

// NewStaticClient creates a client serving the given actors.
func NewStaticClient(actors []Actor) *StaticClient {
	m := make(map[string]Actor, len(actors))
	for _, actor := range actors {
		m[actor.ID] = actor
	}
	return &StaticClient{actors: m}
}

// Resolve returns the profile for a single subject id.
func (c *StaticClient) Resolve(_ context.Context, id string) (Actor, error) {
	actor, ok := c.actors[id]
	if !ok {
		return Actor{}, model.NewNotFoundError(fmt.Sprintf("subject %q not found", id))
	}
	return actor, nil
}

// ResolveBatch returns the known subset of the requested ids.
func (c *StaticClient) ResolveBatch(_ context.Context, ids []string) (map[string]Actor, error) {
	result := make(map[string]Actor, len(ids))
	for _, id := range ids {
		if actor, ok := c.actors[id]; ok {
			result[id] = actor
		}
	}
	return result, nil
}
