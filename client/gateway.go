package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
)

const refreshPath = "/api/auth/refresh"

// Largest error body kept on an APIError.
const maxErrorBody = 4 << 10

// Gateway sends API requests on behalf of a Store.
type Gateway struct {
	store *Store
}

// Health is the body of GET /api/health.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Do sends a request with the session credential and decodes a JSON response
// into out, which may be nil. body, if not nil, is sent as JSON.
//
// A 401 is answered by refreshing the session and retrying once. Concurrent
// requests share a single refresh, and a request that was rejected with a
// credential that has since been replaced retries without refreshing again.
// When the server rejects the refresh the store is cleared, the navigator is
// sent to the login page and ErrUnauthenticated is returned. A refresh that is
// cancelled or times out leaves the session alone and returns that error.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.WrapPrefix(err, "client: failed to encode request", 0)
		}
		payload = b
	}

	snap := g.store.snapshot()
	resp, err := g.send(ctx, method, path, payload, snap.credential)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && path != refreshPath {
		drain(resp)
		credential, err := g.store.refresh(ctx, snap.version)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				// Cancelled or timed out; the session is left as it was.
				return errors.Wrap(err, 0)
			}
			logging.Infow(ctx, "client: session could not be refreshed", "error", err)
			g.store.expire(ctx)
			return errors.Mark(ErrUnauthenticated, 0)
		}
		resp, err = g.send(ctx, method, path, payload, credential)
		if err != nil {
			return err
		}
	}
	return decode(resp, out)
}

// HealthCheck calls GET /api/health.
func (g *Gateway) HealthCheck(ctx context.Context) (*Health, error) {
	var h Health
	if err := g.Do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// CurrentUser calls GET /api/auth/me.
func (g *Gateway) CurrentUser(ctx context.Context) (*Identity, error) {
	var id Identity
	if err := g.Do(ctx, http.MethodGet, "/api/auth/me", nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, credential string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.store.endpoint(path).String(), body)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	resp, err := g.store.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapPrefix(err, "client: request failed", 0)
	}
	return resp, nil
}

func decode(resp *http.Response, out any) error {
	defer drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil {
			apiErr.Code = e.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WrapPrefix(err, "client: failed to decode response", 0)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
