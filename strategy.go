package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	capture "github.com/gamble-king/offline-cache/pkg/response-capture"
)

// Do intercepts one outbound request: it classifies the request and hands it
// to exactly one caching strategy. A strategy failure resolves to a response
// or an error for this one request only; it never takes down the agent.
func (a *Agent) Do(r *http.Request) (*http.Response, error) {
	class := a.routes.Classify(r)
	a.log.Trace().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("class", string(class)).
		Msg("Routing request")
	switch class {
	case ClassBypass:
		return a.bypass(r)
	case ClassAPI, ClassNavigation:
		return a.networkFirst(r, class)
	case ClassStatic:
		return a.staleWhileRevalidate(r)
	default:
		return a.cacheOrNetwork(r)
	}
}

// ServeHTTP implements the http.Handler interface on top of Do.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := a.Do(r)
	if err != nil {
		http.Error(w, "Could not get response", http.StatusBadGateway)
		return
	}
	if err := send(w, res); err != nil {
		a.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// networkFirst tries the network and keeps the cache up to date with every
// successful response. On network failure it falls back to the cache; an API
// request with no cached fallback gets a structured unavailable response
// rather than a raw failure.
func (a *Agent) networkFirst(r *http.Request, class RequestClass) (*http.Response, error) {
	res, err := a.fetch(r)
	if err == nil {
		a.store(r, res)
		return res, nil
	}
	a.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network failed, trying cache")
	if cached, ok := a.lookup(r); ok {
		return cached, nil
	}
	if class == ClassAPI {
		return unavailableResponse(r), nil
	}
	return nil, err
}

// staleWhileRevalidate serves a cached response immediately when present and
// refreshes the cache in a detached background fetch that the caller never
// waits for. The refresh races against later requests for the same key;
// last write wins. A cache miss falls back to a normal awaited fetch.
func (a *Agent) staleWhileRevalidate(r *http.Request) (*http.Response, error) {
	if cached, ok := a.lookup(r); ok {
		revalidate := r.Clone(context.Background())
		revalidate.Body = nil
		go func() {
			res, err := a.fetch(revalidate)
			if err != nil {
				a.log.Debug().Err(err).Str("url", revalidate.URL.String()).Msg("Background refresh failed")
				return
			}
			defer res.Body.Close()
			a.store(revalidate, res)
		}()
		return cached, nil
	}
	res, err := a.fetch(r)
	if err != nil {
		return nil, err
	}
	a.store(r, res)
	return res, nil
}

// cacheOrNetwork serves from cache when present; a hit is terminal and
// triggers no refresh. A miss fetches from the network and caches the result.
func (a *Agent) cacheOrNetwork(r *http.Request) (*http.Response, error) {
	if cached, ok := a.lookup(r); ok {
		return cached, nil
	}
	res, err := a.fetch(r)
	if err != nil {
		return nil, err
	}
	a.store(r, res)
	return res, nil
}

// bypass forwards to the network unconditionally and never touches the cache.
func (a *Agent) bypass(r *http.Request) (*http.Response, error) {
	return a.fetch(r)
}

// fetch issues the request against the origin. The client enforces the
// configured timeout, and a timeout surfaces as an ordinary network error.
func (a *Agent) fetch(r *http.Request) (*http.Response, error) {
	target := a.origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	})
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Host = a.origin.Host
	return a.client.Do(req)
}

// store writes the response into the current cache generation under the
// request's key. Only successful responses are stored. The response body
// remains readable afterwards.
func (a *Agent) store(r *http.Request, res *http.Response) {
	if res.StatusCode != http.StatusOK {
		a.log.Trace().
			Str("key", cacheKey(r)).
			Int("http-status", res.StatusCode).
			Msg("Non-cacheable response")
		return
	}
	bytes, err := capture.ResponseToBytes(res, time.Now())
	if err != nil {
		a.log.Error().Err(err).Str("key", cacheKey(r)).Msg("Could not serialize response")
		return
	}
	key := cacheKey(r)
	if err := a.cache.Put(a.generation, key, bytes); err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return
	}
	a.log.Trace().Str("key", key).Msg("Cache write")
}

// lookup reads the request's key from the current generation. A corrupted
// entry is purged and reported as a miss.
func (a *Agent) lookup(r *http.Request) (*http.Response, bool) {
	key := cacheKey(r)
	bytes, ok, err := a.cache.Get(a.generation, key)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	stored, err := capture.BytesToResponse(bytes)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		a.cache.Purge(a.generation, key)
		return nil, false
	}
	a.log.Trace().Str("key", key).Msg("Cache hit")
	stored.Response.Header.Set("Cache-Status", "offline-cache; hit")
	return stored.Response, true
}

// cacheKey is the request descriptor used as the cache key.
func cacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}

// unavailableResponse synthesizes the structured response an API caller gets
// when the network is down and nothing is cached.
func unavailableResponse(r *http.Request) *http.Response {
	body := `{"error":"service unavailable","offline":true}`
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Cache-Status", "offline-cache; fwd=unavailable")
	return &http.Response{
		Status:        http.StatusText(http.StatusServiceUnavailable),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

func send(w http.ResponseWriter, r *http.Response) error {
	defer r.Body.Close()
	copyHeader(w.Header(), r.Header)
	w.WriteHeader(r.StatusCode)
	_, err := io.Copy(w, r.Body)
	return err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
