package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTTL is used when a response carries no usable Expires header.
const DefaultTTL = 2 * time.Minute

// ResponseToEntry reads resp into a CacheEntry. The body is restored so the
// caller can still consume it.
func ResponseToEntry(resp *http.Response) (*CacheEntry, error) {
	if resp == nil {
		return nil, errors.New("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &CacheEntry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		CachedAt:   time.Now(),
		Expires:    parseExpires(resp.Header),
	}

	if v := resp.Header.Get("Last-Modified"); v != "" {
		if lastMod, err := http.ParseTime(v); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, nil
}

// EntryToResponse builds a response for req from a cached entry. It is used
// to answer a 304 with the stored body.
func EntryToResponse(req *http.Request, entry *CacheEntry) *http.Response {
	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Cache", "revalidated")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}

func parseExpires(headers http.Header) time.Time {
	now := time.Now()

	v := headers.Get("Expires")
	if v == "" {
		return now.Add(DefaultTTL)
	}
	expires, err := http.ParseTime(v)
	if err != nil {
		return now.Add(DefaultTTL)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

// AddConditionalHeaders sets If-None-Match, or If-Modified-Since when the
// entry has no ETag. It reports whether a header was added.
func AddConditionalHeaders(req *http.Request, entry *CacheEntry) bool {
	if req == nil || !entry.CanRevalidate() {
		return false
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
	ConditionalRequestsSent.Inc()
	return true
}
