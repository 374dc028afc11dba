package capture

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"
)

const receivedAtHeaderName = "Ocache-Received-At"

// CapturedResponse is a stored response together with the time it was
// received from the network. The snapshot is immutable once written.
type CapturedResponse struct {
	Response   *http.Response
	ReceivedAt time.Time
}

// ResponseToBytes serializes a response (status line, headers, body) into the
// raw wire format used for cache storage. The receive time is carried in an
// internal header so it survives the round trip.
// The response body remains readable after the call.
func ResponseToBytes(res *http.Response, receivedAt time.Time) ([]byte, error) {
	res.Header.Set(receivedAtHeaderName, strconv.FormatInt(receivedAt.Unix(), 10))
	defer res.Header.Del(receivedAtHeaderName)
	return httputil.DumpResponse(res, true)
}

// BytesToResponse deserializes a stored response. A missing or malformed
// receive-time header yields a zero ReceivedAt rather than an error.
func BytesToResponse(b []byte) (CapturedResponse, error) {
	cRes := CapturedResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return cRes, err
	}
	cRes.Response = res
	if ts, err := strconv.ParseInt(res.Header.Get(receivedAtHeaderName), 10, 64); err == nil {
		cRes.ReceivedAt = time.Unix(ts, 0)
	}
	res.Header.Del(receivedAtHeaderName)
	return cRes, nil
}
