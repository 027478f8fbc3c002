package core

import (
	"net/http/httptest"
	"strings"
	"time"

	"github.com/Itwoss/pulse/mock"
	"github.com/Itwoss/pulse/repo"
)

// MockClient returns a client wired to an in-process mock gateway with
// an in-memory repo and millisecond timings. The caller is responsible
// for calling Stop on the client and Close on the test server.
func MockClient() (*Client, *mock.Server, *httptest.Server, error) {
	gateway := mock.NewServer()
	ts := httptest.NewServer(gateway.Handler())

	r, err := repo.MockRepo()
	if err != nil {
		ts.Close()
		return nil, nil, nil, err
	}

	c, err := buildClient(r, options{
		gatewayURL:           "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws",
		apiURL:               ts.URL + "/v1",
		pollInterval:         time.Millisecond * 50,
		pollTimeout:          time.Second * 2,
		pageSize:             20,
		reconnectBase:        time.Millisecond * 5,
		reconnectCeiling:     time.Millisecond * 50,
		maxReconnectAttempts: 10,
	})
	if err != nil {
		ts.Close()
		r.Close()
		return nil, nil, nil, err
	}
	return c, gateway, ts, nil
}
