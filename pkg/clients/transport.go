package clients

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig bounds the connections one downstream client may hold.
type PoolConfig struct {
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleTimeout         time.Duration
	DialTimeout         time.Duration
}

// DefaultPool caps a single downstream at 100 open and 10 idle connections.
func DefaultPool() PoolConfig {
	return PoolConfig{
		MaxConnsPerHost:     100,
		MaxIdleConnsPerHost: 10,
		IdleTimeout:         90 * time.Second,
		DialTimeout:         10 * time.Second,
	}
}

// NewHTTPClient returns a client whose requests time out after timeout and
// whose connections are drawn from a pool bounded by pool.
func NewHTTPClient(timeout time.Duration, pool PoolConfig) *http.Client {
	dialer := &net.Dialer{Timeout: pool.DialTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxConnsPerHost:       pool.MaxConnsPerHost,
			MaxIdleConnsPerHost:   pool.MaxIdleConnsPerHost,
			MaxIdleConns:          pool.MaxConnsPerHost,
			IdleConnTimeout:       pool.IdleTimeout,
			TLSHandshakeTimeout:   pool.DialTimeout,
			ExpectContinueTimeout: time.Second,
		},
	}
}
