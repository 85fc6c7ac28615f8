package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// UnknownIP is recorded when the client address cannot be determined
const UnknownIP = pkghttp.UnknownIP

// IPResolver returns a best-effort public address, never an error
type IPResolver interface {
	PublicIP(ctx context.Context) string
}

// HTTPIPLookup queries a public IP-echo endpoint returning {"ip": "..."}
type HTTPIPLookup struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTPIPLookup creates an IP lookup against url
func NewHTTPIPLookup(url string, timeout time.Duration, logger *slog.Logger) *HTTPIPLookup {
	return &HTTPIPLookup{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// PublicIP returns the echoed address or UnknownIP on any failure
func (l *HTTPIPLookup) PublicIP(ctx context.Context) string {
	ip, err := l.lookup(ctx)
	if err != nil {
		l.logger.Debug("ip lookup failed", slog.Any("error", err))
		return UnknownIP
	}
	return ip
}

func (l *HTTPIPLookup) lookup(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if net.ParseIP(body.IP) == nil {
		return "", fmt.Errorf("invalid ip %q", body.IP)
	}
	return body.IP, nil
}
