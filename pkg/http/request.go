package http

import (
	"net"
	"net/http"
	"strings"
)

// Headers the admin panel sends alongside a login so the monitor can
// fingerprint the device and compare timezones
const (
	HeaderClientTimezone = "X-Client-Timezone"
	HeaderClientPlatform = "Sec-CH-UA-Platform"
	maxHeaderValueLength = 256
)

// UnknownIP stands in for a client address that could not be determined
const UnknownIP = "unknown"

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ClientHints describes the caller of a request
type ClientHints struct {
	IPAddress      string
	UserAgent      string
	AcceptLanguage string
	Platform       string
	Timezone       string
}

// ExtractClientHints collects the caller's IP and the device headers used
// for fingerprinting. Header values are truncated to a bounded length.
func ExtractClientHints(r *http.Request, config *IPConfig) ClientHints {
	return ClientHints{
		IPAddress:      ExtractClientIP(r, config),
		UserAgent:      boundedHeader(r, "User-Agent"),
		AcceptLanguage: boundedHeader(r, "Accept-Language"),
		Platform:       strings.Trim(boundedHeader(r, HeaderClientPlatform), `"`),
		Timezone:       boundedHeader(r, HeaderClientTimezone),
	}
}

func boundedHeader(r *http.Request, name string) string {
	v := strings.TrimSpace(r.Header.Get(name))
	if len(v) > maxHeaderValueLength {
		v = v[:maxHeaderValueLength]
	}
	return v
}

// ExtractClientIP extracts the real client IP address from the request.
// X-Forwarded-For and X-Real-IP are honoured only when RemoteAddr is a
// trusted proxy; otherwise RemoteAddr is used.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config == nil || !isTrustedProxy(remoteIP, config.TrustedProxies) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if isValidIP(ip) {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); isValidIP(xri) {
		return xri
	}

	return remoteIP
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return UnknownIP
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
