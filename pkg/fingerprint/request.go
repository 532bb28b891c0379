package fingerprint

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Data contains the components used to build a raw device fingerprint
type Data struct {
	UserAgent        string
	AcceptHeaders    string
	Timezone         string
	ScreenResolution string
	DeviceID         string // For mobile devices
	IsMobile         bool   // Flag to indicate if this is a mobile device
}

// Generate builds the raw fingerprint string for a device.
// For web: User-Agent, Accept headers, timezone and screen resolution.
// For mobile: the device ID only.
func Generate(data Data) string {
	if data.IsMobile && data.DeviceID != "" {
		return data.DeviceID
	}
	return fmt.Sprintf("%s|%s|%s|%s",
		data.UserAgent,
		data.AcceptHeaders,
		data.Timezone,
		data.ScreenResolution,
	)
}

// FromRequest extracts fingerprint data from an HTTP request
func FromRequest(r *http.Request) Data {
	deviceID := r.Header.Get("X-Device-ID")
	isMobile := deviceID != ""

	acceptHeaders := r.Header.Get("Accept") + "|" +
		r.Header.Get("Accept-Language") + "|" +
		r.Header.Get("Accept-Encoding")

	if !isMobile && isMobileUserAgent(r.UserAgent()) {
		slog.Warn("Mobile user agent without a device ID header")
		isMobile = true
	}

	return Data{
		UserAgent:        r.UserAgent(),
		AcceptHeaders:    acceptHeaders,
		Timezone:         r.Header.Get("Timezone"),
		ScreenResolution: r.Header.Get("Screen-Resolution"),
		DeviceID:         deviceID,
		IsMobile:         isMobile,
	}
}

// isMobileUserAgent checks if the user agent string indicates a mobile device
func isMobileUserAgent(userAgent string) bool {
	userAgentLower := strings.ToLower(userAgent)
	mobileKeywords := []string{
		"android", "iphone", "ipad", "ipod", "windows phone", "blackberry",
		"mobile", "tablet", "opera mini", "opera mobi",
	}

	for _, keyword := range mobileKeywords {
		if strings.Contains(userAgentLower, keyword) {
			return true
		}
	}
	return false
}
