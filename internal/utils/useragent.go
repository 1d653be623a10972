package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
	"github.com/tourhub/tour-booking-core/internal/models"
)

// appUserAgentMarkers identify requests sent by the native mobile apps
var appUserAgentMarkers = []string{
	"okhttp",
	"dart:io",
	"cfnetwork",
	"tourhub-app",
}

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent parses a User-Agent string and extracts device information
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" {
		return DeviceInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	browser, _ := parser.Browser()
	if browser == "" {
		browser = "Unknown"
	}
	os := parser.OSInfo().Name
	if os == "" {
		os = "Unknown"
	}

	info := DeviceInfo{
		OS:      os,
		Browser: browser,
		IsBot:   parser.Bot(),
	}
	switch {
	case parser.Mobile() && strings.Contains(strings.ToLower(userAgent), "ipad"):
		info.DeviceType = "tablet"
	case parser.Mobile():
		info.DeviceType = "mobile"
	default:
		info.DeviceType = "desktop"
	}
	return info
}

// BookingChannel classifies a request as coming from the mobile app or the
// website. Anything that does not look like either is unknown.
func BookingChannel(userAgent string) models.BookingChannel {
	lower := strings.ToLower(strings.TrimSpace(userAgent))
	if lower == "" {
		return models.ChannelUnknown
	}
	for _, marker := range appUserAgentMarkers {
		if strings.Contains(lower, marker) {
			return models.ChannelApp
		}
	}

	parser := ua.New(userAgent)
	if parser.Bot() {
		return models.ChannelUnknown
	}
	if name, _ := parser.Browser(); name != "" && parser.OSInfo().Name != "" {
		return models.ChannelWeb
	}
	return models.ChannelUnknown
}
