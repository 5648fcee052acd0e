package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// ClientInfo holds parsed information from a User-Agent string
type ClientInfo struct {
	DeviceType string `json:"device_type"` // mobile, desktop, bot, unknown
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	BrowserVer string `json:"browser_ver"`
	IsBot      bool   `json:"is_bot"`
}

// ParseUserAgent parses a User-Agent string
func ParseUserAgent(userAgent string) ClientInfo {
	if strings.TrimSpace(userAgent) == "" {
		return ClientInfo{DeviceType: "unknown", OS: "Unknown", Browser: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()
	if name == "" {
		name = "Unknown"
	}

	info := ClientInfo{
		OS:         osName(parser),
		Browser:    name,
		BrowserVer: version,
		IsBot:      parser.Bot(),
		DeviceType: "desktop",
	}
	switch {
	case info.IsBot:
		info.DeviceType = "bot"
	case parser.Mobile():
		info.DeviceType = "mobile"
	}
	return info
}

// Summary renders the client as "Browser Major on OS (device)"
func (c ClientInfo) Summary() string {
	if c.DeviceType == "unknown" {
		return ""
	}
	browser := c.Browser
	if major, _, _ := strings.Cut(c.BrowserVer, "."); major != "" {
		browser += " " + major
	}
	return browser + " on " + c.OS + " (" + c.DeviceType + ")"
}

// SummarizeUserAgent is ParseUserAgent(userAgent).Summary()
func SummarizeUserAgent(userAgent string) string {
	return ParseUserAgent(userAgent).Summary()
}

func osName(parser *ua.UserAgent) string {
	osInfo := parser.OSInfo()
	if osInfo.Name == "" {
		return "Unknown"
	}
	if osInfo.Version != "" {
		return osInfo.Name + " " + osInfo.Version
	}
	return osInfo.Name
}
