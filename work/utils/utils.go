package utils

import (
	"fmt"
	"net/url"
)

// LogURLWithFlag returns either the original URL or an obfuscated version for
// logging, depending on the obfuscateUrls setting the caller carries.
func LogURLWithFlag(obfuscate bool, url string) string {
	if obfuscate {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL keeps scheme and host and masks path, query and fragment.
// Upstream media URLs carry signed query strings that must not end up in logs.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// FormatBytes renders a byte count with a binary unit suffix
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
