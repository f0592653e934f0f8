package platform

import (
	"strings"
)

// DefaultAPIPath is the path of the API root on the server.
const DefaultAPIPath = "/v2-beta"

// BuildAPIURL joins a base URL, the API path and a sub-path without
// doubling slashes.
func BuildAPIURL(base, apiPath, path string) string {
	base = strings.TrimSuffix(base, "/")
	if apiPath == "" {
		apiPath = DefaultAPIPath
	}
	if !strings.HasPrefix(apiPath, "/") {
		apiPath = "/" + apiPath
	}
	apiPath = strings.TrimSuffix(apiPath, "/")
	if path == "" {
		return base + apiPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + apiPath + path
}

// BuildIndexURL returns the API root URL
func BuildIndexURL(base, apiPath string) string {
	return BuildAPIURL(base, apiPath, "")
}

// BuildTokenURL returns the token endpoint URL
func BuildTokenURL(base, apiPath string) string {
	return BuildAPIURL(base, apiPath, "/token")
}

// BuildAPIKeyURL returns the API key endpoint URL
func BuildAPIKeyURL(base, apiPath string) string {
	return BuildAPIURL(base, apiPath, "/apikey")
}
