// Package upstream resolves which provider a base URL belongs to, which
// credential to send it, and which wire dialect it speaks.
package upstream

import (
	"net/http"
	"net/url"
	"strings"
)

// Provider identifies a known upstream vendor. Derived once from the base
// URL host at startup; unmatched hosts are "custom".
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderOpenAI     Provider = "openai"
	ProviderTogether   Provider = "together"
	ProviderGroq       Provider = "groq"
	ProviderAnthropic  Provider = "anthropic"
	ProviderCustom     Provider = "custom"
)

// hostPatterns maps hostname suffixes to provider ids.
var hostPatterns = []struct {
	suffix   string
	provider Provider
}{
	{"openrouter.ai", ProviderOpenRouter},
	{"api.openai.com", ProviderOpenAI},
	{"api.together.xyz", ProviderTogether},
	{"api.groq.com", ProviderGroq},
	{"anthropic.com", ProviderAnthropic},
}

// DetectProvider maps a base URL to a provider id by hostname pattern.
// Unparseable or unrecognized URLs resolve to custom.
func DetectProvider(baseURL string) Provider {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ProviderCustom
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range hostPatterns {
		if host == p.suffix || strings.HasSuffix(host, "."+p.suffix) {
			return p.provider
		}
	}
	return ProviderCustom
}

// providerEnvVars names the provider-specific key variable, checked after
// the explicit config override and before the generic fallbacks.
var providerEnvVars = map[Provider]string{
	ProviderOpenRouter: "OPENROUTER_API_KEY",
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderTogether:   "TOGETHER_API_KEY",
	ProviderGroq:       "GROQ_API_KEY",
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
}

// genericEnvVars are checked last, in order, for any provider.
var genericEnvVars = []string{"CUSTOM_API_KEY", "API_KEY"}

// Credential is a resolved API key and where it came from. Source is either
// "override" or "env:<VAR>"; it names the origin without echoing the key.
type Credential struct {
	Key    string
	Source string
}

// ResolveAPIKey walks the priority chain: explicit override, provider env
// var, generic fallbacks. When nothing matches it returns ok=false along
// with every env var that was checked, so the rejection can name them.
func ResolveAPIKey(provider Provider, override string, getenv func(string) string) (cred Credential, checked []string, ok bool) {
	if override != "" {
		return Credential{Key: override, Source: "override"}, nil, true
	}

	candidates := make([]string, 0, 3)
	if envVar, found := providerEnvVars[provider]; found {
		candidates = append(candidates, envVar)
	}
	candidates = append(candidates, genericEnvVars...)

	for _, envVar := range candidates {
		if value := getenv(envVar); value != "" {
			return Credential{Key: value, Source: "env:" + envVar}, nil, true
		}
	}
	return Credential{}, candidates, false
}

// OpenRouter attributes API traffic to an application through these headers
// and ranks anonymous callers lower.
const (
	openRouterReferer = "https://github.com/florianilch/throne-gateway"
	openRouterTitle   = "Throne Gateway"
)

// SetAttributionHeaders adds the provider-specific attribution headers to an
// outbound request. Only OpenRouter defines any.
func SetAttributionHeaders(h http.Header, provider Provider) {
	if provider != ProviderOpenRouter {
		return
	}
	h.Set("HTTP-Referer", openRouterReferer)
	h.Set("X-Title", openRouterTitle)
}

// NormalizeBaseURL canonicalizes a base URL for cache and override-map keys:
// lowercased scheme and host, no trailing slash.
func NormalizeBaseURL(baseURL string) string {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	return u.String()
}
