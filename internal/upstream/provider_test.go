package upstream

import "testing"

func TestDetectProvider(t *testing.T) {
	cases := []struct {
		baseURL string
		want    Provider
	}{
		{"https://openrouter.ai/api/v1", ProviderOpenRouter},
		{"https://api.openai.com/v1", ProviderOpenAI},
		{"https://api.together.xyz/v1", ProviderTogether},
		{"https://api.groq.com/openai/v1", ProviderGroq},
		{"https://api.anthropic.com/v1", ProviderAnthropic},
		{"https://llm.internal.corp/v1", ProviderCustom},
		{"not a url", ProviderCustom},
	}
	for _, tc := range cases {
		if got := DetectProvider(tc.baseURL); got != tc.want {
			t.Errorf("DetectProvider(%q) = %q, want %q", tc.baseURL, got, tc.want)
		}
	}
}

func TestResolveAPIKeyPriorityChain(t *testing.T) {
	env := map[string]string{
		"OPENROUTER_API_KEY": "from-provider-env",
		"API_KEY":            "from-generic",
	}
	getenv := func(k string) string { return env[k] }

	cred, _, ok := ResolveAPIKey(ProviderOpenRouter, "from-override", getenv)
	if !ok || cred.Key != "from-override" || cred.Source != "override" {
		t.Errorf("override should win: %+v", cred)
	}

	cred, _, ok = ResolveAPIKey(ProviderOpenRouter, "", getenv)
	if !ok || cred.Key != "from-provider-env" || cred.Source != "env:OPENROUTER_API_KEY" {
		t.Errorf("provider env should beat generic: %+v", cred)
	}

	delete(env, "OPENROUTER_API_KEY")
	cred, _, ok = ResolveAPIKey(ProviderOpenRouter, "", getenv)
	if !ok || cred.Key != "from-generic" || cred.Source != "env:API_KEY" {
		t.Errorf("generic fallback should apply: %+v", cred)
	}
}

func TestResolveAPIKeyMissingListsEveryVarChecked(t *testing.T) {
	_, checked, ok := ResolveAPIKey(ProviderGroq, "", func(string) string { return "" })
	if ok {
		t.Fatal("expected resolution failure")
	}
	want := []string{"GROQ_API_KEY", "CUSTOM_API_KEY", "API_KEY"}
	if len(checked) != len(want) {
		t.Fatalf("checked = %v, want %v", checked, want)
	}
	for i := range want {
		if checked[i] != want[i] {
			t.Errorf("checked[%d] = %q, want %q", i, checked[i], want[i])
		}
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"HTTPS://OpenRouter.AI/api/v1/", "https://openrouter.ai/api/v1"},
		{"https://host/v1", "https://host/v1"},
		{"  https://host/v1/ ", "https://host/v1"},
	}
	for _, tc := range cases {
		if got := NormalizeBaseURL(tc.in); got != tc.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
