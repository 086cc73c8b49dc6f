package match

import "testing"

func TestCompileClassifiesShapes(t *testing.T) {
	cases := []struct {
		spec string
		kind Kind
	}{
		{"deepseek-chat", Literal},
		{"mistral-7b*", Glob},
		{"/^llama-\\d+b$/i", Regex},
	}
	for _, tc := range cases {
		p, err := Compile(tc.spec)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tc.spec, err)
		}
		if p.Kind() != tc.kind {
			t.Errorf("Compile(%q) kind = %d, want %d", tc.spec, p.Kind(), tc.kind)
		}
	}
}

func TestLiteralMatchesCaseInsensitively(t *testing.T) {
	p, _ := Compile("DeepSeek-Chat")
	if !p.Matches("deepseek-chat") {
		t.Error("literal should match case-insensitively")
	}
	if p.Matches("deepseek-chat-v2") {
		t.Error("literal must not match a prefix")
	}
}

func TestGlobMatchesWholeString(t *testing.T) {
	p, _ := Compile("mistral-7b*")
	if !p.Matches("mistral-7b-instruct") {
		t.Error("glob should match suffix wildcard")
	}
	if p.Matches("open-mistral-7b") {
		t.Error("glob is anchored, prefix text must not match")
	}
}

func TestRegexLiteralWithFlags(t *testing.T) {
	p, err := Compile("/qwen[0-9.]+/i")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !p.Matches("Qwen2.5-coder") {
		t.Error("regex with i flag should match mixed case")
	}
}

func TestCompileRejectsMalformedInput(t *testing.T) {
	for _, spec := range []string{"", "/unterminated", "/re/x", "/(/"} {
		if _, err := Compile(spec); err == nil {
			t.Errorf("Compile(%q) should fail", spec)
		}
	}
}

func TestAny(t *testing.T) {
	patterns, err := CompileAll([]string{"calc-model", "glm-*"})
	if err != nil {
		t.Fatalf("CompileAll: %v", err)
	}
	if !Any(patterns, "glm-4-flash") {
		t.Error("expected glob hit")
	}
	if Any(patterns, "gpt-4o") {
		t.Error("unexpected hit")
	}
}
