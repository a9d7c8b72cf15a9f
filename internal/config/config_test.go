package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowkit/connector/internal/config/invoke"
	"github.com/flowkit/connector/internal/expr"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("apps: []\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("apps:\n  - name: demo\n    config:\n      token: ${CONNECTOR_TEST_TOKEN}\n"), 0600)
	os.Setenv("CONNECTOR_TEST_TOKEN", "secret123")
	defer os.Unsetenv("CONNECTOR_TEST_TOKEN")

	root, err := Load([]string{path}, invoke.DefaultRegistry())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(root.Apps) != 1 {
		t.Fatalf("got %d apps, want 1", len(root.Apps))
	}
	if root.Apps[0].Config["token"] != "secret123" {
		t.Errorf("token = %v, want secret123", root.Apps[0].Config["token"])
	}
}

func TestLoad_MergesMultipleDocuments(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	override := filepath.Join(dir, "override.yaml")
	os.WriteFile(base, []byte("apps:\n  - name: demo\n    config:\n      a: 1\n      b: 2\n"), 0600)
	os.WriteFile(override, []byte("apps:\n  - name: demo\n    config:\n      b: 20\n"), 0600)

	root, err := Load([]string{base, override}, invoke.DefaultRegistry())
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	// NOTE: "apps" is a sequence so the second document's apps list
	// replaces the first wholesale; merging within one app's fields
	// across documents is exercised at the map level (see TestMergeDocuments).
	if len(root.Apps) != 1 {
		t.Fatalf("got %d apps, want 1", len(root.Apps))
	}
}

func TestMergeDocuments_MapUnionSequenceReplace(t *testing.T) {
	a := map[string]any{
		"config": map[string]any{"a": 1, "b": 2},
		"list":   []any{1, 2, 3},
	}
	b := map[string]any{
		"config": map[string]any{"b": 20, "c": 3},
		"list":   []any{9},
	}
	merged := MergeDocuments([]map[string]any{a, b})

	cfg := merged["config"].(map[string]any)
	if cfg["a"] != 1 || cfg["b"] != 20 || cfg["c"] != 3 {
		t.Errorf("config merge = %v", cfg)
	}
	list := merged["list"].([]any)
	if len(list) != 1 || list[0] != 9 {
		t.Errorf("list = %v, want replaced by second document", list)
	}
}

func TestExpandEnv_WithDefault(t *testing.T) {
	os.Unsetenv("CONNECTOR_UNSET_VAR")
	got := ExpandEnv("value: ${CONNECTOR_UNSET_VAR, fallback}")
	if got != "value: fallback" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnv_SetValueWinsOverDefault(t *testing.T) {
	os.Setenv("CONNECTOR_SET_VAR", "real")
	defer os.Unsetenv("CONNECTOR_SET_VAR")
	got := ExpandEnv("value: ${CONNECTOR_SET_VAR, fallback}")
	if got != "value: real" {
		t.Errorf("got %q", got)
	}
}

func TestResolveRawValue_ImmediateInvokeCall(t *testing.T) {
	reg := invoke.DefaultRegistry()
	raw := map[string]any{
		"function": "strings.join",
		"params": map[string]any{
			"positional": []any{"a", "b"},
			"keyword":    map[string]any{"sep": "-"},
		},
	}
	v, err := ResolveRawValue(raw, reg)
	if err != nil {
		t.Fatalf("ResolveRawValue: %v", err)
	}
	if v != "a-b" {
		t.Errorf("got %v, want a-b", v)
	}
}

func TestResolveRawValue_EvaluateExpressionIsDeferred(t *testing.T) {
	reg := invoke.DefaultRegistry()
	raw := map[string]any{
		"function": "evaluate_expression",
		"params": map[string]any{
			"positional": []any{"previous:count", "int"},
		},
	}
	v, err := ResolveRawValue(raw, reg)
	if err != nil {
		t.Fatalf("ResolveRawValue: %v", err)
	}
	de, ok := v.(DeferredExpr)
	if !ok {
		t.Fatalf("got %T, want DeferredExpr", v)
	}
	if de.Type != "int" {
		t.Errorf("got type %q, want int", de.Type)
	}
}

func TestResolveRawValue_InvokeWithDeferredArgBecomesDeferredInvoke(t *testing.T) {
	reg := invoke.DefaultRegistry()
	raw := map[string]any{
		"function": "strings.join",
		"params": map[string]any{
			"positional": []any{
				map[string]any{
					"function": "evaluate_expression",
					"params":   map[string]any{"positional": []any{"previous:name"}},
				},
				"suffix",
			},
		},
	}
	v, err := ResolveRawValue(raw, reg)
	if err != nil {
		t.Fatalf("ResolveRawValue: %v", err)
	}
	if _, ok := v.(DeferredInvoke); !ok {
		t.Fatalf("got %T, want DeferredInvoke", v)
	}
}

type fakeSource struct {
	previous any
}

func (f *fakeSource) Payload() any                         { return nil }
func (f *fakeSource) Topic() string                        { return "" }
func (f *fakeSource) TopicLevels() []string                 { return nil }
func (f *fakeSource) UserProperties() map[string]any        { return nil }
func (f *fakeSource) Previous() any                         { return f.previous }
func (f *fakeSource) SetPrevious(v any)                     { f.previous = v }
func (f *fakeSource) UserDataRegion(name string) any        { return nil }
func (f *fakeSource) SetUserDataRegion(name string, v any) {}

func TestResolveConfigValue_DeferredInvokeCallsAtCallSite(t *testing.T) {
	reg := invoke.DefaultRegistry()
	raw := map[string]any{
		"function": "strings.join",
		"params": map[string]any{
			"positional": []any{
				map[string]any{
					"function": "evaluate_expression",
					"params":   map[string]any{"positional": []any{"previous:name"}},
				},
				"suffix",
			},
			"keyword": map[string]any{"sep": "-"},
		},
	}
	v, err := ResolveRawValue(raw, reg)
	if err != nil {
		t.Fatalf("ResolveRawValue: %v", err)
	}
	ctx := expr.NewContext(&fakeSource{previous: map[string]any{"name": "world"}})
	result, err := ResolveConfigValue(ctx, v)
	if err != nil {
		t.Fatalf("ResolveConfigValue: %v", err)
	}
	if result != "world-suffix" {
		t.Errorf("got %v, want world-suffix", result)
	}
}

func TestBuildRoot_TopLevelFlowsBackwardCompat(t *testing.T) {
	raw := map[string]any{
		"flows": []any{
			map[string]any{
				"name": "legacy",
				"components": []any{
					map[string]any{"name": "c1", "component_module": "noop"},
				},
			},
		},
	}
	root, err := BuildRoot(raw, invoke.DefaultRegistry())
	if err != nil {
		t.Fatalf("BuildRoot: %v", err)
	}
	if len(root.Apps) != 1 || root.Apps[0].Name != "default" {
		t.Fatalf("got apps %+v", root.Apps)
	}
	if len(root.Apps[0].Flows) != 1 || root.Apps[0].Flows[0].Name != "legacy" {
		t.Fatalf("got flows %+v", root.Apps[0].Flows)
	}
}

func TestValidateFlow_RejectsFirstComponentSelectingPrevious(t *testing.T) {
	flow := Flow{
		Name: "f",
		Components: []Component{
			{Name: "first", InputSelection: expr.MustParse("previous:x")},
		},
	}
	if err := validateFlow(flow); err == nil {
		t.Fatal("expected error for first component selecting previous")
	}
}

func TestValidateApp_RequestReplyRequiresBrokerURL(t *testing.T) {
	app := App{
		Name:         "a",
		NumInstances: 1,
		Broker:       &Broker{RequestReplyEnabled: true},
	}
	if err := validateApp(app); err == nil {
		t.Fatal("expected error for request_reply_enabled without broker_url")
	}
}

func TestValidateApp_RejectsNonPositiveNumInstances(t *testing.T) {
	for _, n := range []int{0, -1} {
		app := App{Name: "a", NumInstances: n}
		if err := validateApp(app); err == nil {
			t.Errorf("num_instances=%d: expected rejection, got nil", n)
		}
	}
}

func TestValidateComponent_RejectsNonPositiveNumInstances(t *testing.T) {
	for _, n := range []int{0, -1} {
		comp := Component{Name: "c", NumInstances: n}
		if err := validateComponent(comp); err == nil {
			t.Errorf("num_instances=%d: expected rejection, got nil", n)
		}
	}
}

func TestValidateComponent_AcceptsPositiveNumInstances(t *testing.T) {
	if err := validateComponent(Component{Name: "c", NumInstances: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildComponent_RejectsExplicitZeroNumInstances(t *testing.T) {
	_, err := buildComponent(map[string]any{
		"name":          "c1",
		"num_instances": 0,
	}, invoke.DefaultRegistry())
	if err == nil {
		t.Fatal("expected error for explicit num_instances: 0")
	}
}
