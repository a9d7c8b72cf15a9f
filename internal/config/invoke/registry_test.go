package invoke

import "testing"

func TestRegistry_CallUnqualifiedFunction(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunction("double", func(_ any, positional []any, _ map[string]any) (any, error) {
		n, _ := positional[0].(int)
		return n * 2, nil
	})
	v, err := r.Call("", "double", nil, []any{21}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != 42 {
		t.Errorf("got %v, want 42", v)
	}
}

func TestRegistry_CallQualifiedFunction(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunction("math.double", func(_ any, positional []any, _ map[string]any) (any, error) {
		n, _ := positional[0].(int)
		return n * 2, nil
	})
	if _, err := r.Call("math", "double", nil, []any{1}, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, err := r.Call("", "double", nil, []any{1}, nil); err == nil {
		t.Fatal("expected error calling unqualified name for a qualified-only registration")
	}
}

func TestRegistry_UnknownFunctionErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Call("", "missing", nil, nil, nil); err == nil {
		t.Fatal("expected error for unknown function")
	}
}

func TestRegistry_Attribute(t *testing.T) {
	r := NewRegistry()
	r.RegisterAttribute("client.name", func(obj any) (any, error) {
		return "demo", nil
	})
	v, err := r.Attribute("client", "name", nil)
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if v != "demo" {
		t.Errorf("got %v, want demo", v)
	}
}

func TestDefaultRegistry_EnvGet(t *testing.T) {
	t.Setenv("INVOKE_TEST_VAR", "hello")
	r := DefaultRegistry()
	v, err := r.Call("env", "get", nil, []any{"INVOKE_TEST_VAR"}, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != "hello" {
		t.Errorf("got %v, want hello", v)
	}
}

func TestDefaultRegistry_StringsJoin(t *testing.T) {
	r := DefaultRegistry()
	v, err := r.Call("strings", "join", nil, []any{"a", "b", "c"}, map[string]any{"sep": ","})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v != "a,b,c" {
		t.Errorf("got %v, want a,b,c", v)
	}
}
