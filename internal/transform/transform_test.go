package transform

import (
	"reflect"
	"testing"

	"github.com/flowkit/connector/internal/expr"
)

type fakeSource struct {
	payload  any
	previous any
	userData map[string]any
}

func (f *fakeSource) Payload() any                  { return f.payload }
func (f *fakeSource) Topic() string                 { return "" }
func (f *fakeSource) TopicLevels() []string         { return nil }
func (f *fakeSource) UserProperties() map[string]any { return nil }
func (f *fakeSource) Previous() any                  { return f.previous }
func (f *fakeSource) SetPrevious(v any)              { f.previous = v }
func (f *fakeSource) UserDataRegion(name string) any {
	if f.userData == nil {
		return nil
	}
	return f.userData[name]
}
func (f *fakeSource) SetUserDataRegion(name string, v any) {
	if f.userData == nil {
		f.userData = map[string]any{}
	}
	f.userData[name] = v
}

func newCtx(src *fakeSource) *expr.Context {
	return expr.NewContext(src)
}

func TestCopy_StaticValueToUserData(t *testing.T) {
	ctx := newCtx(&fakeSource{})
	hello := "hello"
	err := Apply(ctx, []Transform{
		{
			Type:           TypeCopy,
			SourceValue:    hello,
			DestExpression: exprPtr(expr.MustParse("user_data.scratch:greeting")),
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("user_data.scratch:greeting"))
	if got != "hello" {
		t.Errorf("got %v, want hello", got)
	}
}

func TestCopy_MissingSourceYieldsNilDest(t *testing.T) {
	ctx := newCtx(&fakeSource{payload: map[string]any{}})
	err := Apply(ctx, []Transform{
		{
			Type:             TypeCopy,
			SourceExpression: exprPtr(expr.MustParse("input.payload:missing")),
			DestExpression:   exprPtr(expr.MustParse("user_data.scratch:x")),
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("user_data.scratch:x"))
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestAppend_GrowsDestList(t *testing.T) {
	ctx := newCtx(&fakeSource{})
	err := Apply(ctx, []Transform{
		{Type: TypeAppend, SourceValue: "a", DestListExpression: exprPtr(expr.MustParse("user_data.scratch:list"))},
		{Type: TypeAppend, SourceValue: "b", DestListExpression: exprPtr(expr.MustParse("user_data.scratch:list"))},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("user_data.scratch:list"))
	want := []any{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMap_EmptySourceYieldsEmptyDest(t *testing.T) {
	ctx := newCtx(&fakeSource{payload: map[string]any{}})
	err := Apply(ctx, []Transform{
		{
			Type:                 TypeMap,
			SourceListExpression: exprPtr(expr.MustParse("input.payload:missing")),
			DestListExpression:   exprPtr(expr.MustParse("user_data.scratch:out")),
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("user_data.scratch:out"))
	want := []any{}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMap_AppliesProcessingFunction(t *testing.T) {
	src := &fakeSource{payload: map[string]any{"nums": []any{1, 2, 3}}}
	ctx := newCtx(src)
	err := Apply(ctx, []Transform{
		{
			Type:                 TypeMap,
			SourceListExpression: exprPtr(expr.MustParse("input.payload:nums")),
			DestListExpression:   exprPtr(expr.MustParse("user_data.scratch:doubled")),
			ProcessingFunction: func(ectx *expr.Context, val any) (any, error) {
				n, _ := val.(int)
				return n * 2, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("user_data.scratch:doubled"))
	want := []any{2, 4, 6}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReduce_SumsWithInitialValue(t *testing.T) {
	src := &fakeSource{payload: map[string]any{"nums": []any{1, 2, 3}}}
	ctx := newCtx(src)
	err := Apply(ctx, []Transform{
		{
			Type:                 TypeReduce,
			SourceListExpression: exprPtr(expr.MustParse("input.payload:nums")),
			DestExpression:       exprPtr(expr.MustParse("user_data.scratch:total")),
			InitialValue:         0,
			AccumulatorFunction: func(ectx *expr.Context) (any, error) {
				acc, _ := expr.Evaluate(ectx, expr.MustParse("keyword_args:accumulated_value"))
				cur, _ := expr.Evaluate(ectx, expr.MustParse("keyword_args:current_value"))
				a, _ := acc.(int)
				c, _ := cur.(int)
				return a + c, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("user_data.scratch:total"))
	if got != 6 {
		t.Errorf("got %v, want 6", got)
	}
}

func TestFilter_KeepsOnlyMatching(t *testing.T) {
	src := &fakeSource{payload: map[string]any{"nums": []any{1, 2, 3, 4}}}
	ctx := newCtx(src)
	err := Apply(ctx, []Transform{
		{
			Type:                 TypeFilter,
			SourceListExpression: exprPtr(expr.MustParse("input.payload:nums")),
			DestListExpression:   exprPtr(expr.MustParse("user_data.scratch:evens")),
			FilterFunction: func(ectx *expr.Context) (bool, error) {
				cur, _ := expr.Evaluate(ectx, expr.MustParse("keyword_args:current_value"))
				n, _ := cur.(int)
				return n%2 == 0, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("user_data.scratch:evens"))
	want := []any{2, 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApply_EmptyTransformListIsIdentity(t *testing.T) {
	src := &fakeSource{payload: map[string]any{"x": 1}}
	ctx := newCtx(src)
	if err := Apply(ctx, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := expr.Evaluate(ctx, expr.MustParse("input.payload:x"))
	if got != 1 {
		t.Errorf("got %v, want 1", got)
	}
}

func exprPtr(e expr.Expr) *expr.Expr { return &e }
