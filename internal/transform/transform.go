// Package transform applies the ordered copy/append/map/reduce/filter
// operators to a Message before a component's invoke.
package transform

import (
	"fmt"

	"github.com/flowkit/connector/internal/expr"
)

// Type identifies a transform operator.
type Type string

const (
	TypeCopy   Type = "copy"
	TypeAppend Type = "append"
	TypeMap    Type = "map"
	TypeReduce Type = "reduce"
	TypeFilter Type = "filter"
)

// ProcessingFunc transforms one mapped value; bound at config-resolve
// time from an invoke block using evaluate_expression (see
// internal/config). It receives the per-element Context (item/index
// already bound) and the raw mapped value, returning the final value to
// store.
type ProcessingFunc func(ctx *expr.Context, val any) (any, error)

// AccumulatorFunc folds one element into the running accumulator;
// receives the per-element Context (keyword_args already bound).
type AccumulatorFunc func(ctx *expr.Context) (any, error)

// FilterFunc decides whether to keep one element; receives the
// per-element Context (keyword_args already bound).
type FilterFunc func(ctx *expr.Context) (bool, error)

// Transform is one resolved transform step. Exactly one of
// SourceExpression/SourceValue is set for copy; exactly one of
// DestExpression/DestListExpression is meaningful depending on Type.
type Transform struct {
	Type Type

	// copy / append
	SourceExpression *expr.Expr
	SourceValue      any
	DestExpression   *expr.Expr

	// append / map / reduce / filter (source and dest as lists)
	SourceListExpression *expr.Expr
	DestListExpression   *expr.Expr

	// map
	ProcessingFunction ProcessingFunc

	// reduce
	InitialValue        any
	AccumulatorFunction AccumulatorFunc

	// filter
	FilterFunction FilterFunc
}

// Apply runs each transform in ts, in order, against ctx. An empty list
// is the identity operation on the Message.
func Apply(ctx *expr.Context, ts []Transform) error {
	for i, t := range ts {
		if err := apply(ctx, t); err != nil {
			return fmt.Errorf("transform[%d] (%s): %w", i, t.Type, err)
		}
	}
	return nil
}

func apply(ctx *expr.Context, t Transform) error {
	switch t.Type {
	case TypeCopy:
		return applyCopy(ctx, t)
	case TypeAppend:
		return applyAppend(ctx, t)
	case TypeMap:
		return applyMap(ctx, t)
	case TypeReduce:
		return applyReduce(ctx, t)
	case TypeFilter:
		return applyFilter(ctx, t)
	default:
		return fmt.Errorf("unknown transform type %q", t.Type)
	}
}

func applyCopy(ctx *expr.Context, t Transform) error {
	val, err := sourceValue(ctx, t)
	if err != nil {
		return err
	}
	if t.DestExpression == nil {
		return fmt.Errorf("copy: dest_expression is required")
	}
	return expr.Set(ctx, *t.DestExpression, val)
}

func sourceValue(ctx *expr.Context, t Transform) (any, error) {
	hasExpr := t.SourceExpression != nil
	hasVal := t.SourceValue != nil
	if hasExpr == hasVal {
		return nil, fmt.Errorf("exactly one of source_expression/source_value must be set")
	}
	if hasExpr {
		return expr.Evaluate(ctx, *t.SourceExpression)
	}
	return t.SourceValue, nil
}

func applyAppend(ctx *expr.Context, t Transform) error {
	val, err := sourceValue(ctx, t)
	if err != nil {
		return err
	}
	dest := t.DestListExpression
	if dest == nil {
		dest = t.DestExpression
	}
	if dest == nil {
		return fmt.Errorf("append: dest_list_expression is required")
	}
	existing, err := expr.Evaluate(ctx, *dest)
	if err != nil {
		return err
	}
	list, _ := existing.([]any)
	list = append(list, val)
	return expr.Set(ctx, *dest, list)
}

// asList returns v as a list for iteration; nil (missing source) is
// treated as an empty list.
func asList(v any) []any {
	if v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return nil
}

func applyMap(ctx *expr.Context, t Transform) error {
	if t.SourceListExpression == nil {
		return fmt.Errorf("map: source_list_expression is required")
	}
	if t.DestListExpression == nil {
		return fmt.Errorf("map: dest_list_expression is required")
	}
	srcRoot, err := expr.Evaluate(ctx, *t.SourceListExpression)
	if err != nil {
		return err
	}
	srcList := asList(srcRoot)

	result := make([]any, len(srcList))
	for i, item := range srcList {
		itemCtx := ctx.WithItem(item, i)
		var val any
		if t.SourceExpression != nil {
			val, err = expr.Evaluate(itemCtx, *t.SourceExpression)
			if err != nil {
				return err
			}
		} else {
			val = item
		}
		if t.ProcessingFunction != nil {
			val, err = t.ProcessingFunction(itemCtx, val)
			if err != nil {
				return err
			}
		}
		result[i] = val
	}
	return expr.Set(ctx, *t.DestListExpression, toAnySliceOrNil(result))
}

func toAnySliceOrNil(s []any) any {
	if len(s) == 0 {
		return []any{}
	}
	return s
}

func applyReduce(ctx *expr.Context, t Transform) error {
	if t.SourceListExpression == nil {
		return fmt.Errorf("reduce: source_list_expression is required")
	}
	if t.DestExpression == nil {
		return fmt.Errorf("reduce: dest_expression is required")
	}
	srcRoot, err := expr.Evaluate(ctx, *t.SourceListExpression)
	if err != nil {
		return err
	}
	srcList := asList(srcRoot)

	accumulated := t.InitialValue
	for _, item := range srcList {
		kwCtx := ctx.WithKeywordArgs(map[string]any{
			"accumulated_value": accumulated,
			"current_value":     item,
		})
		if t.AccumulatorFunction == nil {
			return fmt.Errorf("reduce: accumulator_function is required")
		}
		next, err := t.AccumulatorFunction(kwCtx)
		if err != nil {
			return err
		}
		accumulated = next
	}
	return expr.Set(ctx, *t.DestExpression, accumulated)
}

func applyFilter(ctx *expr.Context, t Transform) error {
	if t.SourceListExpression == nil {
		return fmt.Errorf("filter: source_list_expression is required")
	}
	if t.DestListExpression == nil {
		return fmt.Errorf("filter: dest_list_expression is required")
	}
	srcRoot, err := expr.Evaluate(ctx, *t.SourceListExpression)
	if err != nil {
		return err
	}
	srcList := asList(srcRoot)

	result := make([]any, 0, len(srcList))
	for i, item := range srcList {
		kwCtx := ctx.WithKeywordArgs(map[string]any{
			"current_value": item,
			"index":         i,
		})
		if t.FilterFunction == nil {
			return fmt.Errorf("filter: filter_function is required")
		}
		keep, err := t.FilterFunction(kwCtx)
		if err != nil {
			return err
		}
		if keep {
			result = append(result, item)
		}
	}
	return expr.Set(ctx, *t.DestListExpression, toAnySliceOrNil(result))
}
