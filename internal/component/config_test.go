package component

import (
	"testing"

	"github.com/flowkit/connector/internal/config"
	"github.com/flowkit/connector/internal/expr"
	"github.com/flowkit/connector/internal/message"
)

func TestGetConfig_ComponentConfigWinsOverAppConfig(t *testing.T) {
	c := &Component{
		ComponentConfig: map[string]any{"timeout": 5},
		AppConfig:       map[string]any{"timeout": 10},
	}
	v, err := c.GetConfig(nil, "timeout", 0)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if v != 5 {
		t.Errorf("got %v, want 5", v)
	}
}

func TestGetConfig_FallsBackToAppConfig(t *testing.T) {
	c := &Component{
		ComponentConfig: map[string]any{},
		AppConfig:       map[string]any{"timeout": 10},
	}
	v, err := c.GetConfig(nil, "timeout", 0)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if v != 10 {
		t.Errorf("got %v, want 10", v)
	}
}

func TestGetConfig_FallsBackToStaticDefault(t *testing.T) {
	c := &Component{}
	v, err := c.GetConfig(nil, "timeout", 30)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if v != 30 {
		t.Errorf("got %v, want 30", v)
	}
}

func TestGetConfig_EvaluatesDeferredExpressionAgainstContext(t *testing.T) {
	c := &Component{
		ComponentConfig: map[string]any{
			"greeting": config.DeferredExpr{Expr: expr.MustParse("previous:name")},
		},
	}
	msg := message.New(nil, "", nil)
	msg.SetPrevious(map[string]any{"name": "world"})
	ctx := expr.NewContext(msg)

	v, err := c.GetConfig(ctx, "greeting", nil)
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if v != "world" {
		t.Errorf("got %v, want world", v)
	}
}
