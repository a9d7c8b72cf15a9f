package config

import (
	"fmt"

	"github.com/flowkit/connector/internal/config/invoke"
	"github.com/flowkit/connector/internal/expr"
	"github.com/flowkit/connector/internal/transform"
)

// BuildRoot converts a merged, invoke-resolved raw document tree into a
// Root. Top-level "flows:" (backward-compatible form) is folded into a
// single synthetic app named "default".
func BuildRoot(raw map[string]any, reg *invoke.Registry) (*Root, error) {
	root := &Root{
		Log:   buildLogConfig(getMap(raw, "log")),
		Trace: buildTraceConfig(getMap(raw, "trace")),
	}

	rawApps, _ := raw["apps"].([]any)
	for i, ra := range rawApps {
		m, ok := ra.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("apps[%d]: expected a mapping", i)
		}
		app, err := buildApp(m, reg)
		if err != nil {
			return nil, fmt.Errorf("apps[%d] (%s): %w", i, getString(m, "name"), err)
		}
		root.Apps = append(root.Apps, app)
	}

	if rawFlows, ok := raw["flows"].([]any); ok && len(rawFlows) > 0 {
		app := App{Name: "default", NumInstances: 1}
		for i, rf := range rawFlows {
			fm, ok := rf.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("flows[%d]: expected a mapping", i)
			}
			flow, err := buildFlow(fm, reg)
			if err != nil {
				return nil, fmt.Errorf("flows[%d] (%s): %w", i, getString(fm, "name"), err)
			}
			app.Flows = append(app.Flows, flow)
		}
		root.Apps = append(root.Apps, app)
	}

	if rawErrorFlow, ok := raw["error_flow"].(map[string]any); ok {
		ef, err := buildFlow(rawErrorFlow, reg)
		if err != nil {
			return nil, fmt.Errorf("error_flow: %w", err)
		}
		if ef.Name == "" {
			ef.Name = "error_flow"
		}
		root.ErrorFlow = &ef
	}

	return root, nil
}

func buildLogConfig(m map[string]any) LogConfig {
	return LogConfig{
		StdoutLogLevel: getStringDefault(m, "stdout_log_level", "info"),
		LogFileLevel:   getStringDefault(m, "log_file_level", "info"),
		LogFile:        getString(m, "log_file"),
		LogFormat:      getStringDefault(m, "log_format", "text"),
	}
}

func buildTraceConfig(m map[string]any) TraceConfig {
	return TraceConfig{
		TraceFile:   getString(m, "trace_file"),
		EnableTrace: getBoolDefault(m, "enable_trace", false),
	}
}

func buildApp(m map[string]any, reg *invoke.Registry) (App, error) {
	app := App{
		Name:         getStringDefault(m, "name", "app"),
		NumInstances: getIntDefault(m, "num_instances", 1),
		Config:       getMap(m, "config"),
	}

	if brokerRaw, ok := m["broker"].(map[string]any); ok {
		app.Broker = buildBroker(brokerRaw)
	}

	if rawFlows, ok := m["flows"].([]any); ok {
		for i, rf := range rawFlows {
			fm, ok := rf.(map[string]any)
			if !ok {
				return App{}, fmt.Errorf("flows[%d]: expected a mapping", i)
			}
			flow, err := buildFlow(fm, reg)
			if err != nil {
				return App{}, fmt.Errorf("flows[%d] (%s): %w", i, getString(fm, "name"), err)
			}
			app.Flows = append(app.Flows, flow)
		}
	}

	if rawComponents, ok := m["components"].([]any); ok {
		for i, rc := range rawComponents {
			cm, ok := rc.(map[string]any)
			if !ok {
				return App{}, fmt.Errorf("components[%d]: expected a mapping", i)
			}
			comp, err := buildComponent(cm, reg)
			if err != nil {
				return App{}, fmt.Errorf("components[%d] (%s): %w", i, getString(cm, "name"), err)
			}
			app.Components = append(app.Components, comp)
		}
	}

	if err := validateApp(app); err != nil {
		return App{}, err
	}
	return app, nil
}

func buildBroker(m map[string]any) *Broker {
	return &Broker{
		BrokerType:            getString(m, "broker_type"),
		URL:                   getString(m, "broker_url"),
		Username:              getString(m, "broker_username"),
		Password:              getString(m, "broker_password"),
		VPN:                   getString(m, "broker_vpn"),
		TrustStorePath:        getString(m, "trust_store_path"),
		ReconnectionStrategy:  getStringDefault(m, "reconnection_strategy", "forever_retry"),
		RetryInterval:         getIntDefault(m, "retry_interval", 0),
		RetryCount:            getIntDefault(m, "retry_count", 0),
		InputEnabled:          getBoolDefault(m, "input_enabled", false),
		OutputEnabled:         getBoolDefault(m, "output_enabled", false),
		RequestReplyEnabled:   getBoolDefault(m, "request_reply_enabled", false),
		QueueName:             getString(m, "queue_name"),
		CreateQueueOnStart:    getBoolDefault(m, "create_queue_on_start", true),
		PayloadEncoding:       getStringDefault(m, "payload_encoding", "utf-8"),
		PayloadFormat:         getStringDefault(m, "payload_format", "json"),
		MaxRedeliveryCount:    getIntDefault(m, "max_redelivery_count", 0),
		RequestExpiryMS:       getIntDefault(m, "request_expiry_ms", 60000),
		ResponseTopicPrefix:   getStringDefault(m, "response_topic_prefix", "reply"),
		ResponseTopicSuffix:   getString(m, "response_topic_suffix"),
		ResponseQueuePrefix:   getStringDefault(m, "response_queue_prefix", "reply-queue"),
		UserPropReplyTopicKey: getStringDefault(m, "user_properties_reply_topic_key", "response-topic"),
		UserPropReplyMetaKey:  getStringDefault(m, "user_properties_reply_metadata_key", "response-metadata"),
		CopyUserProperties:    getBoolDefault(m, "copy_user_properties", false),
		PropagateAcks:         getBoolDefault(m, "propagate_acknowledgements", true),
	}
}

func buildFlow(m map[string]any, reg *invoke.Registry) (Flow, error) {
	flow := Flow{
		Name:       getStringDefault(m, "name", "flow"),
		TraceLevel: getString(m, "trace_level"),
	}
	rawComponents, _ := m["components"].([]any)
	for i, rc := range rawComponents {
		cm, ok := rc.(map[string]any)
		if !ok {
			return Flow{}, fmt.Errorf("components[%d]: expected a mapping", i)
		}
		comp, err := buildComponent(cm, reg)
		if err != nil {
			return Flow{}, fmt.Errorf("components[%d] (%s): %w", i, getString(cm, "name"), err)
		}
		flow.Components = append(flow.Components, comp)
	}
	if err := validateFlow(flow); err != nil {
		return Flow{}, err
	}
	return flow, nil
}

func buildComponent(m map[string]any, reg *invoke.Registry) (Component, error) {
	comp := Component{
		Name:            getStringDefault(m, "name", "component"),
		Module:          getString(m, "component_module"),
		Class:           getString(m, "component_class"),
		BasePath:        getString(m, "component_base_path"),
		NumInstances:    getIntDefault(m, "num_instances", 1),
		QueueDepth:      getIntDefault(m, "queue_depth", 5),
		Disabled:        getBoolDefault(m, "disabled", false),
		ComponentConfig: getMap(m, "component_config"),
	}

	if rawSubs, ok := m["subscriptions"].([]any); ok {
		for _, rs := range rawSubs {
			sm, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			comp.Subscriptions = append(comp.Subscriptions, Subscription{
				Topic: getString(sm, "topic"),
				QoS:   getIntDefault(sm, "qos", 1),
			})
		}
	}

	if rawSel, ok := m["input_selection"].(map[string]any); ok {
		sel, err := buildSelection(rawSel)
		if err != nil {
			return Component{}, fmt.Errorf("input_selection: %w", err)
		}
		comp.InputSelection = sel
	}

	if rawTransforms, ok := m["input_transforms"].([]any); ok {
		for i, rt := range rawTransforms {
			tm, ok := rt.(map[string]any)
			if !ok {
				return Component{}, fmt.Errorf("input_transforms[%d]: expected a mapping", i)
			}
			tr, err := buildTransform(tm, reg)
			if err != nil {
				return Component{}, fmt.Errorf("input_transforms[%d]: %w", i, err)
			}
			comp.InputTransforms = append(comp.InputTransforms, tr)
		}
	}

	if err := validateComponent(comp); err != nil {
		return Component{}, err
	}
	return comp, nil
}

// buildSelection resolves a component's input_selection block, which is
// either {source_expression: "..."} or {source_value: <literal>}.
func buildSelection(m map[string]any) (any, error) {
	if se, ok := m["source_expression"].(string); ok {
		e, err := expr.Parse(se)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	if sv, ok := m["source_value"]; ok {
		return sv, nil
	}
	return nil, fmt.Errorf("exactly one of source_expression/source_value must be set")
}

func buildTransform(m map[string]any, reg *invoke.Registry) (transform.Transform, error) {
	t := transform.Transform{Type: transform.Type(getString(m, "type"))}

	if se, ok := m["source_expression"].(string); ok {
		e, err := expr.Parse(se)
		if err != nil {
			return transform.Transform{}, err
		}
		t.SourceExpression = &e
	}
	if sv, ok := m["source_value"]; ok {
		t.SourceValue = sv
	}
	if de, ok := m["dest_expression"].(string); ok {
		e, err := expr.Parse(de)
		if err != nil {
			return transform.Transform{}, err
		}
		t.DestExpression = &e
	}
	if sle, ok := m["source_list_expression"].(string); ok {
		e, err := expr.Parse(sle)
		if err != nil {
			return transform.Transform{}, err
		}
		t.SourceListExpression = &e
	}
	if dle, ok := m["dest_list_expression"].(string); ok {
		e, err := expr.Parse(dle)
		if err != nil {
			return transform.Transform{}, err
		}
		t.DestListExpression = &e
	}
	if iv, ok := m["initial_value"]; ok {
		t.InitialValue = iv
	}

	if pf, ok := m["processing_function"].(map[string]any); ok {
		resolved, err := ResolveRawValue(pf, reg)
		if err != nil {
			return transform.Transform{}, fmt.Errorf("processing_function: %w", err)
		}
		t.ProcessingFunction = func(ctx *expr.Context, _ any) (any, error) {
			return ResolveConfigValue(ctx, resolved)
		}
	}
	if af, ok := m["accumulator_function"].(map[string]any); ok {
		resolved, err := ResolveRawValue(af, reg)
		if err != nil {
			return transform.Transform{}, fmt.Errorf("accumulator_function: %w", err)
		}
		t.AccumulatorFunction = func(ctx *expr.Context) (any, error) {
			return ResolveConfigValue(ctx, resolved)
		}
	}
	if ff, ok := m["filter_function"].(map[string]any); ok {
		resolved, err := ResolveRawValue(ff, reg)
		if err != nil {
			return transform.Transform{}, fmt.Errorf("filter_function: %w", err)
		}
		t.FilterFunction = func(ctx *expr.Context) (bool, error) {
			v, err := ResolveConfigValue(ctx, resolved)
			if err != nil {
				return false, err
			}
			return truthy(v), nil
		}
	}

	return t, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getStringDefault(m map[string]any, key, def string) string {
	if s := getString(m, key); s != "" {
		return s
	}
	return def
}

func getBoolDefault(m map[string]any, key string, def bool) bool {
	if m == nil {
		return def
	}
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}

func getIntDefault(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
