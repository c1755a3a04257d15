package api

import (
	"fmt"

	"github.com/mattjoyce/hookrelay/internal/relay"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one call operation per
// hook. Hooks arrive sorted by name.
func buildOpenAPIDoc(hooks []relay.HookInfo) map[string]any {
	paths := map[string]any{}
	for _, h := range hooks {
		paths[fmt.Sprintf("/hooks/%s/call", h.Name)] = map[string]any{
			"post": buildCallOperation(h),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hookrelay",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

// buildCallOperation describes POST /hooks/{name}/call for one hook. Declared
// arguments become required kwargs properties.
func buildCallOperation(h relay.HookInfo) map[string]any {
	props := map[string]any{}
	required := make([]string, 0, len(h.Args))
	for _, arg := range h.Args {
		props[arg] = map[string]any{}
		required = append(required, arg)
	}
	kwargs := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		kwargs["required"] = required
	}

	summary := fmt.Sprintf("Call %s (%d implementations)", h.Name, len(h.Impls))
	if h.Historic {
		summary += ", historic"
	}
	if h.FirstResult {
		summary += ", first result"
	}

	return map[string]any{
		"operationId": "call__" + h.Name,
		"summary":     summary,
		"tags":        []string{"hooks"},
		"requestBody": map[string]any{
			"required": false,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"kwargs":  kwargs,
							"exclude": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
					},
				},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{"description": "Hook results"},
			"400": map[string]any{"description": "Bad arguments"},
			"404": map[string]any{"description": "Unknown hook"},
			"502": map[string]any{"description": "Plugin process failed"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}
