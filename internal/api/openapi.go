package api

import (
	"fmt"
	"strings"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one exert path per
// served operation. ops are type#selector keys in the order given.
func buildOpenAPIDoc(ops []string) map[string]any {
	paths := map[string]any{
		"/routines": map[string]any{
			"post": operation("submitRoutine", "Exert a routine tree on this node", "routines"),
		},
		"/provision": map[string]any{
			"post": operation("provision", "Provision a deployment", "provider"),
		},
	}

	for _, key := range ops {
		typ, sel, ok := strings.Cut(key, "#")
		if !ok {
			continue
		}
		paths[fmt.Sprintf("/exert/%s/%s", typ, sel)] = map[string]any{
			"post": operation(fmt.Sprintf("%s__%s", typ, sel), fmt.Sprintf("%s: %s", typ, sel), typ),
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "exert node",
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

func operation(id, summary, tag string) map[string]any {
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"tags":        []string{tag},
		"responses": map[string]any{
			"200": map[string]any{"description": "Exertion finished"},
			"400": map[string]any{"description": "Bad request"},
			"401": map[string]any{"description": "Missing or invalid API key"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}
