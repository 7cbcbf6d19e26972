// Package extensions provides shared plumbing for x402 extension
// implementations, chiefly JSON-schema validation of client-supplied
// extension data against a requirement's declaration.
package extensions

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402labs/x402-go"
)

// ValidateData checks client-supplied extension data against the
// declaration's schema. A declaration without a schema accepts
// anything.
func ValidateData(decl x402.ExtensionDecl, data any) error {
	if decl.Schema == nil {
		return nil
	}
	schemaRaw, err := json.Marshal(decl.Schema)
	if err != nil {
		return x402.WrapError(x402.ErrInternal, err)
	}
	dataRaw, err := json.Marshal(data)
	if err != nil {
		return x402.WrapError(x402.ErrInvalidPayload, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaRaw),
		gojsonschema.NewBytesLoader(dataRaw),
	)
	if err != nil {
		return x402.WrapError(x402.ErrInvalidPayload, err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return x402.NewError(x402.ErrInvalidPayload, "extension data rejected by schema: %s", strings.Join(issues, "; "))
	}
	return nil
}

// Declare builds a declaration with informational content and a JSON
// schema given as a document.
func Declare(info any, schema map[string]any) x402.ExtensionDecl {
	return x402.ExtensionDecl{Info: info, Schema: schema}
}

// RequireObjectSchema is a convenience for the common declaration
// shape: an object with the given required string properties.
func RequireObjectSchema(properties ...string) map[string]any {
	props := make(map[string]any, len(properties))
	for _, name := range properties {
		props[name] = map[string]any{"type": "string"}
	}
	required := make([]any, 0, len(properties))
	for _, name := range properties {
		required = append(required, name)
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// DataAsMap coerces extension data to a string-keyed map, the shape
// every bundled extension uses.
func DataAsMap(data any) (map[string]any, error) {
	if data == nil {
		return nil, x402.NewError(x402.ErrInvalidPayload, "extension data missing")
	}
	if m, ok := data.(map[string]any); ok {
		return m, nil
	}
	return nil, x402.NewError(x402.ErrInvalidPayload, "extension data is %T, want an object", data)
}

