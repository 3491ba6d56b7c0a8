package models

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"fertiscan/internal/failure"
)

const schemaURL = "https://fertiscan.local/schemas/label-data.json"

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// SchemaSpec returns the JSON Schema describing LabelData. It is the schema
// document given to the language model.
func SchemaSpec() string {
	return string(schemaJSON)
}

// Parse validates and normalizes raw model output into a LabelData.
//
// raw may be a string, []byte or json.RawMessage holding JSON text, or an
// already decoded value such as map[string]any. Numbers found where the
// schema expects text are coerced to their decimal string form. Phone
// numbers are rewritten to E.164. Any failure is a *ValidationError naming
// the offending path.
func Parse(raw any) (*LabelData, error) {
	data, err := toJSON(raw)
	if err != nil {
		return nil, err
	}

	doc, err := decode(data)
	if err != nil {
		return nil, err
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ValidationError{Kind: ValidationSchema, Message: "expected a JSON object"}
	}
	coerceNumbers(obj)

	schema, err := compiledSchema()
	if err != nil {
		return nil, failure.Wrap("models.Parse", failure.ErrConfiguration, err, "compile label schema")
	}
	if err := schema.Validate(obj); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, fromSchemaError(ve)
		}
		return nil, &ValidationError{Kind: ValidationSchema, Message: err.Error()}
	}

	normalized, err := json.Marshal(obj)
	if err != nil {
		return nil, &ValidationError{Kind: ValidationSyntax, Message: err.Error()}
	}

	var label LabelData
	if err := json.Unmarshal(normalized, &label); err != nil {
		return nil, &ValidationError{Kind: ValidationSchema, Message: err.Error()}
	}

	label.normalize()
	if err := label.canonicalize(); err != nil {
		return nil, err
	}

	return &label, nil
}

func toJSON(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return nil, &ValidationError{Kind: ValidationSyntax, Message: "empty input"}
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		// Re-encode decoded values so every number is a json.Number.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, &ValidationError{Kind: ValidationSyntax, Message: err.Error()}
		}
		return data, nil
	}
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Kind: ValidationSyntax, Message: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ValidationError{Kind: ValidationSyntax, Message: "unexpected data after JSON value"}
	}
	return doc, nil
}

// coerceNumbers rewrites numbers to decimal strings. is_minimal is the only
// non-text scalar of the schema and is left alone.
func coerceNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			if k == "is_minimal" {
				continue
			}
			t[k] = coerceNumbers(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = coerceNumbers(item)
		}
		return t
	case json.Number:
		return decimalString(t)
	default:
		return v
	}
}

func decimalString(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// fromSchemaError reports the deepest failing location of a schema error.
func fromSchemaError(ve *jsonschema.ValidationError) *ValidationError {
	leaves := schemaLeaves(ve, nil)
	sort.SliceStable(leaves, func(i, j int) bool {
		return len(leaves[i].InstanceLocation) > len(leaves[j].InstanceLocation)
	})

	leaf := leaves[0]
	return &ValidationError{
		Kind:    ValidationSchema,
		Path:    dottedPath(leaf.InstanceLocation),
		Message: leaf.Message,
	}
}

func schemaLeaves(ve *jsonschema.ValidationError, acc []*jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return append(acc, ve)
	}
	for _, c := range ve.Causes {
		acc = schemaLeaves(c, acc)
	}
	return acc
}

// dottedPath turns a JSON pointer such as /organizations/0/phone_number into
// organizations[0].phone_number.
func dottedPath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return ""
	}

	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil {
			fmt.Fprintf(&b, "[%s]", seg)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
