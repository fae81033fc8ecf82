package http

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cwygoda/extractd/internal/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	createJobSchema = mustCompile("schemas/create_job.json")
	updateJobSchema = mustCompile("schemas/update_job.json")
)

func mustCompile(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// decodeJSON decodes a single JSON value from body into v. Numbers bound
// to interface values become json.Number, which is what the schema
// validator expects and keeps large integers exact.
func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return invalidJSON()
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return invalidJSON()
	}
	return nil
}

// validateBody checks body against schema. Malformed JSON and schema
// violations both come back as *domain.ValidationError.
func validateBody(schema *jsonschema.Schema, body []byte) error {
	var doc any
	if err := decodeJSON(body, &doc); err != nil {
		return err
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		leaf := firstLeaf(ve)
		field := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if field == "" {
			field = "body"
		}
		return &domain.ValidationError{Field: field, Message: leaf.Message}
	}
	return nil
}

func invalidJSON() error {
	return &domain.ValidationError{Field: "body", Message: "invalid JSON"}
}

// firstLeaf descends to the most specific cause of a validation error.
func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}
