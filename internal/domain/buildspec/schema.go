package buildspec

import (
	"bytes"
	_ "embed"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "build.schema.json"

//go:embed build.schema.json
var schemaSource []byte

//nolint:gochecknoglobals // Compiled once on first use.
var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
		return nil, err
	}

	return compiler.Compile(schemaURL)
})

// Schema returns the JSON Schema that build specifications are validated against.
func Schema() []byte {
	return bytes.Clone(schemaSource)
}
