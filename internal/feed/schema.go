package feed

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaURL = "fleetdash://schemas/envelope.json"

// envelopeSchema only checks the envelope. Payload items are normalized
// one by one so that a single bad item does not sink its batch.
const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["kind", "payload"],
	"properties": {
		"kind": {"enum": ["created", "updated", "deleted", "bulk-replace"]},
		"payload": {"type": ["object", "array"]}
	},
	"allOf": [
		{
			"if": {"properties": {"kind": {"const": "bulk-replace"}}},
			"then": {"properties": {"payload": {"type": "array"}}}
		}
	]
}`

var compiledEnvelope = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding envelope schema: %w", err)
	}
	return c.Compile(envelopeSchemaURL)
})

func validateEnvelope(data []byte) error {
	sch, err := compiledEnvelope()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
