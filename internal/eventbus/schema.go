package eventbus

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidEnvelope сообщение не соответствует схеме конверта
var ErrInvalidEnvelope = errors.New("eventbus: invalid envelope")

//go:embed schemas/envelope.schema.json
var envelopeSchemaJSON []byte

const envelopeSchemaURL = "https://tilegrid.local/schemas/envelope.schema.json"

var (
	schemaOnce     sync.Once
	envelopeSchema *jsonschema.Schema
	schemaErr      error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(envelopeSchemaURL, bytes.NewReader(envelopeSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		envelopeSchema, schemaErr = c.Compile(envelopeSchemaURL)
	})
	return envelopeSchema, schemaErr
}

// DecodeEnvelope разбирает JSON конверта и проверяет его по схеме,
// включая форму полезной нагрузки известных типов.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var ev Envelope
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &ev, nil
}
