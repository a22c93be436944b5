package posture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"
)

const contractSchemaURL = "selene://contracts/turncontext.schema.json"

var (
	schemaOnce     sync.Once
	contractSchema []byte
	compiledSchema *jsv.Schema
	schemaErr      error
)

// ContractSchema returns the JSON Schema for the TurnContext wire contract.
// Hosts that transport posture as JSON can publish this to their producers.
func ContractSchema() ([]byte, error) {
	buildSchema()
	if schemaErr != nil {
		return nil, schemaErr
	}
	return contractSchema, nil
}

// DecodeTurnContext validates raw JSON against the contract schema and
// decodes it. Any schema violation is returned as an error before decoding;
// callers must treat it as a fail-closed turn, not as partial posture.
func DecodeTurnContext(data []byte) (*TurnContext, error) {
	buildSchema()
	if schemaErr != nil {
		return nil, fmt.Errorf("posture contract schema unavailable: %w", schemaErr)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("posture document is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("posture document violates contract: %w", err)
	}

	var turn TurnContext
	if err := json.Unmarshal(data, &turn); err != nil {
		return nil, fmt.Errorf("failed to decode posture document: %w", err)
	}
	return &turn, nil
}

func buildSchema() {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{}
		raw, err := json.Marshal(reflector.Reflect(&TurnContext{}))
		if err != nil {
			schemaErr = fmt.Errorf("failed to marshal reflected schema: %w", err)
			return
		}
		contractSchema = raw

		compiler := jsv.NewCompiler()
		compiler.Draft = jsv.Draft2020
		if err := compiler.AddResource(contractSchemaURL, bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("failed to register contract schema: %w", err)
			return
		}
		compiledSchema, err = compiler.Compile(contractSchemaURL)
		if err != nil {
			schemaErr = fmt.Errorf("failed to compile contract schema: %w", err)
		}
	})
}
