package extraction

import (
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"
)

// extractionResponse is the payload shape requested from the service
type extractionResponse struct {
	Products []productFact `json:"products" jsonschema:"required,description=Products discussed in the conversation"`
}

type productFact struct {
	Product   string   `json:"product" jsonschema:"required,description=Canonical product name" validate:"required"`
	Sentiment string   `json:"sentiment" jsonschema:"required,enum=Positive,enum=Negative,enum=Neutral"`
	Reason    string   `json:"reason" jsonschema:"required,description=Evidence for the sentiment"`
	Features  []string `json:"features" jsonschema:"required,description=Features users mention"`
}

// GenerateSchema reflects T into a JSON schema that strict structured output accepts.
func GenerateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)
	schemaObj, err := schemaToMap(schema)
	if err != nil {
		panic(err)
	}
	strictify(schemaObj)
	return schemaObj
}

func schemaToMap(schema *jsonschema.Schema) (map[string]interface{}, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// strictify marks every object closed and every property required, recursively.
func strictify(schema map[string]interface{}) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			sort.Strings(required)
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, p := range props {
			if m, ok := p.(map[string]interface{}); ok {
				strictify(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		strictify(items)
	}
}
