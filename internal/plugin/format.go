package plugin

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
)

const formatInstructionsHeader = `The output should be formatted as a JSON instance that conforms to the JSON schema below.

Here is the output schema:
`

// FormatInstructions 根据结果结构体生成 JSON schema 说明，字段的 description 标签写入 schema
func FormatInstructions(model any) (string, error) {
	ref, err := openapi3gen.NewSchemaRefForValue(model, openapi3.Schemas{},
		openapi3gen.SchemaCustomizer(describeField))
	if err != nil {
		return "", fmt.Errorf("generate schema for %T: %w", model, err)
	}
	raw, err := json.Marshal(ref.Value)
	if err != nil {
		return "", fmt.Errorf("marshal schema for %T: %w", model, err)
	}
	return formatInstructionsHeader + "```\n" + string(raw) + "\n```", nil
}

func describeField(_ string, _ reflect.Type, tag reflect.StructTag, schema *openapi3.Schema) error {
	if d := tag.Get("description"); d != "" {
		schema.Description = d
	}
	if enum := tag.Get("enum"); enum != "" {
		var values []any
		if err := json.Unmarshal([]byte(enum), &values); err != nil {
			return fmt.Errorf("invalid enum tag %q: %w", enum, err)
		}
		schema.Enum = values
	}
	return nil
}
