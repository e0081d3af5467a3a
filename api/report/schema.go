package report

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

const requestSchema = `{
	"type": "object",
	"required": ["start_date", "end_date", "centers", "norm", "cycles"],
	"properties": {
		"start_date": {"type": "string", "pattern": "^[0-9]{4}-?[0-9]{2}-?[0-9]{2}$"},
		"end_date": {"type": "string", "pattern": "^[0-9]{4}-?[0-9]{2}-?[0-9]{2}$"},
		"centers": {"type": ["string", "array"], "items": {"type": "string"}},
		"norm": {"type": "string"},
		"cycles": {"type": ["string", "integer", "array"], "items": {"type": ["string", "integer"]}},
		"platforms": {"type": ["string", "array", "null"], "items": {"type": "string"}}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(requestSchema)

// Validate checks a raw request body against the request schema.
func Validate(body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.Wrap(ErrInvalidRequest, strings.Join(msgs, "; "))
	}
	return nil
}
