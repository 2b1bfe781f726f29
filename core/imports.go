package core

import (
	"sort"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type (
	// ImportError reports a rejected row; Row is the 1-based line number in the file.
	ImportError struct {
		Row   int    `json:"row"`
		Error string `json:"error"`
	}

	ImportResult struct {
		Imported int           `json:"imported"`
		Failed   int           `json:"failed"`
		Errors   []ImportError `json:"errors"`
	}
)

func (r *ImportResult) Fail(row int, err error, translator ut.Translator) {
	r.Failed++
	r.Errors = append(r.Errors, ImportError{Row: row, Error: ErrorText(err, translator)})
}

// ValidationMessages maps each invalid field to its translated message.
// ok is false when err carries no field information.
func ValidationMessages(err error, translator ut.Translator) (map[string]string, bool) {
	switch origErr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		msgs := make(map[string]string, len(origErr))
		for _, vErr := range origErr {
			if translator != nil {
				msgs[vErr.Field()] = vErr.Translate(translator)
			} else {
				msgs[vErr.Field()] = vErr.Tag()
			}
		}
		return msgs, true
	case *ValidationError:
		if len(origErr.Fields) == 0 {
			return nil, false
		}
		msgs := make(map[string]string, len(origErr.Fields))
		for _, fErr := range origErr.Fields {
			msgs[fErr.Field] = fErr.Error
		}
		return msgs, true
	}
	return nil, false
}

// ErrorText flattens err into a single line, listing field errors in field order.
func ErrorText(err error, translator ut.Translator) string {
	msgs, ok := ValidationMessages(err, translator)
	if !ok {
		return err.Error()
	}
	fields := make([]string, 0, len(msgs))
	for f := range msgs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+msgs[f])
	}
	return strings.Join(parts, "; ")
}
