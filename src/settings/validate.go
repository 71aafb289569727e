package settings

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report koanf key names instead of Go field names
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the sections required by the selected source.
func (s *Settings) Validate() error {
	var msgs []string
	check := func(section string, v any) {
		if err := getValidator().Struct(v); err != nil {
			msgs = append(msgs, describe(section, err)...)
		}
	}
	switch s.Source {
	case SourceLive:
		check("influxdb_connection", s.InfluxDB)
		check("postgres_connection", s.Postgres)
	case SourceDuckDB:
		check("duckdb", s.DuckDB)
	case SourceJSONL:
		check("jsonl", s.JSONL)
	default:
		msgs = append(msgs, fmt.Sprintf("source: must be one of %s, %s, %s (got %q)", SourceLive, SourceDuckDB, SourceJSONL, s.Source))
	}
	check("logging", s.Logging)
	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func describe(section string, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{section + ": " + err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := section + "." + fe.Field()
		switch fe.Tag() {
		case "required":
			out = append(out, field+": is required")
		case "oneof":
			out = append(out, fmt.Sprintf("%s: must be one of [%s] (got %v)", field, fe.Param(), fe.Value()))
		case "min", "max":
			out = append(out, fmt.Sprintf("%s: must be %s %s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		default:
			out = append(out, fmt.Sprintf("%s: failed %s validation", field, fe.Tag()))
		}
	}
	return out
}
