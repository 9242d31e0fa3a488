package config

import (
	"reflect"
	"strings"

	"github.com/spf13/pflag"
)

// flagField is a scalar config field exposed as a command-line flag
type flagField struct {
	path  string // e.g. "server.grpc_port"
	name  string // e.g. "server-grpc-port"
	usage string
	kind  reflect.Kind
}

// flagFields walks Config by its koanf tags and returns every scalar field.
// Slices and maps have no flag form and are configured by file or environment.
func flagFields() []flagField {
	var fields []flagField
	collectFlags(reflect.TypeOf(Config{}), "", &fields)
	return fields
}

func collectFlags(t reflect.Type, parent string, fields *[]flagField) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		if strings.Contains(tag, "squash") {
			collectFlags(field.Type, parent, fields)
			continue
		}

		path := tag
		if parent != "" {
			path = parent + "." + tag
		}

		ft := field.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		switch {
		case ft.Kind() == reflect.Struct:
			collectFlags(ft, path, fields)
		case isScalar(ft.Kind()):
			*fields = append(*fields, flagField{
				path:  path,
				name:  flagName(path),
				usage: field.Tag.Get("usage"),
				kind:  ft.Kind(),
			})
		}
	}
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.String, reflect.Bool,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// flagName converts a config path to a flag name
// Examples:
//   - "server.grpc_port" -> "server-grpc-port"
//   - "permissions.base_url" -> "permissions-base-url"
func flagName(path string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(path)
}

// RegisterFlags registers a flag for every scalar config field. Flags
// already present on flagSet are left alone.
func RegisterFlags(flagSet *pflag.FlagSet) {
	for _, f := range flagFields() {
		if flagSet.Lookup(f.name) != nil {
			continue
		}

		switch f.kind {
		case reflect.String:
			flagSet.String(f.name, "", f.usage)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			flagSet.Int(f.name, 0, f.usage)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			flagSet.Uint(f.name, 0, f.usage)
		case reflect.Bool:
			flagSet.Bool(f.name, false, f.usage)
		case reflect.Float32, reflect.Float64:
			flagSet.Float64(f.name, 0, f.usage)
		}
	}
}

// FlagMapping returns the config path for each flag name
func FlagMapping() map[string]string {
	mapping := make(map[string]string)
	for _, f := range flagFields() {
		mapping[f.name] = f.path
	}
	return mapping
}
