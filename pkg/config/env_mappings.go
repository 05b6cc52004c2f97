package config

import (
	"reflect"
	"strings"
	"sync"
)

// Field describes one leaf of Config as addressed by the loader.
type Field struct {
	Path      string
	EnvVar    string
	Sensitive bool
}

var sensitiveType = reflect.TypeOf(SensitiveString(""))

var fieldIndex = sync.OnceValue(func() []Field {
	return indexFields(reflect.TypeOf(Config{}), "", nil)
})

func indexFields(t reflect.Type, prefix string, out []Field) []Field {
	for i := range t.NumField() {
		f := t.Field(i)
		name := f.Tag.Get("koanf")
		if !f.IsExported() || name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			out = indexFields(f.Type, path, out)
			continue
		}
		env := f.Tag.Get("env")
		if env == "-" {
			env = ""
		}
		out = append(out, Field{
			Path:      path,
			EnvVar:    env,
			Sensitive: f.Type == sensitiveType || f.Tag.Get("sensitive") == "true",
		})
	}
	return out
}

// Fields lists every configuration leaf in declaration order.
func Fields() []Field {
	return fieldIndex()
}

// GenerateEnvToConfigMap maps each declared environment variable to its path.
func GenerateEnvToConfigMap() map[string]string {
	out := make(map[string]string)
	for _, f := range Fields() {
		if f.EnvVar != "" {
			out[f.EnvVar] = f.Path
		}
	}
	return out
}

func lookupField(path string) (Field, bool) {
	path = strings.TrimSpace(path)
	for _, f := range Fields() {
		if f.Path == path {
			return f, true
		}
	}
	return Field{}, false
}

// GetEnvVarForConfigPath returns "" when path has no environment variable.
func GetEnvVarForConfigPath(path string) string {
	f, _ := lookupField(path)
	return f.EnvVar
}

// IsSensitiveConfigPath reports whether values at path must be redacted.
func IsSensitiveConfigPath(path string) bool {
	f, _ := lookupField(path)
	return f.Sensitive
}
