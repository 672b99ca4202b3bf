package interpolate

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

func registerBuiltins(r *Resolver) {
	r.Register("env", lookupEnv)
	r.Register("sysProp", r.lookupSysProp)
	r.Register("file", lookupFile)
	r.Register("readFile", lookupFile)
	r.Register("fileBase64", lookupFileBase64)
	r.Register("readFileBase64", lookupFileBase64)
	r.Register("base64", lookupBase64)
	r.Register("decodeBase64", lookupDecodeBase64)
	r.Register("json", lookupJSON)
	r.Register("yaml", lookupYAML)
}

func lookupEnv(_ context.Context, key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %q is not set", key)
	}
	return value, nil
}

func (r *Resolver) lookupSysProp(_ context.Context, key string) (string, error) {
	if value, ok := r.props[key]; ok {
		return value, nil
	}
	if value, ok := os.LookupEnv(key); ok {
		return value, nil
	}
	return "", fmt.Errorf("property %q is not set", key)
}

func lookupFile(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func lookupFileBase64(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func lookupBase64(_ context.Context, key string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(key)), nil
}

func lookupDecodeBase64(_ context.Context, key string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return string(data), nil
}

// lookupJSON expects "field:json-text" and returns the primitive value of the
// field inside the document.
func lookupJSON(_ context.Context, key string) (string, error) {
	field, doc, ok := strings.Cut(key, ":")
	if !ok {
		return "", fmt.Errorf("json lookup requires field:json-text")
	}
	if !gjson.Valid(doc) {
		return "", fmt.Errorf("malformed json document")
	}
	result := gjson.Get(doc, field)
	if !result.Exists() {
		return "", fmt.Errorf("field %q not present in json document", field)
	}
	return result.String(), nil
}

// lookupYAML expects "field:path-to-yaml-file" and returns the stringified
// value of the (possibly dotted) field inside the file.
func lookupYAML(_ context.Context, key string) (string, error) {
	field, path, ok := strings.Cut(key, ":")
	if !ok {
		return "", fmt.Errorf("yaml lookup requires field:path-to-yaml-file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("malformed yaml document: %w", err)
	}

	var current any = doc
	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("field %q not present in yaml document", field)
		}
		current, ok = m[part]
		if !ok {
			return "", fmt.Errorf("field %q not present in yaml document", field)
		}
	}

	switch v := current.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}
