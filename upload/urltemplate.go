package upload

import (
	"bytes"
	"fmt"
	"net/url"
	"runtime"
	"text/template"

	"github.com/bitrise-io/go-utils/v2/env"
)

// urlModel evaluates upload URL templates such as
// https://storage.example.com/builds/{{ getenv "BITRISE_BUILD_SLUG" }}/{{ name }}
type urlModel struct {
	envRepo env.Repository
	os      string
	arch    string
}

type urlInventory struct {
	Name string
	OS   string
	Arch string
}

func newURLModel(envRepo env.Repository) urlModel {
	return urlModel{
		envRepo: envRepo,
		os:      runtime.GOOS,
		arch:    runtime.GOARCH,
	}
}

// Evaluate returns the upload URL of the file called name.
// {{ name }} is path escaped, {{ .Name }} is inserted as is.
func (m urlModel) Evaluate(urlTemplate string, name string) (string, error) {
	funcMap := template.FuncMap{
		"getenv": m.getEnvVar,
		"name": func() string {
			return url.PathEscape(name)
		},
	}

	tmpl, err := template.New("").Funcs(funcMap).Parse(urlTemplate)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	inventory := urlInventory{
		Name: name,
		OS:   m.os,
		Arch: m.arch,
	}

	resultBuffer := bytes.Buffer{}
	if err := tmpl.Execute(&resultBuffer, inventory); err != nil {
		return "", err
	}

	result := resultBuffer.String()
	parsed, err := url.Parse(result)
	if err != nil {
		return "", fmt.Errorf("invalid URL %s: %w", result, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid URL %s: scheme should be http or https", result)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid URL %s: host is empty", result)
	}
	return result, nil
}

func (m urlModel) getEnvVar(key string) string {
	return m.envRepo.Get(key)
}
