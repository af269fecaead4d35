package upload

import "strings"

// MultiError aggregates the failures of independent uploads.
type MultiError []error

func (m MultiError) Error() string {
	var messages []string
	for _, err := range m {
		if err == nil {
			continue
		}
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "\n")
}

// Unwrap lets errors.Is and errors.As look into every aggregated error.
func (m MultiError) Unwrap() []error {
	return m
}

// AppendErr appends err to MultiError if err is not nil.
func AppendErr(m *MultiError, err error) {
	if err == nil {
		return
	}
	*m = append(*m, err)
}
