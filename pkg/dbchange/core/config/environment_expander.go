package config

import "os"

// EnvironmentExpander expands ${VAR} and $VAR placeholders in raw configuration bytes.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders from the process environment.
// Unset variables expand to the empty string.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand implements EnvironmentExpander.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return []byte(os.ExpandEnv(string(input))), nil
}
