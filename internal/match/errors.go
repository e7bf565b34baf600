package match

import "errors"

// InputError rejects a request before any signal is computed.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	if e == nil {
		return ""
	}
	return "invalid input " + e.Field + ": " + e.Reason
}

// ConfigError is raised at configuration-load time, never per request.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return "invalid config " + e.Field + ": " + e.Reason
}

func IsInputError(err error) (*InputError, bool) {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return inputErr, true
	}
	return nil, false
}

func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}
