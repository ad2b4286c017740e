package transition

import "fmt"

// StatusFields is a map-backed implementation of the field accessors of
// Entity. Embed it in entity types whose status fields are plain strings.
type StatusFields map[string]string

func (f StatusFields) Field(name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return v, nil
}

func (f StatusFields) SetField(name, value string) error {
	if _, ok := f[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	f[name] = value
	return nil
}
