package serializer

import "fmt"

// New returns the serializer registered under the given name
// ("json", "gob" or "binary")
func New(name string) (ISerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (supported: json, gob, binary)", name)
	}
}
