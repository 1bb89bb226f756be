// Package flows resolves the flow URI that agents of a class should run.
package flows

// Mapper resolves an agent class name to a flow URI.
type Mapper interface {
	FlowURI(className string) (string, bool)
}

// StaticMapper is a fixed class-to-flow mapping.
type StaticMapper map[string]string

// FlowURI implements Mapper.
func (m StaticMapper) FlowURI(className string) (string, bool) {
	uri, ok := m[className]
	return uri, ok
}
