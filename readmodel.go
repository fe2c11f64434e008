package parking

// ReadModel represents a query-side data model: a read-optimized view built
// from events rather than served from the event stream itself. Any type can
// serve as a read model; the constraint documents intent where query handlers
// are declared and registered.
type ReadModel interface {
}
