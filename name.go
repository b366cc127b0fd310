package chassis

import "strings"

// parsedName is the result of splitting a service name into its service
// prefix and implementation suffix: "service.implementation"
// where both parts are non-empty and exactly one dot separates them. A
// name with no dot is a bare service prefix, used to request the default
// implementation.
type parsedName struct {
	full    string // as given
	service string // prefix before the first (and only) dot, or the whole name if bare
	impl    string // suffix after the dot, empty if bare
	hasDot  bool
}

// parseServiceName parses name per §3's grammar. It never reports an error
// on its own — callers decide what "malformed" means for their operation
// (e.g. register requires a dot; acquire accepts either form) — mirroring
// §4.3's "construction succeeds structurally" stance for avoiding
// exceptional control flow in the fast path.
func parseServiceName(name string) parsedName {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return parsedName{full: name, service: name, hasDot: false}
	}
	// "Exactly one dot" is enforced by validity checks below, not here;
	// IndexByte only finds the first, which is what a full_name's
	// service/impl split requires regardless of dots appearing later
	// is disallowed by isValidFullName.
	return parsedName{
		full:    name,
		service: name[:idx],
		impl:    name[idx+1:],
		hasDot:  true,
	}
}

// isValidFullName reports whether name is a well-formed "service.impl"
// full name: exactly one dot, both sides non-empty.
func isValidFullName(name string) bool {
	idx := strings.IndexByte(name, '.')
	if idx <= 0 || idx == len(name)-1 {
		return false
	}
	if strings.IndexByte(name[idx+1:], '.') >= 0 {
		return false
	}
	return true
}

// isValidLookupName reports whether name is acceptable as the name
// argument to acquire/unregister/set_default/iterator positioning: either
// a well-formed full name, or a bare, non-empty service prefix with no dot.
func isValidLookupName(name string) bool {
	if name == "" {
		return false
	}
	if !strings.Contains(name, ".") {
		return true
	}
	return isValidFullName(name)
}
