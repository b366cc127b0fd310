package chassis

import "fmt"

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind identifies the category of failure a chassis operation reports,
// matching the error-kind table in the specification (§7).
type Kind string

const (
	KindNameMalformed           Kind = "NAME_MALFORMED"
	KindNameNotFound            Kind = "NAME_NOT_FOUND"
	KindNameAlreadyRegistered   Kind = "NAME_ALREADY_REGISTERED"
	KindStillReferenced         Kind = "STILL_REFERENCED"
	KindDependencyUnsatisfiable Kind = "DEPENDENCY_UNSATISFIABLE"
	KindSchemeUnknown           Kind = "SCHEME_UNKNOWN"
	KindSchemeHandlerFailure    Kind = "SCHEME_HANDLER_FAILURE"
	KindInitFailure             Kind = "INIT_FAILURE"
	KindDeinitFailure           Kind = "DEINIT_FAILURE"
	KindRefcountUnderflow       Kind = "REFCOUNT_UNDERFLOW"
	KindExternalLiveReferences  Kind = "EXTERNAL_LIVE_REFERENCES"
	KindInvalidArgument         Kind = "INVALID_ARGUMENT"
)

// Error is the error type chassis operations return; Loader.Unload instead
// returns one wrapped error combining the *Error values it collected. The ABI
// boundary reports status as a plain boolean; internally we carry
// a Kind plus context so callers and tests can distinguish failure reasons
// with errors.Is / errors.As.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target shares this error's Kind, so errors.Is checks
// against a sentinel like ErrNameNotFound work regardless of message text.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) withContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *Error) withCause(cause error) *Error {
	e.cause = cause
	return e
}

// =============================================================================
// SENTINELS
// =============================================================================

var (
	ErrNameMalformed           = &Error{Kind: KindNameMalformed, Message: "service name malformed"}
	ErrNameNotFound            = &Error{Kind: KindNameNotFound, Message: "name not found"}
	ErrNameAlreadyRegistered   = &Error{Kind: KindNameAlreadyRegistered, Message: "name already registered"}
	ErrStillReferenced         = &Error{Kind: KindStillReferenced, Message: "still referenced"}
	ErrDependencyUnsatisfiable = &Error{Kind: KindDependencyUnsatisfiable, Message: "dependency unsatisfiable"}
	ErrSchemeUnknown           = &Error{Kind: KindSchemeUnknown, Message: "scheme unknown"}
	ErrSchemeHandlerFailure    = &Error{Kind: KindSchemeHandlerFailure, Message: "scheme handler failure"}
	ErrInitFailure             = &Error{Kind: KindInitFailure, Message: "init failure"}
	ErrDeinitFailure           = &Error{Kind: KindDeinitFailure, Message: "deinit failure"}
	ErrRefcountUnderflow       = &Error{Kind: KindRefcountUnderflow, Message: "reference count underflow"}
	ErrExternalLiveReferences  = &Error{Kind: KindExternalLiveReferences, Message: "external live references"}
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func errNameMalformed(name string) *Error {
	return newError(KindNameMalformed, "service name %q is malformed", name).withContext("name", name)
}

func errNameNotFound(name string) *Error {
	return newError(KindNameNotFound, "name %q not found", name).withContext("name", name)
}

func errNameAlreadyRegistered(name string) *Error {
	return newError(KindNameAlreadyRegistered, "name %q already registered", name).withContext("name", name)
}

func errStillReferenced(name string, count uint64) *Error {
	return newError(KindStillReferenced, "implementation %q still referenced (refcount=%d)", name, count).
		withContext("name", name)
}

func errDependencyUnsatisfiable(component, service string) *Error {
	return newError(KindDependencyUnsatisfiable, "component %q requires unsatisfiable service %q", component, service).
		withContext("component", component).withContext("service", service)
}

func errSchemeUnknown(scheme string) *Error {
	return newError(KindSchemeUnknown, "no scheme handler registered for %q", scheme).withContext("scheme", scheme)
}

func errSchemeHandlerFailure(urn string, cause error) *Error {
	return newError(KindSchemeHandlerFailure, "scheme handler failed for %q", urn).withContext("urn", urn).withCause(cause)
}

func errInitFailure(urn string, cause error) *Error {
	return newError(KindInitFailure, "init failed for %q", urn).withContext("urn", urn).withCause(cause)
}

func errDeinitFailure(urn string, cause error) *Error {
	return newError(KindDeinitFailure, "deinit failed for %q", urn).withContext("urn", urn).withCause(cause)
}

func errRefcountUnderflow(name string) *Error {
	return newError(KindRefcountUnderflow, "release of %q would underflow refcount", name).withContext("name", name)
}

func errExternalLiveReferences(urn, service string, external uint64) *Error {
	return newError(KindExternalLiveReferences, "component %q provides %q with %d external reference(s)", urn, service, external).
		withContext("urn", urn).withContext("service", service)
}

func errInvalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, format, args...)
}
