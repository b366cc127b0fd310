package chassis

// ServiceRegistration pairs a full "service.impl" name with the interface
// to publish under it, for RegisterServices. Adapted from vessel's
// batch.go ServiceRegistration/RegisterServices convenience (a single call
// registering several services, stopping and reporting the first
// failure) — generalized from a DI factory-per-service shape to the
// registry's plain (full name, interface) pairs, and from "leave partial
// state" to "roll back everything this call registered" to match the rest
// of the package's atomic-batch idiom (Loader.Load).
type ServiceRegistration struct {
	FullName  string
	Interface Interface
}

// RegisterServices registers every entry of regs into r as a single
// logical batch: if any entry fails (malformed name, duplicate), every
// entry already registered by this call is unregistered before returning
// the error, so a caller never has to reason about a half-published set
// of self-description or bootstrap services.
func RegisterServices(r *Registry, regs ...ServiceRegistration) error {
	registered := make([]string, 0, len(regs))
	for _, reg := range regs {
		if err := r.RegisterService(reg.FullName, reg.Interface); err != nil {
			for i := len(registered) - 1; i >= 0; i-- {
				_ = r.Unregister(registered[i])
			}
			return err
		}
		registered = append(registered, reg.FullName)
	}
	return nil
}
