package cdx

// Predicate decides whether a capture is visible to a consumer. A
// predicate may fail, for example when it is backed by a remote
// oracle; errors are never treated as "allow".
type Predicate func(*Capture) (bool, error)

// Chain combines predicates into one which accepts a capture only if
// every member accepts it. Evaluation short-circuits at the first
// rejection or error. Nil members are skipped, so optional filters can
// be passed without wrapping.
func Chain(filters ...Predicate) Predicate {
	return func(c *Capture) (bool, error) {
		for _, f := range filters {
			if f == nil {
				continue
			}
			ok, err := f(c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}
