package counters

// Filter is an exact-match allow-list of interface names. The zero value
// allows every interface.
type Filter map[string]struct{}

func NewFilter(names ...string) Filter {
	f := make(Filter, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		f[name] = struct{}{}
	}
	return f
}

func (f Filter) Allows(name string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[name]
	return ok
}

func (f Filter) Empty() bool { return len(f) == 0 }

// Names returns the allowed names in no particular order.
func (f Filter) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	return names
}
