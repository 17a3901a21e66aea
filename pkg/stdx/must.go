package stdx

// Must0 panics when err is not nil.
func Must0(err error) {
	if err != nil {
		panic(err)
	}
}

// Must1 returns v, or panics when err is not nil.
//
//	ln := stdx.Must1(net.Listen("tcp", "127.0.0.1:0"))
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Must2 returns t and v, or panics when err is not nil.
func Must2[T, V any](t T, v V, err error) (T, V) {
	if err != nil {
		panic(err)
	}
	return t, v
}
