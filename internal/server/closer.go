package server

// closerFunc adapts a plain func() error to io.Closer, for backend
// resources (like *pg.Pool, whose Close takes no error) that don't
// already satisfy it.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }
