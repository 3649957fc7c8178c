package health

import "context"

// Pinger is anything that can probe its backing connection, such as the
// Redis prompt store or the Postgres progress store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker adapts a [Pinger] into a named [Checker].
func PingChecker(name string, p Pinger) Checker {
	return Checker{
		Name:  name,
		Check: p.Ping,
	}
}
