// Package dbsource provides per-dialect account sources: given a server
// descriptor, each source enumerates the user accounts currently defined on
// that server.
package dbsource

import (
	"context"
	"fmt"

	"f0oster/dbspy/scan"
)

// Registry dispatches account fetches to the source registered for the
// server's dialect. It satisfies scan.AccountSource itself.
type Registry struct {
	sources map[scan.Dialect]scan.AccountSource
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[scan.Dialect]scan.AccountSource)}
}

// Register installs the source for a dialect, replacing any previous one.
func (r *Registry) Register(dialect scan.Dialect, source scan.AccountSource) {
	r.sources[dialect] = source
}

// FetchAccounts dispatches to the registered source for the server's dialect.
func (r *Registry) FetchAccounts(ctx context.Context, server scan.ServerDescriptor) ([]scan.AccountRecord, error) {
	source, ok := r.sources[server.Dialect]
	if !ok {
		return nil, fmt.Errorf("no account source registered for dialect %q", server.Dialect)
	}
	return source.FetchAccounts(ctx, server)
}

// DefaultRegistry wires the built-in sources: postgres and redshift share
// the SQL catalog source, ldap gets the directory source.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	pg := NewPostgresSource()
	r.Register(scan.DialectPostgres, pg)
	r.Register(scan.DialectRedshift, pg)
	r.Register(scan.DialectLDAP, NewLDAPSource())
	return r
}
