package dbsource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"f0oster/dbspy/scan"
)

const (
	ldapPageSize     = 500
	personFilter     = "(|(objectClass=inetOrgPerson)(objectClass=user)(objectClass=person))"
	ldapTimeLayout   = "20060102150405Z"
	createdAttribute = "createTimestamp"
)

var personAttributes = []string{
	"uid", "sAMAccountName", "cn", "mail", "displayName",
	"memberOf", createdAttribute, "whenCreated",
}

// LDAPSource enumerates person entries from a directory server with a paged
// subtree search, the same paging discipline used against AD instances.
type LDAPSource struct {
	dial func(server scan.ServerDescriptor) (ldapConn, error)
}

// ldapConn is the slice of *ldap.Conn the source needs; tests substitute a fake.
type ldapConn interface {
	Bind(username, password string) error
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Close() error
}

func NewLDAPSource() *LDAPSource {
	return &LDAPSource{
		dial: func(server scan.ServerDescriptor) (ldapConn, error) {
			return ldap.DialURL(fmt.Sprintf("ldap://%s:%d", server.Host, server.Port))
		},
	}
}

func (s *LDAPSource) FetchAccounts(ctx context.Context, server scan.ServerDescriptor) ([]scan.AccountRecord, error) {
	conn, err := s.dial(server)
	if err != nil {
		return nil, fmt.Errorf("dial ldap server %s: %w", server.Name, err)
	}
	defer conn.Close()

	if server.BindDN != "" {
		if err := conn.Bind(server.BindDN, server.BindPassword); err != nil {
			return nil, fmt.Errorf("bind to %s as %s: %w", server.Name, server.BindDN, err)
		}
	}

	request := ldap.NewSearchRequest(
		server.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		personFilter,
		personAttributes,
		nil,
	)

	results, err := conn.SearchWithPaging(request, ldapPageSize)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", server.Name, err)
	}

	accounts := make([]scan.AccountRecord, 0, len(results.Entries))
	for _, entry := range results.Entries {
		account, err := entryToAccount(entry)
		if err != nil {
			// Entries without a usable account name are skipped, not fatal.
			continue
		}
		accounts = append(accounts, account)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func entryToAccount(entry *ldap.Entry) (scan.AccountRecord, error) {
	username := entry.GetAttributeValue("uid")
	if username == "" {
		username = entry.GetAttributeValue("sAMAccountName")
	}
	if username == "" {
		username = entry.GetAttributeValue("cn")
	}
	if username == "" {
		return scan.AccountRecord{}, fmt.Errorf("entry %s has no account name", entry.DN)
	}

	account := scan.AccountRecord{
		Username:    username,
		Email:       entry.GetAttributeValue("mail"),
		DisplayName: entry.GetAttributeValue("displayName"),
		Roles:       groupNames(entry.GetAttributeValues("memberOf")),
		Attributes:  normalizedAttributes(entry),
	}

	if created := parseCreated(entry); created != nil {
		account.CreatedAt = created
	}
	return account, nil
}

// groupNames reduces memberOf DNs to their leading CN so role overlap is
// comparable with SQL group names.
func groupNames(memberOf []string) []string {
	var names []string
	for _, dn := range memberOf {
		first := strings.SplitN(dn, ",", 2)[0]
		if cn, found := strings.CutPrefix(first, "CN="); found {
			names = append(names, cn)
		} else if cn, found := strings.CutPrefix(first, "cn="); found {
			names = append(names, cn)
		}
	}
	sort.Strings(names)
	return names
}

func parseCreated(entry *ldap.Entry) *time.Time {
	raw := entry.GetAttributeValue(createdAttribute)
	if raw == "" {
		raw = entry.GetAttributeValue("whenCreated")
	}
	if raw == "" {
		return nil
	}
	// Generalized time, with or without fractional seconds.
	raw = strings.SplitN(raw, ".", 2)[0]
	if !strings.HasSuffix(raw, "Z") {
		raw += "Z"
	}
	created, err := time.Parse(ldapTimeLayout, raw)
	if err != nil {
		return nil
	}
	return &created
}

// normalizedAttributes copies every returned attribute into the snapshot
// attribute map with sorted values, so diffing is order-insensitive.
func normalizedAttributes(entry *ldap.Entry) map[string][]string {
	attributes := make(map[string][]string, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		values := append([]string(nil), attr.Values...)
		sort.Strings(values)
		attributes[attr.Name] = values
	}
	return attributes
}
