package odata

import (
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/civil"
)

// Query describes one entity-set request. It carries no transport state.
type Query struct {
	ServiceRoot string
	EntitySet   string
	Filter      string
	Expand      []string
	Select      []string
}

// BuildQuery assembles a Query. Empty filter, expand or select parts are omitted
// from the rendered URL.
func BuildQuery(serviceRoot, entitySet, filter string, expand, selectFields []string) Query {
	return Query{
		ServiceRoot: serviceRoot,
		EntitySet:   entitySet,
		Filter:      filter,
		Expand:      append([]string(nil), expand...),
		Select:      append([]string(nil), selectFields...),
	}
}

type queryOption struct {
	name  string
	value string
}

func (q Query) options() []queryOption {
	var opts []queryOption
	if q.Filter != "" {
		opts = append(opts, queryOption{"$filter", q.Filter})
	}
	if len(q.Expand) > 0 {
		opts = append(opts, queryOption{"$expand", strings.Join(q.Expand, ",")})
	}
	if len(q.Select) > 0 {
		opts = append(opts, queryOption{"$select", strings.Join(q.Select, ",")})
	}
	return append(opts, queryOption{"$format", "json"})
}

// URL renders the escaped request URL.
func (q Query) URL() (string, error) {
	if q.EntitySet == "" {
		return "", fmt.Errorf("%w: empty entity set", ErrInvalidArgument)
	}
	root, err := url.Parse(q.ServiceRoot)
	if err != nil {
		return "", fmt.Errorf("%w: service root %q: %v", ErrInvalidArgument, q.ServiceRoot, err)
	}
	if root.Scheme == "" || root.Host == "" {
		return "", fmt.Errorf("%w: service root %q is not absolute", ErrInvalidArgument, q.ServiceRoot)
	}
	base := strings.TrimRight(root.String(), "/")

	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('/')
	b.WriteString(url.PathEscape(q.EntitySet))
	for i, o := range q.options() {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(o.name)
		b.WriteByte('=')
		b.WriteString(escapeOption(o.value))
	}
	return b.String(), nil
}

// String is the unescaped form of the request, for logs.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(q.ServiceRoot, "/"))
	b.WriteByte('/')
	b.WriteString(q.EntitySet)
	for i, o := range q.options() {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(o.name + "=" + o.value)
	}
	return b.String()
}

var optionUnescape = strings.NewReplacer("+", "%20", "%2F", "/", "%2C", ",", "%27", "'")

func escapeOption(s string) string {
	return optionUnescape.Replace(url.QueryEscape(s))
}

// DateFilter returns "<field> eq datetime'<iso>'".
func DateFilter(field, isoDateTime string) string {
	return fmt.Sprintf("%s eq datetime'%s'", field, isoDateTime)
}

// KeyEqualityFilter returns "<field> eq guid'<key>'".
func KeyEqualityFilter(field, key string) string {
	return fmt.Sprintf("%s eq guid'%s'", field, key)
}

// DisjunctionFilter ORs KeyEqualityFilter over keys in input order.
// An empty key set yields "", which callers must not send as a filter.
func DisjunctionFilter(field string, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, KeyEqualityFilter(field, k))
	}
	return strings.Join(parts, " or ")
}

// FormatDateTime renders the start of day d the way the server expects in
// datetime literals.
func FormatDateTime(d civil.Date) string {
	return fmt.Sprintf("%04d-%02d-%02dT00:00:00", d.Year, int(d.Month), d.Day)
}
