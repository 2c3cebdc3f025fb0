package schemadiff

import "strings"

// normalizeType lower-cases a type spelling and strips all whitespace, so
// "VARCHAR (255)" and "varchar(255)" compare equal.
func normalizeType(t string) string {
	lowered := strings.ToLower(t)
	var sb strings.Builder
	sb.Grow(len(lowered))
	for _, r := range lowered {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// family groups the dialect spellings of one canonical type.
type family struct {
	name   string
	tokens []string
}

// typeFamilies maps normalized-spelling tokens to a canonical family.
// Matching is by substring on the normalized type, so parameters never
// break it ("varchar(255)" and "character varying" are both varchar).
//
// Order matters: earlier families win, so tokens that contain other
// families' tokens ("interval" contains "int", "datetime" contains "date",
// "varchar" contains "char") must come first.
var typeFamilies = []family{
	{"uuid", []string{"uuid", "uniqueidentifier"}},
	{"boolean", []string{"boolean", "bool", "tinyint(1)"}},
	{"timestamp", []string{"timestamptz", "timestampwithtimezone", "timestampwithouttimezone", "timestamp", "datetime"}},
	{"interval", []string{"interval"}},
	{"bigint", []string{"bigint", "bigserial", "int8", "serial8"}},
	{"smallint", []string{"smallint", "smallserial", "int2", "serial2", "tinyint"}},
	{"integer", []string{"integer", "mediumint", "int4", "serial", "int"}},
	{"double", []string{"doubleprecision", "double", "float8"}},
	{"float", []string{"float4", "real", "float"}},
	{"numeric", []string{"numeric", "decimal"}},
	{"json", []string{"jsonb", "json"}},
	{"bytes", []string{"bytea", "varbinary", "binary", "blob"}},
	{"varchar", []string{"charactervarying", "varchar2", "nvarchar", "varchar"}},
	{"text", []string{"text", "clob", "string"}},
	{"char", []string{"character", "bpchar", "nchar", "char"}},
	{"date", []string{"date"}},
	{"time", []string{"timetz", "time"}},
}

// typeFamily returns the canonical family of a normalized type spelling,
// or "" when no family claims it.
func typeFamily(normalized string) string {
	for _, f := range typeFamilies {
		for _, tok := range f.tokens {
			if strings.Contains(normalized, tok) {
				return f.name
			}
		}
	}
	return ""
}

// typesEquivalent reports whether two type spellings describe the same
// storage type: equal after normalization, or members of the same canonical
// family even if exact parameters differ (varchar(100) vs varchar(255)).
func typesEquivalent(declared, actual string) bool {
	nd, na := normalizeType(declared), normalizeType(actual)
	if nd == na {
		return true
	}
	fd, fa := typeFamily(nd), typeFamily(na)
	return fd != "" && fd == fa
}
