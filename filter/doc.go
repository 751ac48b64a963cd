// Package filter selects records from decoded call results with
// expr-lang expressions.
//
// A list result yields one record per element, an object whose values are
// all objects yields one record per key. Fields of object records are
// available as variables, next to Key, Item and these helpers:
//
//	hasTag(tag)                         tags, labels, label or category
//	containsFold(s, x)                  case insensitive contains
//	hasPrefixFold(s, x)                 case insensitive startsWith
//	hasSuffixFold(s, x)                 case insensitive endsWith
//	lower(s), upper(s)
//	now(), daysAgo(n), daysSince(ts)    unix timestamps
//	parseDate("2006-01-02")
//	KiB(n), MiB(n), GiB(n), TiB(n)      bytes
//
// Example:
//
//	hasTag("linux") and size > GiB(1) and daysSince(added_on) > 30
package filter
