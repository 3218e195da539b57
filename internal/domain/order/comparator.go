package order

import "maps"

// LineItemComparator decides whether li may absorb an add-to-cart request
// carrying options.
type LineItemComparator func(li *LineItem, options map[string]string) bool

// LineItemOptionsMatch reports whether every configured comparator accepts
// li for options. With no comparators any line item of the variant matches.
func (o *Order) LineItemOptionsMatch(li *LineItem, options map[string]string) bool {
	for _, c := range o.comparators {
		if !c(li, options) {
			return false
		}
	}
	return true
}

// MatchOptions is a comparator requiring the line item options to equal the
// requested options exactly. Nil and empty maps are equal.
func MatchOptions(li *LineItem, options map[string]string) bool {
	return maps.Equal(li.Options, options)
}

// MatchOptionKeys returns a comparator that compares only the given keys. A
// key missing on one side matches only if it is missing or empty on the
// other.
func MatchOptionKeys(keys ...string) LineItemComparator {
	return func(li *LineItem, options map[string]string) bool {
		for _, k := range keys {
			if li.Options[k] != options[k] {
				return false
			}
		}
		return true
	}
}
