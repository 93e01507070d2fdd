package model

import "github.com/nbd-wtf/go-nostr"

// Filter is the typed query object sent with REQ.
// Fixed dimensions (ids, kinds, limit) are struct fields; tag dimensions live in Tags
// keyed by tag name and are serialized as "#<name>".
type Filter = nostr.Filter

// IDFilter selects a single message by identifier.
func IDFilter(id string) Filter {
	return Filter{IDs: []string{id}}
}

// TagFilter selects messages of the given kind carrying tagName=tagValue.
func TagFilter(kind, limit int, tagName, tagValue string) Filter {
	return Filter{
		Kinds: []int{kind},
		Limit: limit,
		Tags:  TagMap{tagName: []string{tagValue}},
	}
}
