// Package topicindex implements O(segments) subscriber lookup for a
// concrete topic: an exact-match index for literal filters and a
// wildcard trie for filters containing + or #. It is adapted from the
// teacher's internal/broker subscription tree, generalized from a
// single global tree to the two-structure design spec.md §4.1 calls
// for, and extended with MQTT5-correct $-prefix handling.
package topicindex

import (
	"strings"
	"unicode/utf8"

	"github.com/vogler75/monstermq/pkg/mqtterr"
)

func segments(topic string) []string {
	return strings.Split(topic, "/")
}

// IsValidTopicName validates a concrete (non-filter) topic name used in
// PUBLISH: no wildcards, valid UTF-8, no null or control characters.
func IsValidTopicName(topic string) error {
	if topic == "" {
		return mqtterr.ErrEmptyTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return mqtterr.ErrWildcardsNotAllowedInPublish
	}
	return validateUTF8(topic)
}

// IsValidTopicFilter validates a subscription filter: + must occupy a
// whole level, # must be the last level and occupy it whole.
func IsValidTopicFilter(filter string) error {
	if filter == "" {
		return mqtterr.ErrEmptyTopicFilter
	}
	if err := validateUTF8(filter); err != nil {
		return err
	}
	parts := segments(filter)
	for i, p := range parts {
		switch {
		case p == "#":
			if i != len(parts)-1 {
				return mqtterr.ErrMultiLevelWildcardNotLast
			}
		case strings.Contains(p, "#"):
			return mqtterr.ErrMultiLevelWildcardNotAlone
		case p == "+":
			// fine, occupies whole level
		case strings.Contains(p, "+"):
			return mqtterr.ErrSingleLevelWildcardNotAlone
		}
	}
	return nil
}

func validateUTF8(s string) error {
	if !utf8.ValidString(s) {
		return mqtterr.ErrInvalidUTF8
	}
	for _, r := range s {
		if r == 0 {
			return mqtterr.ErrNullCharacter
		}
		if (r >= 0x0001 && r <= 0x001F) || (r >= 0x007F && r <= 0x009F) {
			return mqtterr.ErrControlCharacter
		}
	}
	return nil
}

// IsReservedRoot reports whether a topic or filter starts with '$',
// reserved for broker-originated topics (e.g. $SYS). A bare '#' or a
// filter whose first level is '+' or '#' must not match these.
func IsReservedRoot(topic string) bool {
	return strings.HasPrefix(topic, "$")
}

// isExactFilter reports whether filter contains no wildcard characters,
// and is therefore eligible for the O(1) exact-match index.
func isExactFilter(filter string) bool {
	return !strings.ContainsAny(filter, "+#")
}

// TopicMatches reports whether the concrete topic matches filter,
// honoring MQTT wildcard semantics and the $-prefix exclusion: filters
// beginning with '#' or '+' never match a topic whose first segment
// starts with '$'.
func TopicMatches(filter, topic string) bool {
	if IsReservedRoot(topic) {
		fParts := segments(filter)
		if len(fParts) > 0 && (fParts[0] == "#" || fParts[0] == "+") {
			return false
		}
	}
	return matchSegments(segments(filter), segments(topic))
}

func matchSegments(filter, topic []string) bool {
	for i, f := range filter {
		if f == "#" {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if f != "+" && f != topic[i] {
			return false
		}
	}
	return len(filter) == len(topic)
}
