package auth

import (
	"regexp"
	"strings"

	"github.com/hyperdash/streamhub"
)

// Room name patterns, one per feed category. Identifiers after the category
// prefix are restricted to alphanumerics, underscore and hyphen.
var roomPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^market:[A-Za-z0-9_-]+$`),
	regexp.MustCompile(`^trader:[A-Za-z0-9_-]+$`),
	regexp.MustCompile(`^strategy:[A-Za-z0-9_-]+$`),
	regexp.MustCompile(`^user:[A-Za-z0-9_-]+$`),
	regexp.MustCompile(`^notifications$`),
	regexp.MustCompile(`^risk_alerts$`),
}

// ValidRoom reports whether room matches the fixed naming grammar. Unknown
// categories and malformed identifiers are rejected.
func ValidRoom(room string) bool {
	for _, pattern := range roomPatterns {
		if pattern.MatchString(room) {
			return true
		}
	}
	return false
}

// CanJoin decides whether identity may join room. Pure function, no side
// effects.
//
// A user:<id> room is joinable only by the identity whose id equals <id>
// exactly. The comparison is against the full identifier segment, so a user
// id that is a substring of another ("bob" vs "bobby") can never collide.
func CanJoin(identity streamhub.Identity, room string) bool {
	if !ValidRoom(room) {
		return false
	}

	if member, ok := strings.CutPrefix(room, streamhub.RoomPrefixUser); ok {
		return member == identity.UserID
	}

	return true
}
