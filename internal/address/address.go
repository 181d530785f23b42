// Package address normalizes protocol addresses (JIDs) and timestamps into
// the canonical forms used across wabridge.
package address

import (
	"strings"
)

const (
	// DefaultDomain is appended to bare phone numbers before dispatch.
	DefaultDomain = "s.whatsapp.net"
	// GroupDomain marks a group conversation address.
	GroupDomain = "g.us"
	// DefaultCountryCode is the operator locale's calling code.
	DefaultCountryCode = "55"

	// secondsThreshold separates second-epoch values from millisecond-epoch
	// values for any date up to year 2286.
	secondsThreshold = 10_000_000_000

	groupSenderDelimiter = "/"
)

// NormalizeTimestamp converts a protocol timestamp to Unix milliseconds.
func NormalizeTimestamp(raw int64) int64 {
	if raw < secondsThreshold {
		return raw * 1000
	}
	return raw
}

// GroupInfo describes a group conversation address.
type GroupInfo struct {
	IsGroup bool   `json:"isGroup"`
	GroupID string `json:"groupId"`
}

// ExtractGroupInfo returns group details for a group address, nil otherwise.
func ExtractGroupInfo(addr string) *GroupInfo {
	user, domain, ok := strings.Cut(addr, "@")
	if !ok || user == "" {
		return nil
	}
	// composite sender form: group@g.us/member@...
	domain, _, _ = strings.Cut(domain, groupSenderDelimiter)
	if domain != GroupDomain {
		return nil
	}
	return &GroupInfo{IsGroup: true, GroupID: user}
}

// IsGroup reports whether addr is a group conversation address.
func IsGroup(addr string) bool {
	return ExtractGroupInfo(addr) != nil
}

// ExtractSenderFromGroupAddress pulls the member address out of a composite
// group sender address (<group>@g.us/<member>).
func ExtractSenderFromGroupAddress(full string) (string, bool) {
	group, member, ok := strings.Cut(full, groupSenderDelimiter)
	if !ok || member == "" {
		return "", false
	}
	if !strings.HasSuffix(group, "@"+GroupDomain) {
		return "", false
	}
	return member, true
}

// GroupAddress returns the conversation part of a possibly composite group
// sender address.
func GroupAddress(full string) string {
	if group, _, ok := strings.Cut(full, groupSenderDelimiter); ok && strings.HasSuffix(group, "@"+GroupDomain) {
		return group
	}
	return full
}

// ToJID appends @domain to a bare address. Addresses that already carry a
// domain pass through untouched.
func ToJID(raw, domain string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "@") {
		return raw
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return raw + "@" + domain
}

// StripDevice removes a ":N" device suffix from the user part of a JID and
// drops the domain: "5511999999999:12@s.whatsapp.net" -> "5511999999999".
func StripDevice(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

// Digits returns only the decimal digits of raw.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
