package gateway

import (
	"strings"

	"github.com/wabridge/wabridge/internal/address"
)

// Addresses at the gateway boundary:
//
//  1. Conversation keys are full JIDs ("5511999999999@s.whatsapp.net",
//     "120363...@g.us"). Clients may pass a bare or formatted phone number
//     instead; it is mapped to the default domain.
//  2. Send targets: SendParams.Address is passed through untouched,
//     PhoneNumber is reduced to its digits. The session machine appends the
//     domain.

// conversationKey maps client input to a conversation key. Empty stays empty.
func (s *Server) conversationKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "@") {
		return raw
	}
	if d := address.Digits(raw); d != "" {
		raw = d
	}
	return address.ToJID(raw, s.cfg().Session.DefaultDomain)
}

// sendTarget picks the address a SendParams refers to.
func sendTarget(p SendParams) string {
	if a := strings.TrimSpace(p.Address); a != "" {
		return a
	}
	return address.Digits(p.PhoneNumber)
}
