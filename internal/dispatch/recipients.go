package dispatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/DeskPipe/internal/models"
)

// UserSuffix is appended to phone numbers to form a direct chat ID.
const UserSuffix = "@s.whatsapp.net"

// ErrNoSuchChat is returned when a group name matches no known chat.
var ErrNoSuchChat = errors.New("chat not found")

var (
	phonePattern = regexp.MustCompile(`^\+?\d+$`)
	phoneNoise   = regexp.MustCompile(`[\s()+-]`)
	nonDigit     = regexp.MustCompile(`\D`)
)

// IsPhoneNumber reports whether s is a bare phone number with an optional leading "+".
func IsPhoneNumber(s string) bool {
	return phonePattern.MatchString(s)
}

// PhoneTarget converts a phone number to a direct chat ID.
func PhoneTarget(number string) string {
	return nonDigit.ReplaceAllString(number, "") + UserSuffix
}

// NormalizeBrazilianMobile strips formatting and drops the ninth digit of
// 13-digit Brazilian mobile numbers (55 + area code + 9 + 8 digits), the form
// under which older accounts are registered.
func NormalizeBrazilianMobile(number string) string {
	number = phoneNoise.ReplaceAllString(number, "")
	if strings.HasPrefix(number, "55") && len(number) == 13 {
		number = number[:4] + number[5:]
	}
	return number
}

// FindGroup returns the group chat whose name equals name exactly.
func FindGroup(chats []models.Chat, name string) (models.Chat, bool) {
	for _, c := range chats {
		if c.IsGroup && c.Name == name {
			return c, true
		}
	}
	return models.Chat{}, false
}

// ResolveRecipient maps a batch recipient to a chat ID: phone numbers become
// direct chats, full chat IDs pass through, anything else is a group name
// looked up in chats.
func ResolveRecipient(recipient string, chats []models.Chat) (string, error) {
	recipient = strings.TrimSpace(recipient)
	switch {
	case recipient == "":
		return "", models.ErrEmptyRecipient
	case IsPhoneNumber(recipient):
		return PhoneTarget(recipient), nil
	case strings.HasSuffix(recipient, UserSuffix) || strings.HasSuffix(recipient, "@g.us"):
		return recipient, nil
	}
	if g, ok := FindGroup(chats, recipient); ok {
		return g.ID, nil
	}
	return "", fmt.Errorf("%w: group %q", ErrNoSuchChat, recipient)
}
