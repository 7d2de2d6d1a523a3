package types

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Per-field length caps applied by SanitizeInput.
const (
	MaxNicknameLen = 50
	MaxRoleLen     = 10
	MaxLinkLen     = 200
	MaxRegionLen   = 10
	MaxNameLen     = 50
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var roleSynonyms = map[string]Role{
	"tank":   RoleTank,
	"tk":     RoleTank,
	"healer": RoleHealer,
	"heal":   RoleHealer,
	"dps":    RoleDPS,
	"dd":     RoleDPS,
}

var armorByClass = map[string]ArmorType{
	"priest":       ArmorCloth,
	"mage":         ArmorCloth,
	"warlock":      ArmorCloth,
	"druid":        ArmorLeather,
	"monk":         ArmorLeather,
	"rogue":        ArmorLeather,
	"demon hunter": ArmorLeather,
	"evoker":       ArmorMail,
	"shaman":       ArmorMail,
	"hunter":       ArmorMail,
	"death knight": ArmorPlate,
	"paladin":      ArmorPlate,
	"warrior":      ArmorPlate,
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidEventKind reports whether kind is one the router handles.
func IsValidEventKind(kind string) bool {
	switch kind {
	case EventRegister, EventStartForm, EventSubmitForm, EventConfirm, EventCancel,
		EventProfile, EventSelectCharacter, EventSetAvailable, EventSetUnavailable,
		EventBulkAvailable, EventBulkUnavailable, EventDeleteCharacter, EventRefreshScore,
		EventAvailable, EventGroups, EventPlatformTimeout:
		return true
	default:
		return false
	}
}

// Validate checks the envelope of an event before it is routed.
func (e *Event) Validate() error {
	if !IsValidUserID(e.ActorID) {
		return NewError(KindInvalidEvent, "actor id %q is not valid", e.ActorID)
	}
	if !IsValidEventKind(e.Kind) {
		return NewError(KindInvalidEvent, "unknown event kind %q", e.Kind)
	}
	return nil
}

// SanitizeInput trims s, caps it at maxLen runes and drops control
// characters other than newline and tab. An input that is not valid text or
// is empty after cleaning fails with KindInvalidInput.
func SanitizeInput(s string, maxLen int) (string, error) {
	if !utf8.ValidString(s) {
		return "", NewError(KindInvalidInput, "input is not valid text")
	}
	s = strings.TrimSpace(s)
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 32 && r != '\n' && r != '\t') || r == 127 {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", NewError(KindInvalidInput, "input is empty")
	}
	return out, nil
}

// NormalizeRole maps a role token or one of its synonyms to a canonical Role.
func NormalizeRole(token string) (Role, error) {
	role, ok := roleSynonyms[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return "", NewError(KindInvalidRole, "unrecognized role %q", token)
	}
	return role, nil
}

// ParseProfileLink extracts region, realm and character name from a profile
// link of the shape https://<host>/characters/<region>/<realm>/<name>.
func ParseProfileLink(raw string) (ProfileLink, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ProfileLink{}, NewError(KindMalformedLink, "link must be an https url")
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	anchor := -1
	for i, seg := range segments {
		if seg == "characters" {
			anchor = i
			break
		}
	}
	if anchor < 0 || len(segments) < anchor+4 {
		return ProfileLink{}, NewError(KindMalformedLink, "link must end in /characters/<region>/<realm>/<name>")
	}

	region, realm, name := segments[anchor+1], segments[anchor+2], segments[anchor+3]
	if region == "" || realm == "" || name == "" {
		return ProfileLink{}, NewError(KindMalformedLink, "link has empty path segments")
	}
	if utf8.RuneCountInString(region) > MaxRegionLen {
		return ProfileLink{}, NewError(KindMalformedLink, "region %q is too long", region)
	}
	if utf8.RuneCountInString(realm) > MaxNameLen || utf8.RuneCountInString(name) > MaxNameLen {
		return ProfileLink{}, NewError(KindMalformedLink, "realm or name is too long")
	}

	return ProfileLink{
		URL:    raw,
		Region: strings.ToLower(region),
		Realm:  realm,
		Name:   name,
	}, nil
}

// ArmorForClass returns the armor type worn by class, or ArmorUnknown.
func ArmorForClass(class string) ArmorType {
	if armor, ok := armorByClass[strings.ToLower(strings.TrimSpace(class))]; ok {
		return armor
	}
	return ArmorUnknown
}
