package types

import (
	"time"
)

// Event kinds accepted from the chat gateway. Each one maps to a single
// handler in the router.
const (
	EventRegister        = "register"
	EventStartForm       = "start_form"
	EventSubmitForm      = "submit_form"
	EventConfirm         = "confirm"
	EventCancel          = "cancel"
	EventProfile         = "profile"
	EventSelectCharacter = "select_character"
	EventSetAvailable    = "set_available"
	EventSetUnavailable  = "set_unavailable"
	EventBulkAvailable   = "bulk_available"
	EventBulkUnavailable = "bulk_unavailable"
	EventDeleteCharacter = "delete_character"
	EventRefreshScore    = "refresh_score"
	EventAvailable       = "available"
	EventGroups          = "groups"
	EventPlatformTimeout = "platform_timeout"
)

// Form field names carried in Event.Fields for submit_form.
const (
	FieldNickname   = "nickname"
	FieldRole       = "role"
	FieldProfileURL = "profile_url"
)

// Role is the gameplay role a character registers for.
type Role string

const (
	RoleTank   Role = "Tank"
	RoleHealer Role = "Healer"
	RoleDPS    Role = "DPS"
)

// ArmorType is derived from the character class reported by the ranking service.
type ArmorType string

const (
	ArmorCloth   ArmorType = "Cloth"
	ArmorLeather ArmorType = "Leather"
	ArmorMail    ArmorType = "Mail"
	ArmorPlate   ArmorType = "Plate"
	ArmorUnknown ArmorType = "Unknown"
)

// Character is a persisted roster entry. (UserID, Name) is unique and Name is
// unique across users, case-insensitively.
type Character struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Name       string    `json:"character_name"`
	Realm      string    `json:"realm"`
	Class      string    `json:"class"`
	Role       Role      `json:"role"`
	Armor      ArmorType `json:"armor"`
	ProfileURL string    `json:"profile_url"`
	Score      float64   `json:"score"`
	Available  bool      `json:"available"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UpdatedOn renders the last-updated date the way it is shown on cards.
func (c *Character) UpdatedOn() string {
	if c.UpdatedAt.IsZero() {
		return "-"
	}
	return c.UpdatedAt.Format("2006-01-02")
}

// CharacterUpdate carries the mutable columns of a character. Nil fields are
// left untouched.
type CharacterUpdate struct {
	Available *bool
	Score     *float64
	Class     *string
	Armor     *ArmorType
	UpdatedAt *time.Time
}

// IsEmpty reports whether the update would change nothing.
func (u CharacterUpdate) IsEmpty() bool {
	return u.Available == nil && u.Score == nil && u.Class == nil && u.Armor == nil && u.UpdatedAt == nil
}

// CharacterFilter narrows ListCharacters.
type CharacterFilter struct {
	UserID        string
	AvailableOnly bool
	OrderByScore  bool
	Limit         int
}

// ProfileLink is a parsed ranking-service profile link.
type ProfileLink struct {
	URL    string `json:"url"`
	Region string `json:"region"`
	Realm  string `json:"realm"`
	Name   string `json:"name"`
}

// RankingProfile is what the ranking service reports for a character.
type RankingProfile struct {
	Name   string  `json:"name"`
	Class  string  `json:"class"`
	Realm  string  `json:"realm"`
	Region string  `json:"region"`
	Score  float64 `json:"score"`
}

// Event is one user interaction delivered by the chat gateway.
type Event struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	ActorID      string            `json:"actor_id"`
	ActorName    string            `json:"actor_name"`
	SessionToken string            `json:"session_token,omitempty"`
	Target       string            `json:"target,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// Field returns a form field, or "" when absent.
func (e *Event) Field(name string) string {
	if e.Fields == nil {
		return ""
	}
	return e.Fields[name]
}

// Card is the rich embed rendered for a character or a listing.
type Card struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Color       int         `json:"color,omitempty"`
	Fields      []CardField `json:"fields,omitempty"`
	Footer      string      `json:"footer,omitempty"`
}

// CardField is one name/value row of a card.
type CardField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Component is an interactive button attached to a response. Action is the
// event kind a press produces; Target is echoed back as Event.Target.
type Component struct {
	Action   string `json:"action"`
	Label    string `json:"label"`
	Target   string `json:"target,omitempty"`
	Style    string `json:"style,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Response is what the bot sends back for one Event.
type Response struct {
	EventID      string      `json:"event_id,omitempty"`
	ChannelID    string      `json:"channel_id,omitempty"`
	Content      string      `json:"content,omitempty"`
	Card         *Card       `json:"card,omitempty"`
	Components   []Component `json:"components,omitempty"`
	SessionToken string      `json:"session_token,omitempty"`
	Edit         bool        `json:"edit,omitempty"`
	Ephemeral    bool        `json:"ephemeral,omitempty"`
	CloseSession bool        `json:"close_session,omitempty"`
	OpenForm     bool        `json:"open_form,omitempty"`
}
