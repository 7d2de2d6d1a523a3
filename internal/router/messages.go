package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rosterbot/internal/registration"
	"rosterbot/pkg/types"
)

// Card colors.
const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorWarning = 0xf1c40f
	colorMuted   = 0x95a5a6
)

const (
	welcomeTitle = "Roster registration"
	welcomeText  = "Use /register to add a character to the roster. You will be asked for " +
		"the character's nickname, its role (tank, healer or dps) and its raider.io profile link.\n" +
		"Use /profile to see your characters, toggle availability, refresh scores or delete a character."

	msgRegisterStart = "Press **Open form** to enter your character's details. " +
		"This panel expires after 10 minutes."
	msgConfirmPrompt  = "Check the details below and press **Confirm** to save the character."
	msgCommitted      = "**%s** was added to the roster with a score of %.1f."
	msgCancelled      = "Registration cancelled."
	msgTimedOut       = "This panel timed out. Start again with /register or /profile."
	msgNoCharacters   = "You have no registered characters yet. Use /register to add one."
	msgProfileHeader  = "You have %d registered character(s). Pick one to manage it."
	msgBulkUpdated    = "%d character(s) marked as %s."
	msgDeleted        = "**%s** was removed from the roster."
	msgNoneAvailable  = "No characters are available right now."
	msgCritical       = "A critical error occurred. Try again, or contact an operator if it keeps happening."
	msgRetryHint      = "Press **Open form** to try again."
	availableListSize = 25
)

// renderError maps a failure to the message shown to the user.
func renderError(err error) string {
	var e *types.Error
	if !errors.As(err, &e) {
		return msgCritical
	}

	switch e.Kind {
	case types.KindInvalidInput:
		return "Some of the fields could not be read. Check them and try again."
	case types.KindInvalidRole:
		return "That role is not recognized. Use tank, healer or dps."
	case types.KindMalformedLink:
		return "That profile link is not valid. It should look like " +
			"https://raider.io/characters/<region>/<realm>/<name>."
	case types.KindExternalLookupFailed:
		return "The character could not be looked up on raider.io. Check the link or try again in a moment."
	case types.KindNameMismatch:
		return fmt.Sprintf("The nickname **%s** does not match the character on that profile (**%s**).", e.Submitted, e.Found)
	case types.KindRateLimited:
		return fmt.Sprintf("Too many failed attempts. Try again in %s.", formatWait(e.RetryAfter))
	case types.KindCooldown:
		return fmt.Sprintf("Please wait %s before doing that again.", formatWait(e.RetryAfter))
	case types.KindDuplicateCharacter:
		return "That character is already registered by another user."
	case types.KindCharacterLimit:
		return "You have reached the character limit. Delete a character from /profile first."
	case types.KindCapacityExceeded:
		return "The bot is busy right now. Try again in a few minutes."
	case types.KindAlreadyOpen:
		return "You already have a registration in progress. Finish or cancel it first."
	case types.KindJustCompleted:
		return "Your registration was just completed. Use /profile to see it."
	case types.KindAlreadyProcessed:
		return "This registration was already processed."
	case types.KindNotFound:
		return "Character not found."
	case types.KindForbidden:
		return "You are not allowed to use this command."
	case types.KindNotOwner:
		return "This panel belongs to someone else. Use /register or /profile to open your own."
	case types.KindInteractionLimit:
		return "This panel reached its interaction limit. Start again with /register or /profile."
	case types.KindSessionExpired:
		return "This panel has expired. Start again with /register or /profile."
	case types.KindInvalidState:
		return "That action is not available right now."
	case types.KindInvalidEvent:
		return "That request could not be understood."
	default:
		return msgCritical
	}
}

// formatWait renders a remaining wait rounded up to whole seconds.
func formatWait(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	secs := (d + time.Second - 1) / time.Second
	return (secs * time.Second).String()
}

// truncateLabel caps s at limit runes for button labels.
func truncateLabel(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func characterCard(c *types.Character) *types.Card {
	status, color := "Unavailable", colorMuted
	if c.Available {
		status, color = "Available", colorSuccess
	}
	return &types.Card{
		Title: c.Name,
		Color: color,
		Fields: []types.CardField{
			{Name: "Realm", Value: orDash(c.Realm), Inline: true},
			{Name: "Class", Value: orDash(c.Class), Inline: true},
			{Name: "Role", Value: string(c.Role), Inline: true},
			{Name: "Armor", Value: string(c.Armor), Inline: true},
			{Name: "Score", Value: fmt.Sprintf("%.1f", c.Score), Inline: true},
			{Name: "Status", Value: status, Inline: true},
		},
		Footer: "Updated " + c.UpdatedOn(),
	}
}

func characterControls(name string, disabled bool) []types.Component {
	return []types.Component{
		{Action: types.EventSetAvailable, Label: "Available", Target: name, Style: "success", Disabled: disabled},
		{Action: types.EventSetUnavailable, Label: "Unavailable", Target: name, Style: "secondary", Disabled: disabled},
		{Action: types.EventRefreshScore, Label: "Refresh score", Target: name, Style: "primary", Disabled: disabled},
		{Action: types.EventDeleteCharacter, Label: "Delete", Target: name, Style: "danger", Disabled: disabled},
	}
}

func confirmationCard(d *registration.Draft) *types.Card {
	return &types.Card{
		Title:       "Confirm registration",
		Description: msgConfirmPrompt,
		Color:       colorWarning,
		Fields: []types.CardField{
			{Name: "Character", Value: d.Profile.Name, Inline: true},
			{Name: "Realm", Value: orDash(d.Profile.Realm), Inline: true},
			{Name: "Region", Value: strings.ToUpper(d.Link.Region), Inline: true},
			{Name: "Class", Value: orDash(d.Profile.Class), Inline: true},
			{Name: "Role", Value: string(d.Role), Inline: true},
			{Name: "Armor", Value: string(d.Armor), Inline: true},
			{Name: "Score", Value: fmt.Sprintf("%.1f", d.Profile.Score), Inline: true},
		},
	}
}

func rosterLine(c *types.Character) string {
	return fmt.Sprintf("%s (%s) | %s | %s | %.1f | %s", c.Name, orDash(c.Realm), c.Role, orDash(c.Class), c.Score, c.UpdatedOn())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
