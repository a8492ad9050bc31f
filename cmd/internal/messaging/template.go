package messaging

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	keyInviteGreeting = "invite.greeting"
	keyInviteBody     = "invite.body"
	keyInviteDate     = "invite.date"
	keyInviteVenue    = "invite.venue"
	keyInviteRespond  = "invite.respond"
	keyInviteCouple   = "invite.couple"
	keyInviteSignoff  = "invite.signoff"

	inviteDateLayout = "02.01.2006"
)

func init() {
	sq := language.Albanian
	message.SetString(sq, keyInviteGreeting, "Përshëndetje %s!")
	message.SetString(sq, keyInviteBody, "%s ju ftojnë me kënaqësi në dasmën e tyre.")
	message.SetString(sq, keyInviteDate, "📅 Data: %s")
	message.SetString(sq, keyInviteVenue, "📍 Vendi: %s")
	message.SetString(sq, keyInviteRespond, "Ju lutemi konfirmoni pjesëmarrjen tuaj këtu:")
	message.SetString(sq, keyInviteCouple, "%s dhe %s")
	message.SetString(sq, keyInviteSignoff, "Me respekt, %s")

	en := language.English
	message.SetString(en, keyInviteGreeting, "Hello %s!")
	message.SetString(en, keyInviteBody, "%s are delighted to invite you to their wedding.")
	message.SetString(en, keyInviteDate, "📅 Date: %s")
	message.SetString(en, keyInviteVenue, "📍 Venue: %s")
	message.SetString(en, keyInviteRespond, "Please confirm your attendance here:")
	message.SetString(en, keyInviteCouple, "%s and %s")
	message.SetString(en, keyInviteSignoff, "Kind regards, %s")
}

var (
	inviteTags      = []language.Tag{language.Albanian, language.English}
	inviteLanguages = language.NewMatcher(inviteTags)
)

// Invitation is the data rendered into an outbound invitation.
type Invitation struct {
	GuestName    string
	Phone        string
	Partner1     string
	Partner2     string
	EventDate    time.Time
	Venue        string
	ResponseLink string
}

// coupleNames joins the two partners, tolerating either being blank.
func (inv Invitation) coupleNames(p *message.Printer) string {
	a, b := strings.TrimSpace(inv.Partner1), strings.TrimSpace(inv.Partner2)
	switch {
	case a != "" && b != "":
		return p.Sprintf(keyInviteCouple, a, b)
	case a != "":
		return a
	default:
		return b
	}
}

// RenderInvitation builds the localized message body. Missing date or venue lines
// are omitted; the response link is always last so the client renders a preview.
func RenderInvitation(locale string, inv Invitation) string {
	_, idx := language.MatchStrings(inviteLanguages, locale)
	p := message.NewPrinter(inviteTags[idx])

	couple := inv.coupleNames(p)

	lines := []string{
		p.Sprintf(keyInviteGreeting, strings.TrimSpace(inv.GuestName)),
		"",
		p.Sprintf(keyInviteBody, couple),
	}
	if !inv.EventDate.IsZero() {
		lines = append(lines, p.Sprintf(keyInviteDate, inv.EventDate.Format(inviteDateLayout)))
	}
	if v := strings.TrimSpace(inv.Venue); v != "" {
		lines = append(lines, p.Sprintf(keyInviteVenue, v))
	}
	lines = append(lines, "", p.Sprintf(keyInviteRespond), strings.TrimSpace(inv.ResponseLink))
	if couple != "" {
		lines = append(lines, "", p.Sprintf(keyInviteSignoff, couple))
	}
	return strings.Join(lines, "\n")
}
