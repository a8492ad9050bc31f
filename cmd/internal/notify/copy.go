package notify

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	keyStatusAttending    = "rsvp.status.attending"
	keyStatusNotAttending = "rsvp.status.not_attending"
	keyStatusMaybe        = "rsvp.status.maybe"
	keyStatusPending      = "rsvp.status.pending"

	keyGuestUnknown = "rsvp.guest.unknown"
	keyTitle        = "rsvp.notification.title"
	keyMessageOne   = "rsvp.notification.message.one"
	keyMessageMany  = "rsvp.notification.message.many"
	keyEmailOpen    = "rsvp.notification.email.open"
	keyEmailFooter  = "rsvp.notification.email.footer"

	maxNamesShown = 3
)

// SupportedLanguages lists the catalogs registered by this package, default first.
var SupportedLanguages = []language.Tag{language.Albanian, language.English}

var languageMatcher = language.NewMatcher(SupportedLanguages)

func init() {
	sq := language.Albanian
	message.SetString(sq, keyStatusAttending, "Po vjen")
	message.SetString(sq, keyStatusNotAttending, "Nuk vjen")
	message.SetString(sq, keyStatusMaybe, "Ndoshta")
	message.SetString(sq, keyStatusPending, "Në pritje")
	message.SetString(sq, keyGuestUnknown, "Një mysafir")
	message.SetString(sq, keyTitle, "Përditësim RSVP: %s (%s)")
	message.SetString(sq, keyMessageOne, "%s u përgjigj në ftesë: %s.")
	message.SetString(sq, keyMessageMany, "%s u përgjigjën në ftesë (%d mysafirë): %s.")
	message.SetString(sq, keyEmailOpen, "Shiko listën e mysafirëve")
	message.SetString(sq, keyEmailFooter, "Ky njoftim u dërgua automatikisht nga planifikuesi i dasmës.")

	en := language.English
	message.SetString(en, keyStatusAttending, "Attending")
	message.SetString(en, keyStatusNotAttending, "Not attending")
	message.SetString(en, keyStatusMaybe, "Maybe")
	message.SetString(en, keyStatusPending, "Pending")
	message.SetString(en, keyGuestUnknown, "A guest")
	message.SetString(en, keyTitle, "RSVP update: %s (%s)")
	message.SetString(en, keyMessageOne, "%s responded to the invitation: %s.")
	message.SetString(en, keyMessageMany, "%s responded to the invitation (%d guests): %s.")
	message.SetString(en, keyEmailOpen, "Open the guest list")
	message.SetString(en, keyEmailFooter, "This notification was sent automatically by the wedding planner.")
}

// Localizer is the minimal message-printer contract used to render copy.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// NewLocalizer returns a printer for the closest supported language to raw
// (a BCP 47 tag such as "sq", "sq-XK" or "en-US"). Unknown tags fall back to Albanian.
func NewLocalizer(raw string) *message.Printer {
	return message.NewPrinter(MatchLanguage(raw))
}

// MatchLanguage resolves raw to one of SupportedLanguages.
func MatchLanguage(raw string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(raw))
	if err != nil {
		return SupportedLanguages[0]
	}
	_, idx, conf := languageMatcher.Match(tag)
	if conf == language.No {
		return SupportedLanguages[0]
	}
	return SupportedLanguages[idx]
}

// Content is the rendered copy shared by all channels.
type Content struct {
	Title   string
	Message string
	// Label is the localized status label embedded in Title and Message.
	Label string
}

// StatusLabel returns the localized label for st.
func StatusLabel(loc Localizer, st Status) string {
	switch st {
	case StatusAttending:
		return loc.Sprintf(keyStatusAttending)
	case StatusNotAttending:
		return loc.Sprintf(keyStatusNotAttending)
	case StatusMaybe:
		return loc.Sprintf(keyStatusMaybe)
	default:
		return loc.Sprintf(keyStatusPending)
	}
}

// RenderRSVP builds title and message for an RSVP change.
func RenderRSVP(loc Localizer, ev RSVPEvent) Content {
	label := StatusLabel(loc, ev.Status)
	names := formatGuestNames(loc, ev.GuestNames, ev.GuestCount)

	count := ev.GuestCount
	if n := len(cleanNames(ev.GuestNames)); n > count {
		count = n
	}

	var msg string
	if count <= 1 {
		msg = loc.Sprintf(keyMessageOne, names, label)
	} else {
		msg = loc.Sprintf(keyMessageMany, names, count, label)
	}

	return Content{
		Title:   loc.Sprintf(keyTitle, names, label),
		Message: msg,
		Label:   label,
	}
}

// formatGuestNames shows up to maxNamesShown names and a "+N" suffix for the rest.
func formatGuestNames(loc Localizer, raw []string, count int) string {
	names := cleanNames(raw)
	if len(names) == 0 {
		return loc.Sprintf(keyGuestUnknown)
	}
	shown := names
	if len(shown) > maxNamesShown {
		shown = shown[:maxNamesShown]
	}
	total := count
	if len(names) > total {
		total = len(names)
	}

	out := strings.Join(shown, ", ")
	if extra := total - len(shown); extra > 0 {
		out += " +" + strconv.Itoa(extra)
	}
	return out
}

func cleanNames(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, n := range raw {
		if n = strings.Join(strings.Fields(n), " "); n != "" {
			out = append(out, n)
		}
	}
	return out
}
