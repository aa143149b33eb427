package main

import (
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	msgNoData             = "no_data"
	msgCaptureFailed      = "capture_failed"
	msgCaptureSaved       = "capture_saved"
	msgFieldRequired      = "field_required"
	msgFieldInvalid       = "field_invalid"
	msgRemoteFailed       = "remote_failed"
	msgSubmitted          = "submitted"
	msgTransitionFired    = "transition_fired"
	msgPermissionDenied   = "permission_denied"
	msgNoMedia            = "no_media"
	msgMediaTooLarge      = "media_too_large"
	msgWrongMediaType     = "wrong_media_type"
	msgGeoUnavailable     = "geolocation_unavailable"
	msgGeoOutOfRange      = "geolocation_out_of_range"
	msgScanTimeout        = "scan_timeout"
	msgScanNoCode         = "scan_no_code"
	msgNoFile             = "no_file"
	msgNothingToExport    = "nothing_to_export"
	msgUnsupportedCapture = "unsupported_capture"
)

type translation struct {
	key string
	en  string
	fr  string
}

var translations = []translation{
	{msgNoData, "No data", "Aucune donnée"},
	{msgCaptureFailed, "Could not capture %s: %s", "Impossible de capturer %s : %s"},
	{msgCaptureSaved, "%s captured", "%s capturé"},
	{msgFieldRequired, "%s is required", "%s est obligatoire"},
	{msgFieldInvalid, "%s has an invalid value", "%s contient une valeur invalide"},
	{msgRemoteFailed, "The server could not complete the request: %s", "Le serveur n'a pas pu traiter la demande : %s"},
	{msgSubmitted, "Form submitted", "Formulaire envoyé"},
	{msgTransitionFired, "%s done", "%s effectué"},
	{msgPermissionDenied, "permission was denied", "l'autorisation a été refusée"},
	{msgNoMedia, "no recording was received", "aucun enregistrement reçu"},
	{msgMediaTooLarge, "the recording is too large", "l'enregistrement est trop volumineux"},
	{msgWrongMediaType, "the recording has the wrong type", "l'enregistrement n'a pas le bon type"},
	{msgGeoUnavailable, "location is unavailable", "la position est indisponible"},
	{msgGeoOutOfRange, "location is out of range", "la position est hors limites"},
	{msgScanTimeout, "no code was found before the scan timed out", "aucun code trouvé avant la fin du délai"},
	{msgScanNoCode, "no code was found", "aucun code trouvé"},
	{msgNoFile, "no file was selected", "aucun fichier sélectionné"},
	{msgNothingToExport, "there is nothing to export", "rien à exporter"},
	{msgUnsupportedCapture, "this field does not capture data", "ce champ ne capture pas de données"},
}

var dateTimeLayouts = map[language.Tag]string{
	language.English: "Jan 2, 2006, 3:04 PM",
	language.French:  "02/01/2006 15:04",
}

// Localizers holds the catalog and hands out one Localizer per request.
type Localizers struct {
	catalog   *catalog.Builder
	supported []language.Tag
	matcher   language.Matcher
	fallback  language.Tag
	location  *time.Location
	known     map[string]bool
}

func NewLocalizers(defaultLang string, loc *time.Location) *Localizers {
	b := catalog.NewBuilder()
	known := make(map[string]bool, len(translations))
	for _, t := range translations {
		_ = b.SetString(language.English, t.key, t.en)
		_ = b.SetString(language.French, t.key, t.fr)
		known[t.key] = true
	}
	supported := []language.Tag{language.English, language.French}
	fallback := language.English
	if tag, err := language.Parse(defaultLang); err == nil {
		_, idx, _ := language.NewMatcher(supported).Match(tag)
		fallback = supported[idx]
	}
	// The fallback goes first so that the matcher returns it for unknown languages.
	ordered := []language.Tag{fallback}
	for _, tag := range supported {
		if tag != fallback {
			ordered = append(ordered, tag)
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Localizers{
		catalog:   b,
		supported: ordered,
		matcher:   language.NewMatcher(ordered),
		fallback:  fallback,
		location:  loc,
		known:     known,
	}
}

// For returns the Localizer for an Accept-Language header value.
func (ls *Localizers) For(acceptLanguage string) *Localizer {
	tag := ls.fallback
	if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
		_, idx, conf := ls.matcher.Match(tags...)
		if conf != language.No {
			tag = ls.supported[idx]
		}
	}
	return &Localizer{
		tag:      tag,
		printer:  message.NewPrinter(tag, message.Catalog(ls.catalog)),
		location: ls.location,
		known:    ls.known,
	}
}

func (ls *Localizers) ForRequest(r *http.Request) *Localizer {
	return ls.For(r.Header.Get("Accept-Language"))
}

// Localizer formats user-facing text in one language.
type Localizer struct {
	tag      language.Tag
	printer  *message.Printer
	location *time.Location
	known    map[string]bool
}

func (l *Localizer) Language() language.Tag {
	return l.tag
}

func (l *Localizer) T(key string, args ...any) string {
	return l.printer.Sprintf(key, args...)
}

// Text translates key when it is a catalog key and returns it unchanged otherwise.
func (l *Localizer) Text(s string) string {
	if l.known[s] {
		return l.printer.Sprintf(s)
	}
	return s
}

func (l *Localizer) NoData() string {
	return l.T(msgNoData)
}

func (l *Localizer) FormatDateTime(t time.Time) string {
	layout, ok := dateTimeLayouts[l.tag]
	if !ok {
		layout = dateTimeLayouts[language.English]
	}
	return t.In(l.location).Format(layout)
}
