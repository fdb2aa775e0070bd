package amazon

import (
	"regexp"

	"github.com/mfeld/parcelwatch/internal/model"
)

// orderNumberPattern matches Amazon's ddd-ddddddd-ddddddd order numbers.
var orderNumberPattern = regexp.MustCompile(`\d{3}-\d{7}-\d{7}`)

// statusRule associates a delivery status with the subject keywords that
// announce it, across the supported notification languages.
type statusRule struct {
	status   model.Status
	patterns []*regexp.Regexp
}

// statusRules is scanned in order against the subject; the first matching
// rule wins. Detection is keyword presence only, so the scan order is fixed
// independently of status priority. Subjects matching nothing are order
// confirmations in practice, so ordered is the default.
var statusRules = []statusRule{
	{model.StatusShipped, []*regexp.Regexp{
		regexp.MustCompile(`(?i)versandt|versendet|unterwegs|auf dem weg`),
		regexp.MustCompile(`(?i)shipped|dispatched|on its way|on the way`),
		regexp.MustCompile(`(?i)expédié`),
	}},
	{model.StatusOutForDelivery, []*regexp.Regexp{
		regexp.MustCompile(`(?i)zustellung heute|wird heute zugestellt|kommt heute`),
		regexp.MustCompile(`(?i)out for delivery|arriving today`),
		regexp.MustCompile(`(?i)en cours de livraison`),
	}},
	{model.StatusDelivered, []*regexp.Regexp{
		regexp.MustCompile(`(?i)zugestellt|geliefert`),
		regexp.MustCompile(`(?i)delivered`),
		regexp.MustCompile(`(?i)livré`),
	}},
	{model.StatusOrdered, []*regexp.Regexp{
		regexp.MustCompile(`(?i)bestellung aufgegeben|bestellbestätigung|vielen dank für ihre bestellung`),
		regexp.MustCompile(`(?i)order confirmation|thank you for your order|order placed`),
		regexp.MustCompile(`(?i)confirmation de commande|merci pour votre commande`),
	}},
}

// carrierPatterns holds per-language carrier detection patterns. Each
// pattern captures the carrier name in group 1, either after a shipping
// preposition or before a tracking keyword. Longer carrier names come
// first in the alternations so "Amazon Logistics" is not cut to "Amazon".
var carrierPatterns = map[string][]*regexp.Regexp{
	"de": {
		regexp.MustCompile(`(?:mit|durch|von|per)\s+(Amazon Logistics|Deutsche Post|DHL|Hermes|DPD|GLS|UPS|FedEx|Amazon)`),
		regexp.MustCompile(`(Amazon Logistics|Deutsche Post|DHL|Hermes|DPD|GLS|UPS|FedEx)\s+(?:Sendungsnummer|Trackingnummer|Paketnummer|Sendungsverfolgung)`),
	},
	"en": {
		regexp.MustCompile(`(?:with|by|via|through)\s+(Amazon Logistics|Royal Mail|An Post|UPS|USPS|FedEx|DHL|Amazon)`),
		regexp.MustCompile(`(Amazon Logistics|Royal Mail|UPS|USPS|FedEx|DHL)\s+(?:[Tt]racking|[Ss]hipment)`),
	},
	"fr": {
		regexp.MustCompile(`(?:par|avec|via)\s+(Amazon Logistics|Mondial Relay|La Poste|Chronopost|Colissimo|DHL|UPS|GLS|Amazon)`),
		regexp.MustCompile(`(Chronopost|Colissimo|DHL|UPS|GLS)\s+(?:[Nn]uméro|[Ss]uivi)`),
	},
}

// trackingPatterns holds per-carrier tracking-number formats, tried in
// order. Carriers without an entry fall back to the generic keyword scan.
var trackingPatterns = map[string][]*regexp.Regexp{
	"DHL": {
		regexp.MustCompile(`\b(\d{12})\b`),
		regexp.MustCompile(`\b(\d{20})\b`),
		regexp.MustCompile(`\b(JJD\d{16,18})\b`),
	},
	"Hermes": {
		regexp.MustCompile(`\b(H\d{19})\b`),
		regexp.MustCompile(`\b(\d{14})\b`),
	},
	"DPD": {
		regexp.MustCompile(`\b(\d{14})\b`),
	},
	"GLS": {
		regexp.MustCompile(`\b(\d{11,12})\b`),
	},
	"UPS": {
		regexp.MustCompile(`\b(1Z[0-9A-Z]{16})\b`),
	},
	"USPS": {
		regexp.MustCompile(`\b(9[2345]\d{20,24})\b`),
	},
	"FedEx": {
		regexp.MustCompile(`\b(\d{12,15})\b`),
	},
	"Amazon Logistics": {
		regexp.MustCompile(`\b(TBA\d{12,15})\b`),
	},
	"Deutsche Post": {
		regexp.MustCompile(`\b([A-Z]{2}\d{9}DE)\b`),
	},
	"Colissimo": {
		regexp.MustCompile(`\b([0-9][A-Z]\d{11})\b`),
	},
	"Chronopost": {
		regexp.MustCompile(`\b([A-Z]{2}\d{9}[A-Z]{2})\b`),
	},
}

// genericTrackingPatterns is the fallback when the carrier is unknown or
// has no registered format: a tracking keyword followed by an 8-30
// character alphanumeric token. Known to false-positive on order numbers
// and product codes when they follow a keyword.
var genericTrackingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[Tt]racking[- ]?(?:[Nn]ummer|[Nn]umber|ID|[Nn]uméro|[Nn]úmero)[:\s]+([A-Z0-9]{8,30})`),
	regexp.MustCompile(`[Ss]endungsnummer[:\s]+([A-Z0-9]{8,30})`),
	regexp.MustCompile(`[Pp]aketnummer[:\s]+([A-Z0-9]{8,30})`),
}

// dateForm tells the extractor what the capture groups of a date pattern
// mean.
type dateForm int

const (
	// dateDayMonthName captures (day, month name); the year is inferred.
	dateDayMonthName dateForm = iota
	// dateNumericDMY captures (day, month, year) as digits.
	dateNumericDMY
	// dateMonthNameDay captures (month name, day); the year is inferred.
	dateMonthNameDay
)

type datePattern struct {
	re   *regexp.Regexp
	form dateForm
}

// datePatterns is tried in order against the body; the first match wins.
var datePatterns = []datePattern{
	{regexp.MustCompile(`[Zz]ustellung (?:am|bis)?\s*\p{L}+,?\s*(\d{1,2})\.\s*(\p{L}+)`), dateDayMonthName},
	{regexp.MustCompile(`[Ll]ieferung\s+(?:am\s+)?(\d{1,2})\.(\d{1,2})\.(\d{4})`), dateNumericDMY},
	{regexp.MustCompile(`[Dd]elivery\s+(?:by|on)\s+\p{L}+,?\s+(\p{L}+)\s+(\d{1,2})`), dateMonthNameDay},
	{regexp.MustCompile(`[Aa]rriving\s+\p{L}+,?\s+(\p{L}+)\s+(\d{1,2})`), dateMonthNameDay},
	{regexp.MustCompile(`[Ll]ivraison\s+(?:le\s+)?\p{L}+\s+(\d{1,2})\s+(\p{L}+)`), dateDayMonthName},
	{regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`), dateNumericDMY},
}

// monthNames resolves German, English, and French month names, lowercased.
// Spellings shared between languages appear once.
var monthNames = map[string]int{
	"januar": 1, "februar": 2, "märz": 3, "april": 4, "mai": 5, "juni": 6,
	"juli": 7, "august": 8, "september": 9, "oktober": 10, "november": 11, "dezember": 12,

	"january": 1, "february": 2, "march": 3, "may": 5, "june": 6,
	"july": 7, "october": 10, "december": 12,

	"janvier": 1, "février": 2, "mars": 3, "avril": 4, "juin": 6,
	"juillet": 7, "août": 8, "septembre": 9, "octobre": 10, "novembre": 11, "décembre": 12,
}

// productPatterns extracts a product name from labeled lines or a quoted
// string, in order of preference.
var productPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:Artikel|Item|Article|Producto):\s*(.+?)(?:\n|$)`),
	regexp.MustCompile(`(?:Produktname|Product name|Nom du produit):\s*(.+?)(?:\n|$)`),
	regexp.MustCompile(`"([^"]{5,100})"`),
}
