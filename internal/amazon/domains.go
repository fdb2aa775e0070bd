// Package amazon extracts structured package-tracking facts from Amazon
// order-notification emails. It recognizes the notification senders of the
// registered marketplaces, pulls a plain-text body out of the raw message,
// and applies per-language pattern tables for status, carrier, tracking
// number, delivery date, and product name.
package amazon

import "strings"

// Marketplace describes one Amazon storefront whose notification emails
// can be tracked.
type Marketplace struct {
	// Name is the human-readable storefront name.
	Name string

	// Sender is the order-notification sender address.
	Sender string

	// Language is the language code used to pick parsing tables.
	Language string
}

// DefaultMarketplace is the marketplace assumed when none is configured.
const DefaultMarketplace = "amazon.de"

// Marketplaces maps marketplace keys to their storefront registration.
var Marketplaces = map[string]Marketplace{
	"amazon.de":    {Name: "Amazon.de", Sender: "order-update@amazon.de", Language: "de"},
	"amazon.com":   {Name: "Amazon.com", Sender: "order-update@amazon.com", Language: "en"},
	"amazon.co.uk": {Name: "Amazon.co.uk", Sender: "order-update@amazon.co.uk", Language: "en"},
	"amazon.ie":    {Name: "Amazon.ie", Sender: "order-update@amazon.ie", Language: "en"},
	"amazon.fr":    {Name: "Amazon.fr", Sender: "order-update@amazon.fr", Language: "fr"},
	"amazon.it":    {Name: "Amazon.it", Sender: "order-update@amazon.it", Language: "it"},
	"amazon.es":    {Name: "Amazon.es", Sender: "order-update@amazon.es", Language: "es"},
}

// Senders returns the notification sender addresses for the given
// marketplace keys. Unknown keys are skipped.
func Senders(keys []string) []string {
	var senders []string
	for _, key := range keys {
		if m, ok := Marketplaces[key]; ok {
			senders = append(senders, m.Sender)
		}
	}
	return senders
}

// senderLanguages returns a lookup from lowercased sender address to the
// marketplace language for the given keys. Unknown keys are skipped.
func senderLanguages(keys []string) map[string]string {
	langs := make(map[string]string)
	for _, key := range keys {
		if m, ok := Marketplaces[key]; ok {
			langs[strings.ToLower(m.Sender)] = m.Language
		}
	}
	return langs
}
