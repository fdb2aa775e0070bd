package amazon

import (
	"bytes"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mfeld/parcelwatch/internal/model"
)

// Parser turns raw order-notification emails into package facts for a
// configured set of marketplaces.
type Parser struct {
	senders map[string]string
	logger  *slog.Logger
	now     func() time.Time
}

// NewParser creates a parser tracking the given marketplace keys.
// Unknown keys are ignored. A nil logger falls back to slog.Default.
func NewParser(marketplaces []string, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		senders: senderLanguages(marketplaces),
		logger:  logger,
		now:     time.Now,
	}
}

// Parse extracts a package fact from a raw RFC 5322 message. It returns
// nil when the message is not a tracked notification: unreadable
// headers, a sender outside the configured set, or no order number in
// subject or body. Every other extraction step is best-effort and
// degrades to an absent field rather than failing the parse.
func (p *Parser) Parse(raw []byte) *model.Package {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		p.logger.Debug("skipping unreadable message", "error", err)
		return nil
	}

	sender := p.senderAddress(mr.Header)
	lang, ok := p.senders[sender]
	if !ok {
		p.logger.Debug("skipping message from untracked sender", "sender", sender)
		return nil
	}

	subject, _ := mr.Header.Subject()
	date, err := mr.Header.Date()
	if err != nil || date.IsZero() {
		date = p.now()
	}

	body := bodyText(mr)

	orderNumber := orderNumberPattern.FindString(subject)
	if orderNumber == "" {
		orderNumber = orderNumberPattern.FindString(body)
	}
	if orderNumber == "" {
		p.logger.Debug("skipping message without order number", "subject", subject)
		return nil
	}

	pkg := &model.Package{
		OrderNumber: orderNumber,
		Status:      detectStatus(subject),
		Carrier:     extractCarrier(body, lang),
		LastUpdated: date,
		OrderDate:   date,
	}
	pkg.TrackingNumber = extractTrackingNumber(body, pkg.Carrier)
	pkg.EstimatedDelivery = p.extractDeliveryDate(body)
	pkg.ProductName = extractProductName(body)

	return pkg
}

// senderAddress returns the lowercased bare From address, or "" when
// the header is missing or unparsable.
func (p *Parser) senderAddress(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return strings.ToLower(strings.TrimSpace(addrs[0].Address))
	}
	return bareAddress(h.Get("From"))
}

// detectStatus scans the subject against the status rules in their
// fixed order; the first matching rule wins.
func detectStatus(subject string) model.Status {
	for _, rule := range statusRules {
		for _, re := range rule.patterns {
			if re.MatchString(subject) {
				return rule.status
			}
		}
	}
	return model.StatusOrdered
}

// extractCarrier matches the body against the carrier table for the
// given language, falling back to the English table for languages
// without one.
func extractCarrier(body, lang string) string {
	patterns, ok := carrierPatterns[lang]
	if !ok {
		patterns = carrierPatterns["en"]
	}
	for _, re := range patterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractTrackingNumber tries the carrier's registered formats first,
// then the generic keyword scan.
func extractTrackingNumber(body, carrier string) string {
	if carrier != "" {
		if patterns, ok := trackingPatterns[carrier]; ok {
			for _, re := range patterns {
				if m := re.FindStringSubmatch(body); m != nil {
					return m[1]
				}
			}
		}
	}
	for _, re := range genericTrackingPatterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}

// extractDeliveryDate returns the promised delivery date in yyyy-mm-dd
// form, or "". A day+month match without a year assumes the current
// year, rolling into the next one when that date has already passed.
func (p *Parser) extractDeliveryDate(body string) string {
	now := p.now()
	for _, dp := range datePatterns {
		m := dp.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		switch dp.form {
		case dateNumericDMY:
			day, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			if t, ok := buildDate(year, month, day, now.Location()); ok {
				return t.Format("2006-01-02")
			}
		case dateDayMonthName:
			day, _ := strconv.Atoi(m[1])
			if s := resolveDayMonth(day, m[2], now); s != "" {
				return s
			}
		case dateMonthNameDay:
			day, _ := strconv.Atoi(m[2])
			if s := resolveDayMonth(day, m[1], now); s != "" {
				return s
			}
		}
	}
	return ""
}

// resolveDayMonth builds a date from a day and a month name, inferring
// the year relative to now.
func resolveDayMonth(day int, monthName string, now time.Time) string {
	month, ok := monthNames[strings.ToLower(monthName)]
	if !ok {
		return ""
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	t, ok := buildDate(now.Year(), month, day, now.Location())
	if !ok {
		return ""
	}
	if t.Before(today) {
		t, ok = buildDate(now.Year()+1, month, day, now.Location())
		if !ok {
			return ""
		}
	}
	return t.Format("2006-01-02")
}

// buildDate constructs a date, rejecting values that time.Date would
// silently normalize, like February 30.
func buildDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// extractProductName pulls a short product description from labeled
// lines or quoted text, truncated to 100 characters.
func extractProductName(body string) string {
	for _, re := range productPatterns {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		runes := []rune(name)
		if len(runes) <= 5 {
			continue
		}
		if len(runes) > 100 {
			name = string(runes[:100])
		}
		return name
	}
	return ""
}
