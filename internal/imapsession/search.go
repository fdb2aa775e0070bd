package imapsession

import (
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
)

// searchCriteria builds the server-side filter for tracked senders: an
// OR across all sender addresses plus a SINCE date floor. The
// protocol's OR is strictly binary, so multiple senders nest.
func searchCriteria(senders []string, since time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{Since: since}
	if len(senders) == 0 {
		return criteria
	}

	acc := fromCriteria(senders[0])
	for _, sender := range senders[1:] {
		acc = imap.SearchCriteria{
			Or: [][2]imap.SearchCriteria{{acc, fromCriteria(sender)}},
		}
	}
	criteria.Header = acc.Header
	criteria.Or = acc.Or
	return criteria
}

func fromCriteria(sender string) imap.SearchCriteria {
	return imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
	}
}

// formatSearchCriteria renders the equivalent textual query, used for
// debug logging and tests.
func formatSearchCriteria(senders []string, since time.Time) string {
	sinceClause := "SINCE " + since.Format("02-Jan-2006")
	if len(senders) == 0 {
		return "(" + sinceClause + ")"
	}

	query := fmt.Sprintf("FROM %q", senders[0])
	for _, sender := range senders[1:] {
		query = fmt.Sprintf("OR %s FROM %q", query, sender)
	}
	return "(" + query + " " + sinceClause + ")"
}
