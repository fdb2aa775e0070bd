package imapsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSince = time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

func TestSearchCriteriaSingleSender(t *testing.T) {
	criteria := searchCriteria([]string{"order-update@amazon.de"}, testSince)

	assert.Equal(t, testSince, criteria.Since)
	require.Len(t, criteria.Header, 1)
	assert.Equal(t, "From", criteria.Header[0].Key)
	assert.Equal(t, "order-update@amazon.de", criteria.Header[0].Value)
	assert.Empty(t, criteria.Or)
}

func TestSearchCriteriaNestsMultipleSenders(t *testing.T) {
	criteria := searchCriteria([]string{"a@amazon.de", "b@amazon.com", "c@amazon.fr"}, testSince)

	assert.Empty(t, criteria.Header)
	require.Len(t, criteria.Or, 1)

	// ((a OR b) OR c): the protocol's OR is binary, so the senders
	// accumulate left-nested.
	outer := criteria.Or[0]
	require.Len(t, outer[1].Header, 1)
	assert.Equal(t, "c@amazon.fr", outer[1].Header[0].Value)

	require.Len(t, outer[0].Or, 1)
	inner := outer[0].Or[0]
	require.Len(t, inner[0].Header, 1)
	assert.Equal(t, "a@amazon.de", inner[0].Header[0].Value)
	require.Len(t, inner[1].Header, 1)
	assert.Equal(t, "b@amazon.com", inner[1].Header[0].Value)
}

func TestSearchCriteriaNoSenders(t *testing.T) {
	criteria := searchCriteria(nil, testSince)

	assert.Equal(t, testSince, criteria.Since)
	assert.Empty(t, criteria.Header)
	assert.Empty(t, criteria.Or)
}

func TestFormatSearchCriteria(t *testing.T) {
	assert.Equal(t,
		`(FROM "order-update@amazon.de" SINCE 15-Feb-2025)`,
		formatSearchCriteria([]string{"order-update@amazon.de"}, testSince))

	assert.Equal(t,
		`(OR FROM "order-update@amazon.de" FROM "order-update@amazon.com" SINCE 15-Feb-2025)`,
		formatSearchCriteria([]string{"order-update@amazon.de", "order-update@amazon.com"}, testSince))

	assert.Equal(t,
		`(OR OR FROM "a@amazon.de" FROM "b@amazon.com" FROM "c@amazon.fr" SINCE 15-Feb-2025)`,
		formatSearchCriteria([]string{"a@amazon.de", "b@amazon.com", "c@amazon.fr"}, testSince))

	assert.Equal(t, "(SINCE 15-Feb-2025)", formatSearchCriteria(nil, testSince))
}
