package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiresAtFor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	thirty := 30
	seven := 7
	zero := 0

	got := ExpiresAtFor(DurationMinutes, &thirty, now)
	require.NotNil(t, got)
	assert.Equal(t, now.Add(30*time.Minute), *got)

	got = ExpiresAtFor(DurationDays, &seven, now)
	require.NotNil(t, got)
	assert.Equal(t, now.Add(7*24*time.Hour), *got)

	assert.Nil(t, ExpiresAtFor(DurationPermanent, &thirty, now))
	assert.Nil(t, ExpiresAtFor(DurationMinutes, nil, now))
	assert.Nil(t, ExpiresAtFor(DurationMinutes, &zero, now))
	assert.Nil(t, ExpiresAtFor(DurationType("weeks"), &seven, now))
}
