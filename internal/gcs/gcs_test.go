package gcs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunObjectName(t *testing.T) {
	ts := time.Date(2026, 8, 31, 6, 15, 0, 0, time.UTC)
	assert.Equal(t, "okta-sync/2026/08/31/okta-sync-20260831T061500Z.log",
		RunObjectName("okta-sync", ts, ".log"))
}

func TestRunObjectNameConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2026, 8, 30, 23, 0, 0, 0, loc)
	assert.Equal(t, "woo-sync/2026/08/31/woo-sync-20260831T040000Z.csv",
		RunObjectName("woo-sync", ts, ".csv"))
}
