package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/beamchat/link-server-go/internal/model"
)

func TestClassifyMissing(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name      string
		tombstone string
		queued    bool
		expiresAt int64
		want      model.PairingStatus
	}{
		{
			name:      "used tombstone reports used",
			tombstone: string(model.ExpiryReasonUsed),
			want:      model.PairingStatusUsed,
		},
		{
			name:      "ttl tombstone reports expired",
			tombstone: string(model.ExpiryReasonTTL),
			want:      model.PairingStatusExpired,
		},
		{
			name:      "evicted but not yet swept reports expired",
			queued:    true,
			expiresAt: now.Add(-5 * time.Second).Unix(),
			want:      model.PairingStatusExpired,
		},
		{
			name:      "queued with time remaining stays unknown",
			queued:    true,
			expiresAt: now.Add(30 * time.Second).Unix(),
			want:      "",
		},
		{
			name: "no trace at all stays unknown",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyMissing(tc.tombstone, tc.queued, tc.expiresAt, now)
			assert.Equal(t, tc.want, got)
		})
	}
}
