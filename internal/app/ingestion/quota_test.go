package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/ingest/pkg/domain/shared"
)

func TestQuota_Validate(t *testing.T) {
	t.Run("unenforced always passes", func(t *testing.T) {
		q := &Quota{Limit: 10, Used: 100, Enforced: false}
		assert.NoError(t, q.Validate())
	})

	t.Run("under the limit passes", func(t *testing.T) {
		q := &Quota{Limit: 10, Used: 9, Enforced: true}
		assert.NoError(t, q.Validate())
	})

	t.Run("exhausted is a quota error", func(t *testing.T) {
		q := &Quota{Limit: 10, Used: 10, Enforced: true}
		err := q.Validate()
		require.Error(t, err)
		assert.True(t, shared.IsQuotaExceeded(err))
	})
}

func TestQuota_Remaining(t *testing.T) {
	assert.Equal(t, -1, (&Quota{Limit: 10, Used: 3}).Remaining())
	assert.Equal(t, 7, (&Quota{Limit: 10, Used: 3, Enforced: true}).Remaining())
	assert.Equal(t, 0, (&Quota{Limit: 10, Used: 12, Enforced: true}).Remaining())
}
