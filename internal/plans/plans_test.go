package plans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	r := Default()

	free := r.LimitsFor(Free)
	assert.Equal(t, int64(10_000_000), free.MaxFileSizeBytes)
	require.NotNil(t, free.MaxPhotosPerEvent)
	assert.Equal(t, 100, *free.MaxPhotosPerEvent)

	pro := r.LimitsFor(" PRO ")
	assert.Equal(t, Pro, pro.Plan)
	assert.True(t, pro.Unlimited())

	for _, name := range []string{Free, Starter, Hobby, Pro, Business} {
		assert.Equal(t, name, r.LimitsFor(name).Plan)
	}
}

func TestUnknownPlanIsMostRestrictive(t *testing.T) {
	r := Default()
	assert.Equal(t, r.LimitsFor(Free), r.LimitsFor("enterprise-trial"))
	assert.Equal(t, r.LimitsFor(Free), r.LimitsFor(""))
}

func TestRemaining(t *testing.T) {
	limit := 10
	l := Limits{MaxPhotosPerEvent: &limit}

	rem, ok := l.Remaining(4)
	assert.True(t, ok)
	assert.Equal(t, 6, rem)

	rem, _ = l.Remaining(12)
	assert.Equal(t, 0, rem)

	_, ok = Limits{}.Remaining(1000)
	assert.False(t, ok)
}

func TestParseRejectsBadTables(t *testing.T) {
	_, err := Parse([]byte("pro:\n  max_file_size: 5MB\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("free:\n  max_file_size: lots\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("free:\n  max_file_size: 1MB\n  max_photos_per_event: -1\n"))
	assert.Error(t, err)
}
