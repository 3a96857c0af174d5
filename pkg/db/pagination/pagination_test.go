package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimAndCursorRoundTrip(t *testing.T) {
	rows := []int{1, 2, 3, 4}
	page, info := Trim(rows, 3, strconv.Itoa)

	assert.Equal(t, []int{1, 2, 3}, page)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "3", cursor.ID)

	page, info = Trim(rows, 10, strconv.Itoa)
	assert.Len(t, page, 4)
	assert.False(t, info.HasMore)
}
