package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	day, err := ParseDate("20171114")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2017, time.November, 14, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseDate("2017-11-14")
	assert.Error(t, err)
	_, err = ParseDate("")
	assert.Error(t, err)
}

func TestFormatDate(t *testing.T) {
	day := time.Date(2017, time.June, 1, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, "20170601", FormatDate(day))
}

func TestMaturity(t *testing.T) {
	day := time.Date(2017, time.November, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "201711", Maturity(day))
}

func TestMaturityDisplay(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"201711", "NOV-17"},
		{"201801", "JAN-18"},
		{"202006", "JUN-20"},
	}
	for _, tt := range tests {
		got, err := MaturityDisplay(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := MaturityDisplay("17NOV")
	assert.Error(t, err)
}
