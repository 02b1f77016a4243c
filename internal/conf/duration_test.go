package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var casesDuration = []struct {
	name string
	dec  Duration
	enc  string
}{
	{
		"standard",
		Duration(13456 * time.Millisecond),
		`"13.456s"`,
	},
	{
		"days",
		Duration(50*13456*time.Second + 10*time.Millisecond),
		`"7d18h53m20.01s"`,
	},
	{
		"days negative",
		Duration(-50*13456*time.Second - 10*time.Millisecond),
		`"-7d18h53m20.01s"`,
	},
	{
		"zero",
		Duration(0),
		`"0s"`,
	},
}

func TestDurationUnmarshal(t *testing.T) {
	for _, ca := range casesDuration {
		t.Run(ca.name, func(t *testing.T) {
			var dec Duration
			err := dec.UnmarshalJSON([]byte(ca.enc))
			require.NoError(t, err)
			require.Equal(t, ca.dec, dec)
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	for _, ca := range casesDuration {
		t.Run(ca.name, func(t *testing.T) {
			enc, err := json.Marshal(ca.dec)
			require.NoError(t, err)
			require.Equal(t, ca.enc, string(enc))
		})
	}
}
