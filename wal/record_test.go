package wal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tsstore/datapoint"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []datapoint.Observation{
		{Timestamp: 1000, Metric: "cpu.usage", Value: 45.2, Tags: map[string]string{"host": "s1"}},
		{Timestamp: 0, Metric: "no.tags", Value: -3.1e4, Tags: nil},
		{Timestamp: 5, Metric: "weird,metric;with=chars\\here", Value: 1, Tags: map[string]string{
			"k,ey": "va;l=ue\\end",
		}},
	}

	for _, want := range cases {
		line := EncodeRecord(want)
		got, err := DecodeRecord(line)
		require.NoError(t, err)
		require.Equal(t, want.Timestamp, got.Timestamp)
		require.Equal(t, want.Metric, got.Metric)
		require.Equal(t, want.Value, got.Value)
		require.Equal(t, want.Tags, got.Tags)
	}
}

func TestDecodeRecordMalformed(t *testing.T) {
	malformed := []string{
		"",
		"not,enough,fields",
		"abc,metric,1.0,",
		"1000,metric,notafloat,",
	}
	for _, line := range malformed {
		_, err := DecodeRecord(line)
		require.Error(t, err, "expected error for line %q", line)
	}
}

func TestDecodeRecordDropsPairWithoutEquals(t *testing.T) {
	obs, err := DecodeRecord("1000,cpu,1.5,host=s1;malformed;dc=w")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"host": "s1", "dc": "w"}, obs.Tags)
}

func TestDecodeRecordNaN(t *testing.T) {
	obs, err := DecodeRecord("1000,cpu,NaN,")
	require.NoError(t, err)
	require.True(t, obs.Value != obs.Value, "expected NaN")
}

func TestEscapeUnescapeSymmetry(t *testing.T) {
	inputs := []string{"", "plain", "a,b", "a;b", "a=b", `a\b`, "a,b;c=d\\e"}
	for _, in := range inputs {
		require.Equal(t, in, unescapeField(escapeField(in)))
	}
}

func TestSplitNUnescapedRespectsEscapes(t *testing.T) {
	parts, ok := splitNUnescaped(`1,a\,b,2.0,host=s1`, ',', 3)
	require.True(t, ok)
	require.Equal(t, []string{"1", `a\,b`, "2.0", "host=s1"}, parts)
}
