package filestate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/rfsc/filestate"
)

func TestFormatParseRoundTrip(t *testing.T) {
	cases := []filestate.State{
		{Path: "/a/b/c.txt", FileSize: 123, Checksum: "abcdef"},
		{Path: "path with spaces.txt", FileSize: 0, Checksum: "x"},
		{Path: "quote\"inside.txt", FileSize: 9999999999, Checksum: "deadbeef"},
		filestate.Tombstone("/removed/path"),
	}

	for _, s := range cases {
		line := filestate.Format(s)

		parsed, err := filestate.Parse(line)
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
}

func TestTombstone(t *testing.T) {
	ts := filestate.Tombstone("/a/b")

	require.True(t, ts.IsTombstone())
	require.Equal(t, "/a/b", ts.Path)

	live := filestate.State{Path: "/a/b", FileSize: 1, Checksum: "x"}
	require.False(t, live.IsTombstone())
}

func TestParseMalformedLine(t *testing.T) {
	_, err := filestate.Parse("not a valid line")
	require.Error(t, err)
}
