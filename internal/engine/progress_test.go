package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTorBotProgress_ClassifiesLines(t *testing.T) {
	t.Parallel()

	progress := NewTorBotProgress()
	progress.Observe("found http://alpha.onion/page and http://beta.onion/")
	progress.Observe("contact admin@alpha.onion for access")
	progress.Observe("call +1 (555) 123-4567")
	progress.Observe("crawling at depth: 3")
	progress.Observe("no intel on this line")

	snap := progress.Snapshot()
	require.Equal(t, int64(2), snap.Links)
	require.Equal(t, int64(1), snap.Emails)
	require.Equal(t, int64(1), snap.Phones)
	require.Equal(t, int64(3), snap.Depth)
}

func TestTorBotProgress_EmailWinsOverLink(t *testing.T) {
	t.Parallel()

	progress := NewTorBotProgress()
	progress.Observe("mailto admin@site.onion found on http://site.onion/contact")

	snap := progress.Snapshot()
	require.Equal(t, int64(1), snap.Emails)
	require.Equal(t, int64(0), snap.Links)
}

func TestTorBotProgress_DepthKeepsLatestValue(t *testing.T) {
	t.Parallel()

	progress := NewTorBotProgress()
	progress.Observe("Depth=1")
	progress.Observe("depth 4")
	require.Equal(t, int64(4), progress.Snapshot().Depth)
}
