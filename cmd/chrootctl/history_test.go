package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/chrootctl/internal/history"
	"github.com/sigreer/chrootctl/internal/logging"
)

func TestReleaseHint(t *testing.T) {
	cases := map[string]string{
		history.KindMount: "umount -R /tmp/root",
		history.KindLUKS:  "cryptsetup luksClose /tmp/root",
		history.KindKey:   "zfs unload-key /tmp/root",
		history.KindPool:  "zpool export /tmp/root",
		"other":           "-",
	}
	for kind, want := range cases {
		assert.Equal(t, want, releaseHint(&history.ResourceRecord{Kind: kind, Name: "/tmp/root"}), kind)
	}
}

func TestPrintHistory(t *testing.T) {
	color.NoColor = true

	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	rec := history.NewRecorder(db, logging.Nop())
	rec.Begin("/tmp/chrootctl-root-mount-1")
	rec.Root("/dev/sda2")
	rec.Acquired(history.KindPool, "rpool")
	rec.Released(history.KindPool, "rpool", errors.New("pool is busy"))
	rec.End(nil)

	sessions, err := db.Sessions(10)
	require.NoError(t, err)
	var buf bytes.Buffer
	printSessions(&buf, sessions)
	assert.Contains(t, buf.String(), "/dev/sda2")
	assert.Contains(t, buf.String(), history.StatusFinished)

	pending, err := db.PendingResources()
	require.NoError(t, err)
	buf.Reset()
	printPending(&buf, pending)
	assert.Contains(t, buf.String(), "zpool export rpool")
	assert.Contains(t, buf.String(), "pool is busy")

	buf.Reset()
	printPending(&buf, nil)
	assert.Equal(t, "Nothing pending\n", buf.String())
}
