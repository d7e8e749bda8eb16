// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewStore(t.TempDir(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return s
}

func createSession(t *testing.T, s *Store, mode types.Mode) types.Session {
	t.Helper()
	sess := s.NewSession("DeFi yields on Stellar blockchain in 2025", mode, types.SessionConfig{
		NumResearchers:        3,
		MaxRevisionIterations: 3,
		VerificationThreshold: 0.9,
		StyleGuide:            types.StyleTechnical,
	})
	require.NoError(t, s.Create(context.Background(), sess))
	return sess
}

func TestCreateMakesStageDirsAndMetadata(t *testing.T) {
	tests := []struct {
		mode types.Mode
		dirs []string
	}{
		{types.ModeLinear, []string{"00_research", "03_verify", "07_style"}},
		{types.ModeAutonomous, []string{"00_hypotheses", "04_verify", "07_final"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			s := newTestStore(t)
			sess := createSession(t, s, tt.mode)

			for _, d := range tt.dirs {
				info, err := os.Stat(filepath.Join(s.Root(), sess.ID, d))
				require.NoError(t, err)
				assert.True(t, info.IsDir())
			}

			loaded, err := s.Load(sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.Topic, loaded.Topic)
			assert.Equal(t, tt.mode, loaded.Mode)
			assert.Equal(t, types.StatusInitialized, loaded.Status)
			assert.Equal(t, 3, loaded.Config.NumResearchers)
		})
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeLinear)

	err := s.Create(context.Background(), sess)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeLinear)

	_, err := s.Read(sess.ID, "01_draft/draft.md")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load("no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteReadAndCompletionChecks(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeLinear)

	assert.False(t, s.Exists(sess.ID, "01_draft/draft.md"))
	require.NoError(t, s.Write(sess.ID, "01_draft/empty.md", nil))
	assert.True(t, s.Exists(sess.ID, "01_draft/empty.md"))
	assert.False(t, s.IsNonEmpty(sess.ID, "01_draft/empty.md"))

	require.NoError(t, s.Write(sess.ID, "01_draft/draft.md", []byte("# Draft\n")))
	assert.True(t, s.IsNonEmpty(sess.ID, "01_draft/draft.md"))

	require.NoError(t, s.Write(sess.ID, "01_draft/draft.md", []byte("# Draft v2\n")))
	data, err := s.Read(sess.ID, "01_draft/draft.md")
	require.NoError(t, err)
	assert.Equal(t, "# Draft v2\n", string(data))

	entries, err := os.ReadDir(filepath.Join(s.Root(), sess.ID, "01_draft"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestWriteNewIsExclusive(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeAutonomous)

	require.NoError(t, s.WriteNew(sess.ID, "00_hypotheses/hypotheses_v0.yaml", []byte("version: 0\n")))
	err := s.WriteNew(sess.ID, "00_hypotheses/hypotheses_v0.yaml", []byte("version: 0\nother: true\n"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	data, err := s.Read(sess.ID, "00_hypotheses/hypotheses_v0.yaml")
	require.NoError(t, err)
	assert.Equal(t, "version: 0\n", string(data))
}

func TestWriteNewConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeAutonomous)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WriteNew(sess.ID, "00_hypotheses/hypotheses_v1.yaml", []byte("x"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyExists)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestPathRejectsEscapes(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeLinear)

	for _, rel := range []string{"../other/session.yaml", "01_draft/../../x", "/etc/passwd"} {
		_, err := s.Path(sess.ID, rel)
		assert.Error(t, err, rel)
	}
	_, err := s.Path(sess.ID, "01_draft/./draft.md")
	assert.NoError(t, err)
}

func TestListAndListSessions(t *testing.T) {
	s := newTestStore(t)
	a := createSession(t, s, types.ModeLinear)
	b := createSession(t, s, types.ModeLinear)

	ids, err := s.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	assert.True(t, ids[0] < ids[1])

	require.NoError(t, s.Write(a.ID, "00_research/source_2.md", []byte("two")))
	require.NoError(t, s.Write(a.ID, "00_research/source_1.md", []byte("one")))
	require.NoError(t, s.Write(a.ID, "00_research/notes.txt", []byte("n")))
	got, err := s.List(a.ID, DirResearch, "source_*.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"00_research/source_1.md", "00_research/source_2.md"}, got)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeLinear)

	require.NoError(t, s.UpdateStatus(sess.ID, types.StatusRunning, "draft"))
	loaded, err := s.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, loaded.Status)
	assert.Equal(t, "draft", loaded.CurrentStage)
	assert.Equal(t, sess.Topic, loaded.Topic)
	assert.Equal(t, sess.CreatedAt, loaded.CreatedAt)
}

func TestAppendLogAndTranscript(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeLinear)

	require.NoError(t, s.AppendLog(sess.ID, LevelInfo, "stage research started"))
	require.NoError(t, s.AppendLog(sess.ID, LevelError, "multi\nline"))

	lines, err := s.Transcript(sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INFO  stage research started")
	assert.Contains(t, lines[1], "ERROR multi line")
	assert.True(t, strings.HasPrefix(lines[0], "2025-06-01T12:00:00.000Z"))

	last, err := s.Transcript(sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, lines[1:], last)
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	sess := createSession(t, s, types.ModeLinear)

	require.NoError(t, s.Remove(sess.ID))
	ids, err := s.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.ErrorIs(t, s.Remove(sess.ID), ErrNotFound)
}
