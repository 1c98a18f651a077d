package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/notevault/internal/chunk"
	"github.com/xxxsen/notevault/internal/metrics"
	"github.com/xxxsen/notevault/internal/model"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

func TestWriteSplitsIntoBoundedChunks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 500, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "")
	require.NoError(t, err)

	content := strings.Repeat("abcdefghij", 120)
	require.Len(t, content, 1200)
	require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, content))

	doc := env.document(t, created.ID)
	require.Equal(t, 3, doc.ChunkCount)
	require.Empty(t, doc.LegacyContent)
	chunks, err := env.backend.ListChunks(ctx, created.ID, 0, 10)
	require.NoError(t, err)
	lengths := make([]int, 0, len(chunks))
	for _, c := range chunks {
		lengths = append(lengths, len(c.Text))
	}
	require.Equal(t, []int{500, 500, 200}, lengths)

	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, content, read.Content)
	require.Equal(t, "notes", read.Title)
	require.Equal(t, model.RoleOwner, read.Role)
}

func TestWriteRoundTripAtBoundaries(t *testing.T) {
	const bound = 64
	ctx := context.Background()
	env := newTestEnv(t, bound, 3)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "")
	require.NoError(t, err)

	for _, length := range []int{0, bound - 1, bound, bound + 1, 5*bound + 3, 2} {
		content := strings.Repeat("x", length)
		if length > 0 {
			content = content[:length-1] + "y"
		}
		require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, content))
		read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
		require.NoError(t, err)
		require.Equal(t, content, read.Content)
		require.Equal(t, chunk.Count(length, bound), env.document(t, created.ID).ChunkCount)

		stored, err := env.backend.ListChunks(ctx, created.ID, 0, 100)
		require.NoError(t, err)
		require.Len(t, stored, chunk.Count(length, bound))
	}
}

func TestWriteSkipsUnchangedChunks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 4, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "aaaabbbbcccc")
	require.NoError(t, err)
	env.backend.reset()

	require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, "aaaabbbbcccX"))
	_, _, written := env.backend.stats()
	require.Equal(t, 1, written)

	require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, "aaaabbbbcccXdd"))
	_, _, written = env.backend.stats()
	require.Equal(t, 2, written)

	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, "aaaabbbbcccXdd", read.Content)
}

func TestWriteLegacyDocumentConvertsIt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	docID := env.createLegacy(t, "alice", "old text")

	require.NoError(t, env.svc.WriteDocument(ctx, "alice", docID, "new text"))
	doc := env.document(t, docID)
	require.Empty(t, doc.LegacyContent)
	require.Equal(t, 1, doc.ChunkCount)

	require.NoError(t, env.svc.WriteDocument(ctx, "alice", docID, ""))
	doc = env.document(t, docID)
	require.Equal(t, 0, doc.ChunkCount)
	require.Equal(t, FormatChunked, Classify(doc))
	read, err := env.svc.ReadDocument(ctx, "alice", docID)
	require.NoError(t, err)
	require.Equal(t, "", read.Content)
}

func TestReadReportsChunkGap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 4, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "")
	require.NoError(t, err)

	chunks := []model.Chunk{
		{DocumentID: created.ID, Ordinal: 0, Text: "aaaa"},
		{DocumentID: created.ID, Ordinal: 1, Text: "bbbb"},
		{DocumentID: created.ID, Ordinal: 3, Text: "dddd"},
	}
	require.NoError(t, env.backend.PutChunks(ctx, created.ID, chunks))
	require.NoError(t, env.backend.UpdateDocumentMeta(ctx, model.DocumentMeta{ID: created.ID, ChunkCount: 4, Mtime: 99}))

	_, err = env.svc.ReadDocument(ctx, "alice", created.ID)
	require.ErrorIs(t, err, appErr.ErrChunkGap)
	var gap *appErr.ChunkGapError
	require.ErrorAs(t, err, &gap)
	require.Equal(t, created.ID, gap.DocumentID)
	require.Equal(t, 4, gap.Expected)
	require.Equal(t, []int{0, 1, 3}, gap.Observed)
	require.Equal(t, []int{2}, gap.Missing)
}

func TestDocumentAccessRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "secret")
	require.NoError(t, err)
	require.NoError(t, env.svc.SetCollaborator(ctx, "alice", created.ID, "bob", model.RoleEditor))
	require.NoError(t, env.svc.SetCollaborator(ctx, "alice", created.ID, "carol", model.RoleViewer))

	role, err := env.svc.ResolveAccess(ctx, "bob", created.ID)
	require.NoError(t, err)
	require.Equal(t, model.RoleEditor, role)
	role, err = env.svc.ResolveAccess(ctx, "dave", created.ID)
	require.NoError(t, err)
	require.Equal(t, model.RoleNone, role)

	require.NoError(t, env.svc.WriteDocument(ctx, "bob", created.ID, "edited"))
	require.ErrorIs(t, env.svc.WriteDocument(ctx, "carol", created.ID, "nope"), appErr.ErrPermissionDenied)
	require.ErrorIs(t, env.svc.WriteDocument(ctx, "", created.ID, "nope"), appErr.ErrPermissionDenied)
	require.ErrorIs(t, env.svc.access.AuthorizeWrite(ctx, "carol", created.ID), appErr.ErrPermissionDenied)
	require.NoError(t, env.svc.access.AuthorizeWrite(ctx, "alice", created.ID))

	read, err := env.svc.ReadDocument(ctx, "carol", created.ID)
	require.NoError(t, err)
	require.Equal(t, "edited", read.Content)
	require.Equal(t, model.RoleViewer, read.Role)
	_, err = env.svc.ReadDocument(ctx, "dave", created.ID)
	require.ErrorIs(t, err, appErr.ErrPermissionDenied)

	require.ErrorIs(t, env.svc.SetPublic(ctx, "bob", created.ID, true), appErr.ErrPermissionDenied)
	require.NoError(t, env.svc.SetPublic(ctx, "alice", created.ID, true))
	read, err = env.svc.ReadDocument(ctx, "dave", created.ID)
	require.NoError(t, err)
	require.Equal(t, model.RoleViewer, read.Role)
	require.ErrorIs(t, env.svc.WriteDocument(ctx, "dave", created.ID, "nope"), appErr.ErrPermissionDenied)

	require.NoError(t, env.svc.RemoveCollaborator(ctx, "alice", created.ID, "bob"))
	require.ErrorIs(t, env.svc.WriteDocument(ctx, "bob", created.ID, "nope"), appErr.ErrPermissionDenied)

	_, err = env.svc.ReadDocument(ctx, "alice", "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestCollaboratorValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "")
	require.NoError(t, err)

	require.ErrorIs(t, env.svc.SetCollaborator(ctx, "alice", created.ID, "bob", model.RoleOwner), appErr.ErrInvalid)
	require.ErrorIs(t, env.svc.SetCollaborator(ctx, "alice", created.ID, "alice", model.RoleEditor), appErr.ErrInvalid)
	require.ErrorIs(t, env.svc.SetCollaborator(ctx, "alice", created.ID, "", model.RoleEditor), appErr.ErrInvalid)
	require.ErrorIs(t, env.svc.SetCollaborator(ctx, "bob", created.ID, "carol", model.RoleViewer), appErr.ErrPermissionDenied)
}

func TestCreateAndRenameDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	_, err := env.svc.CreateDocument(ctx, "", "notes", "")
	require.ErrorIs(t, err, appErr.ErrUnauthorized)
	_, err = env.svc.CreateDocument(ctx, "alice", "   ", "")
	require.ErrorIs(t, err, appErr.ErrInvalid)

	created, err := env.svc.CreateDocument(ctx, "alice", " notes ", "body")
	require.NoError(t, err)
	require.Equal(t, "notes", created.Title)
	require.Equal(t, "body", created.Content)

	require.NoError(t, env.svc.UpdateTitle(ctx, "alice", created.ID, "renamed"))
	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", read.Title)
	require.ErrorIs(t, env.svc.UpdateTitle(ctx, "bob", created.ID, "x"), appErr.ErrPermissionDenied)
}

func TestContentCacheFollowsWrites(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 4, 0)
	env.svc = NewNoteService(env.backend, env.hub, Options{ChunkBound: 4, Retry: testRetry(), CacheSize: 16, CacheTTL: time.Minute})
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "aaaabbbb")
	require.NoError(t, err)

	env.backend.reset()
	for i := 0; i < 3; i++ {
		read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
		require.NoError(t, err)
		require.Equal(t, "aaaabbbb", read.Content)
	}
	reads, _, _ := env.backend.stats()
	require.Equal(t, 0, reads)

	require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, "aaaacccc"))
	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, "aaaacccc", read.Content)
}

func TestWriteLargeNoteWithDefaultOptions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 0, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "large", "")
	require.NoError(t, err)
	env.backend.reset()

	content := strings.Repeat("0123456789abcdef", (12<<20)/16)
	require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, content))
	_, puts, written := env.backend.stats()
	require.Greater(t, puts, 1)
	require.Equal(t, chunk.Count(len(content), chunk.DefaultBound), written)

	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, len(content), len(read.Content))
	require.True(t, content == read.Content)
}

func TestGrowingWriteFailureKeepsPreviousContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 4, 2)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "aaaabbbb")
	require.NoError(t, err)
	before := env.document(t, created.ID)
	env.backend.reset()
	env.backend.failPut(2, errors.New("write rejected"))

	err = env.svc.WriteDocument(ctx, "alice", created.ID, "aaaabbbbccccddddeeee")
	var partial *appErr.PartialWriteError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, 2, partial.Committed)
	require.Equal(t, 3, partial.Total)

	after := env.document(t, created.ID)
	require.Equal(t, 2, after.ChunkCount)
	require.Equal(t, before.Mtime, after.Mtime)
	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, "aaaabbbb", read.Content)
}

func TestReadRetriesWhenShrinkingWriteLandsMidRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 4, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "aaaabbbbcccc")
	require.NoError(t, err)
	gapsBefore := promtest.ToFloat64(metrics.ChunkGaps)

	env.backend.onListChunks = func() {
		require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, "zz"))
	}
	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, "zz", read.Content)
	require.Equal(t, gapsBefore, promtest.ToFloat64(metrics.ChunkGaps))
}

func TestShrinkingWriteSurvivesOrphanDeleteFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 4, 0)
	created, err := env.svc.CreateDocument(ctx, "alice", "notes", "aaaabbbbcccc")
	require.NoError(t, err)
	failuresBefore := promtest.ToFloat64(metrics.OrphanDeleteFailures)
	env.backend.deleteErr = errors.New("delete rejected")

	require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, "aaaa"))
	require.Equal(t, failuresBefore+1, promtest.ToFloat64(metrics.OrphanDeleteFailures))
	require.Equal(t, 1, env.document(t, created.ID).ChunkCount)
	read, err := env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, "aaaa", read.Content)

	stale, err := env.backend.ListChunks(ctx, created.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, stale, 3)

	env.backend.deleteErr = nil
	require.NoError(t, env.svc.WriteDocument(ctx, "alice", created.ID, "aaaaddddeeee"))
	read, err = env.svc.ReadDocument(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, "aaaaddddeeee", read.Content)
}
