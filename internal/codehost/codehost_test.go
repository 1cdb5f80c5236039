package codehost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeClient_ListChangedFiles(t *testing.T) {
	fc := NewFakeClient()
	fc.Files["acme/widgets#42"] = []ChangedFile{{Path: "main.go", Status: "modified"}}

	files, err := fc.ListChangedFiles(context.Background(), "acme/widgets", 42)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "main.go", files[0].Path)
}

func TestFakeClient_PostCommentDeduplicatesByContentHash(t *testing.T) {
	fc := NewFakeClient()
	ctx := context.Background()

	require.NoError(t, fc.PostComment(ctx, "acme/widgets", 42, "looks good"))
	require.NoError(t, fc.PostComment(ctx, "acme/widgets", 42, "looks good"))

	require.Len(t, fc.Comments, 1, "identical content must be posted only once")
}

func TestFakeClient_FetchFileContentMissingIsError(t *testing.T) {
	fc := NewFakeClient()
	_, err := fc.FetchFileContent(context.Background(), "acme/widgets", "main.go", "deadbeef")
	require.Error(t, err)
}

func TestParseChangeURL(t *testing.T) {
	ref, err := ParseChangeURL("https://github.com/acme/widgets/pull/42")
	require.NoError(t, err)
	require.Equal(t, "acme", ref.Owner)
	require.Equal(t, "widgets", ref.Repo)
	require.Equal(t, 42, ref.ChangeNumber)

	_, err = ParseChangeURL("not a url")
	require.Error(t, err)
}
