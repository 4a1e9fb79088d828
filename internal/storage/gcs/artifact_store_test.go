package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prefix  string
		key     string
		want    string
		wantErr bool
	}{
		{name: "no prefix", key: "a.epub", want: "a.epub"},
		{name: "prefix trimmed", prefix: "/books/", key: "a.epub", want: "books/a.epub"},
		{name: "nested key", prefix: "books", key: "2024/a.epub", want: "books/2024/a.epub"},
		{name: "empty key", key: "  ", wantErr: true},
		{name: "traversal", prefix: "books", key: "../a.epub", wantErr: true},
		{name: "dot segments", key: "x/./a.epub", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := New(&storage.Client{}, Config{Bucket: "bucket", Prefix: tt.prefix})
			require.NoError(t, err)
			got, err := store.objectName(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
