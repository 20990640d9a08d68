package blobstore

import (
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

func newMockedDriveStore(t *testing.T) *DriveStore {
	t.Helper()

	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	store, err := NewDriveStore(t.Context(), conf.DriveSettings{FolderID: "folder-1"}, "", logger.NewDiscardLogger(),
		option.WithHTTPClient(client))
	require.NoError(t, err)
	return store
}

func TestDriveStoreURL(t *testing.T) {
	store := newMockedDriveStore(t)
	assert.Equal(t, "gdrive://folder-1/reference-images/pump.png", store.URL("reference-images/pump.png"))
}

func TestDriveStoreDeleteFindsFileByKey(t *testing.T) {
	store := newMockedDriveStore(t)

	httpmock.RegisterResponder("GET", `=~^https://www\.googleapis\.com/drive/v3/files`,
		httpmock.NewStringResponder(http.StatusOK, `{"files":[{"id":"file-42"}]}`))
	httpmock.RegisterResponder("DELETE", `=~^https://www\.googleapis\.com/drive/v3/files/file-42`,
		httpmock.NewStringResponder(http.StatusNoContent, ""))

	require.NoError(t, store.Delete(t.Context(), store.URL("annotation-media/abc.png")))

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info[`DELETE =~^https://www\.googleapis\.com/drive/v3/files/file-42`])
}

func TestDriveStoreDeleteMissingSucceeds(t *testing.T) {
	store := newMockedDriveStore(t)

	httpmock.RegisterResponder("GET", `=~^https://www\.googleapis\.com/drive/v3/files`,
		httpmock.NewStringResponder(http.StatusOK, `{"files":[]}`))

	require.NoError(t, store.Delete(t.Context(), store.URL("annotation-media/abc.png")))
}

func TestDriveStoreSearchFailureIsTransferError(t *testing.T) {
	store := newMockedDriveStore(t)

	httpmock.RegisterResponder("GET", `=~^https://www\.googleapis\.com/drive/v3/files`,
		httpmock.NewStringResponder(http.StatusForbidden, `{"error":{"code":403,"message":"denied"}}`))

	err := store.Delete(t.Context(), store.URL("annotation-media/abc.png"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMediaTransfer))
}

func TestNewDriveStoreRequiresFolder(t *testing.T) {
	_, err := NewDriveStore(t.Context(), conf.DriveSettings{}, "", logger.NewDiscardLogger())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
