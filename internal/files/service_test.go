package files

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-notes-backend/internal/model"
	"collab-notes-backend/internal/store"
)

// fakeBlobs records blob operations in memory.
type fakeBlobs struct {
	objects   map[string][]byte
	removed   []string
	uploadErr error
	removeErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Upload(_ context.Context, key string, data []byte, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Remove(_ context.Context, key string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, key)
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeBlobs) GetPublicURL(key string) string {
	return "https://files.test/" + key
}

// failingInsertStore fails inserts into one collection, passing everything
// else through to the wrapped store.
type failingInsertStore struct {
	store.Store
	failCollection string
}

func (f *failingInsertStore) Insert(ctx context.Context, collection string, row any) error {
	if collection == f.failCollection {
		return errors.New("insert rejected")
	}
	return f.Store.Insert(ctx, collection, row)
}

func testKey(meetingID, fileName string) string {
	return "meetings/" + meetingID + "/" + fileName
}

func newTestService(st store.Store, blobs BlobStore) *Service {
	return NewService(st, blobs, testKey, 1024, 3)
}

func TestUploadStoresBlobAndMetadata(t *testing.T) {
	st := store.NewMemoryStore(nil)
	blobs := newFakeBlobs()
	svc := newTestService(st, blobs)
	ctx := context.Background()

	file, err := svc.Upload(ctx, "m1", "수진", "plan.pdf", "application/pdf", []byte("%PDF-"))
	require.NoError(t, err)

	assert.Equal(t, "plan.pdf", file.FileName)
	assert.Equal(t, "meetings/m1/plan.pdf", file.StorageKey)
	assert.Equal(t, "https://files.test/meetings/m1/plan.pdf", file.FileURL)
	assert.Equal(t, int64(5), file.FileSize)
	assert.Equal(t, []byte("%PDF-"), blobs.objects[file.StorageKey])

	var rows []model.MeetingFile
	require.NoError(t, st.Select(ctx, "meeting_files", store.Eq("meeting_id", "m1"), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "수진", rows[0].Uploader)

	var acts []model.MeetingActivity
	require.NoError(t, st.Select(ctx, "meeting_activities", store.Eq("meeting_id", "m1"), &acts))
	require.Len(t, acts, 1)
	assert.Equal(t, model.ActivityUploadFile, acts[0].ActivityType)

	payload, err := model.DecodePayload(acts[0].ActivityType, acts[0].ActivityData)
	require.NoError(t, err)
	assert.Equal(t, &model.UploadFilePayload{FileName: "plan.pdf", FileSize: 5}, payload)
}

func TestUploadValidation(t *testing.T) {
	st := store.NewMemoryStore(nil)
	svc := newTestService(st, newFakeBlobs())
	ctx := context.Background()

	_, err := svc.Upload(ctx, "m1", "수진", "empty.txt", "text/plain", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = svc.Upload(ctx, "m1", "수진", "big.txt", "text/plain", []byte(strings.Repeat("a", 1025)))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = svc.Upload(ctx, "m1", "수진", "run.exe", "application/x-msdownload", []byte{0x4d, 0x5a})
	assert.ErrorIs(t, err, ErrTypeNotAllowed)
}

func TestUploadEnforcesFileCap(t *testing.T) {
	st := store.NewMemoryStore(nil)
	svc := newTestService(st, newFakeBlobs())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Upload(ctx, "m1", "수진", fmt.Sprintf("f%d.txt", i), "text/plain", []byte("x"))
		require.NoError(t, err)
	}

	_, err := svc.Upload(ctx, "m1", "수진", "f3.txt", "text/plain", []byte("x"))
	assert.ErrorIs(t, err, ErrTooManyFiles)

	// 다른 회의의 파일 수에는 영향이 없다
	_, err = svc.Upload(ctx, "m2", "수진", "other.txt", "text/plain", []byte("x"))
	assert.NoError(t, err)
}

func TestUploadRollsBackBlobWhenInsertFails(t *testing.T) {
	st := &failingInsertStore{Store: store.NewMemoryStore(nil), failCollection: "meeting_files"}
	blobs := newFakeBlobs()
	svc := newTestService(st, blobs)

	_, err := svc.Upload(context.Background(), "m1", "수진", "plan.pdf", "application/pdf", []byte("%PDF-"))
	require.Error(t, err)

	assert.Empty(t, blobs.objects)
	assert.Equal(t, []string{"meetings/m1/plan.pdf"}, blobs.removed)
}

func TestDeleteRemovesRowAndBlob(t *testing.T) {
	st := store.NewMemoryStore(nil)
	blobs := newFakeBlobs()
	svc := newTestService(st, blobs)
	ctx := context.Background()

	file, err := svc.Upload(ctx, "m1", "수진", "plan.pdf", "application/pdf", []byte("%PDF-"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "m1", "민호", file.ID))

	var rows []model.MeetingFile
	require.NoError(t, st.Select(ctx, "meeting_files", store.Eq("meeting_id", "m1"), &rows))
	assert.Empty(t, rows)
	assert.Empty(t, blobs.objects)

	var acts []model.MeetingActivity
	q := store.Eq("meeting_id", "m1").And("activity_type", string(model.ActivityDeleteFile))
	require.NoError(t, st.Select(ctx, "meeting_activities", q, &acts))
	require.Len(t, acts, 1)
	assert.Equal(t, "민호", acts[0].UserName)
}

func TestDeleteUnknownFile(t *testing.T) {
	svc := newTestService(store.NewMemoryStore(nil), newFakeBlobs())
	err := svc.Delete(context.Background(), "m1", "수진", "missing-id")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDeleteSurvivesBlobFailure(t *testing.T) {
	st := store.NewMemoryStore(nil)
	blobs := newFakeBlobs()
	svc := newTestService(st, blobs)
	ctx := context.Background()

	file, err := svc.Upload(ctx, "m1", "수진", "plan.pdf", "application/pdf", []byte("%PDF-"))
	require.NoError(t, err)

	// 블롭 삭제가 실패해도 행은 이미 삭제된 상태를 유지한다
	blobs.removeErr = errors.New("s3 down")
	require.NoError(t, svc.Delete(ctx, "m1", "수진", file.ID))

	var rows []model.MeetingFile
	require.NoError(t, st.Select(ctx, "meeting_files", store.Eq("meeting_id", "m1"), &rows))
	assert.Empty(t, rows)
}

func TestListNewestFirst(t *testing.T) {
	st := store.NewMemoryStore(nil)
	svc := newTestService(st, newFakeBlobs())
	ctx := context.Background()

	_, err := svc.Upload(ctx, "m1", "수진", "first.txt", "text/plain", []byte("1"))
	require.NoError(t, err)
	_, err = svc.Upload(ctx, "m1", "수진", "second.txt", "text/plain", []byte("2"))
	require.NoError(t, err)

	rows, err := svc.List(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "second.txt", rows[0].FileName)
	assert.Equal(t, "first.txt", rows[1].FileName)
}
