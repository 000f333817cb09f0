package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.inputs = append(f.inputs, input)
	return &manager.UploadOutput{}, nil
}

func TestS3ArchiverArchiveBundle(t *testing.T) {
	l := NewLog()
	appendN(t, l, 3)
	bundle, err := l.ExportBundle(Filter{})
	require.NoError(t, err)

	fu := &fakeUploader{}
	archiver := &S3Archiver{bucket: "evidence", prefix: "credence", uploader: fu}

	key, err := archiver.ArchiveBundle(context.Background(), bundle)
	require.NoError(t, err)

	require.Len(t, fu.inputs, 1)
	assert.Equal(t, "evidence", *fu.inputs[0].Bucket)
	assert.True(t, strings.HasPrefix(key, "credence/audit/"), "unexpected key layout: %s", key)
	assert.True(t, strings.HasSuffix(key, ".json"))
	assert.Contains(t, key, bundle.BundleID)
}

func TestS3ArchiverRefusesTamperedBundle(t *testing.T) {
	l := NewLog()
	appendN(t, l, 2)
	bundle, err := l.ExportBundle(Filter{})
	require.NoError(t, err)
	bundle.Entries[0].Actor = "forged"

	fu := &fakeUploader{}
	archiver := &S3Archiver{bucket: "evidence", uploader: fu}

	_, err = archiver.ArchiveBundle(context.Background(), bundle)
	require.Error(t, err)
	assert.Empty(t, fu.inputs, "tampered bundle must not be uploaded")
}
