package s3

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	inputs []*s3manager.UploadInput
	bodies [][]byte
	err    error
}

func (f *fakeUploader) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), in, opts...)
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3manager.UploadOutput{Location: "https://bucket.example.test/" + aws.StringValue(in.Key)}, nil
}

func TestContractStore_Put(t *testing.T) {
	up := &fakeUploader{}
	store := NewContractStoreWithUploader(up, "rentlane-contracts")

	ref, err := store.Put(context.Background(), "contracts/r-1.txt", []byte("VEHICLE RENTAL AGREEMENT"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "s3://rentlane-contracts/contracts/r-1.txt", ref)

	require.Len(t, up.inputs, 1)
	in := up.inputs[0]
	assert.Equal(t, "rentlane-contracts", aws.StringValue(in.Bucket))
	assert.Equal(t, "text/plain; charset=utf-8", aws.StringValue(in.ContentType))
	assert.Equal(t, "AES256", aws.StringValue(in.ServerSideEncryption))
	assert.Equal(t, "VEHICLE RENTAL AGREEMENT", string(up.bodies[0]))
}

func TestContractStore_PutFailure(t *testing.T) {
	store := NewContractStoreWithUploader(&fakeUploader{err: errors.New("access denied")}, "b")

	_, err := store.Put(context.Background(), "k", nil, "text/plain")
	assert.ErrorContains(t, err, "access denied")
}
