package vault

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data     []byte
	metadata map[string]string
}

// fakeS3 serves the single-part calls the vault makes. Multipart calls
// fall through to the nil embedded interface.
type fakeS3 struct {
	s3API
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{data: data, metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(obj.data))), Metadata: obj.metadata}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{Metadata: obj.metadata}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != "bucket" {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Vault_ObjectKeys(t *testing.T) {
	fake := newFakeS3()
	v := newS3VaultWithClient("test", "bucket", "/backups/", fake)

	if err := v.PutMetadata("acme", "ledger", strings.NewReader("db"), 2, 3); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	obj, ok := fake.objects["bucket/backups/metadata/acme/ledger"]
	if !ok {
		t.Fatalf("object not stored under expected key; have %v", keys(fake.objects))
	}
	if obj.metadata[versionMetaKey] != "3" {
		t.Errorf("version metadata = %q, want %q", obj.metadata[versionMetaKey], "3")
	}
}

func TestS3Vault_ValidateSetup(t *testing.T) {
	v := newS3VaultWithClient("test", "missing", "", newFakeS3())
	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() expected error for missing bucket")
	}
}

func TestNewS3Vault_RequiresBucket(t *testing.T) {
	if _, err := NewS3Vault(context.Background(), "test", S3Options{}); err == nil {
		t.Error("NewS3Vault() expected error without bucket")
	}
}

func keys(m map[string]fakeObject) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
