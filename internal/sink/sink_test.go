package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"gocloud.dev/blob"
)

func TestFunc_TypedContext(t *testing.T) {
	type counter struct{ calls, bytes int }
	c := &counter{}
	s := NewFunc(c, func(p []byte, ctx *counter) error {
		ctx.calls++
		ctx.bytes += len(p)
		return nil
	})
	s.Accept([]byte("abc"))
	s.Accept([]byte("de"))
	if c.calls != 2 || c.bytes != 5 {
		t.Errorf("counter = %+v", *c)
	}

	var empty Func[int]
	if err := empty.Accept([]byte("x")); err != nil {
		t.Errorf("nil handler Accept() error = %v", err)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	os.WriteFile(path, []byte("previous content"), 0644)

	f, err := CreateFile(path)
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	f.Accept([]byte("new"))
	f.Accept([]byte(" data"))
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "new data" {
		t.Errorf("file = %q, want %q", got, "new data")
	}
}

func TestFile_BorrowedStaysOpen(t *testing.T) {
	osf, err := os.Create(filepath.Join(t.TempDir(), "borrowed"))
	if err != nil {
		t.Fatal(err)
	}
	defer osf.Close()

	f := NewFile(osf)
	f.Accept([]byte("a"))
	f.Close()
	if _, err := osf.Write([]byte("b")); err != nil {
		t.Errorf("borrowed file closed by sink: %v", err)
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	var updates []int64
	p := &Progress{
		Next:     AcceptFunc(func(b []byte) error { buf.Write(b); return nil }),
		OnUpdate: func(total int64) { updates = append(updates, total) },
	}
	p.Accept([]byte("1234"))
	p.Accept([]byte("56"))
	if p.Total() != 6 || buf.String() != "123456" {
		t.Errorf("total = %d, buf = %q", p.Total(), buf.String())
	}
	if len(updates) != 2 || updates[1] != 6 {
		t.Errorf("updates = %v", updates)
	}

	boom := errors.New("boom")
	failing := &Progress{Next: AcceptFunc(func([]byte) error { return boom })}
	if err := failing.Accept([]byte("x")); !errors.Is(err, boom) || failing.Total() != 0 {
		t.Errorf("Accept() = %v, total %d", err, failing.Total())
	}
}

func TestCompressed(t *testing.T) {
	payload := bytes.Repeat([]byte("range chunk payload "), 500)

	tests := []struct {
		kind   string
		reader func(io.Reader) (io.Reader, error)
	}{
		{CompressGzip, func(r io.Reader) (io.Reader, error) { return pgzip.NewReader(r) }},
		{CompressZstd, func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out"+Extension(tt.kind))
			c, err := CreateCompressed(path, tt.kind)
			if err != nil {
				t.Fatalf("CreateCompressed() error = %v", err)
			}
			for i := 0; i < len(payload); i += 900 {
				if err := c.Accept(payload[i:min(i+900, len(payload))]); err != nil {
					t.Fatalf("Accept() error = %v", err)
				}
			}
			if err := c.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			f, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			r, err := tt.reader(f)
			if err != nil {
				t.Fatalf("open reader: %v", err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("decompressed %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestCompressed_UnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	if _, err := CreateCompressed(path, "lz4"); err == nil {
		t.Error("CreateCompressed() accepted an unknown kind")
	}
}

func TestBlob(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	b, err := NewBlob(ctx, bucket, "fw/image.bin")
	if err != nil {
		t.Fatalf("NewBlob() error = %v", err)
	}
	b.Accept([]byte("part one,"))
	b.Accept([]byte("part two"))
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := bucket.ReadAll(ctx, "fw/image.bin")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "part one,part two" {
		t.Errorf("blob = %q", got)
	}
}

func TestBlob_Abort(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	b, err := NewBlob(ctx, bucket, "partial")
	if err != nil {
		t.Fatalf("NewBlob() error = %v", err)
	}
	b.Accept([]byte("half"))
	b.Abort()
	if ok, _ := bucket.Exists(ctx, "partial"); ok {
		t.Error("aborted blob was committed")
	}
}

func TestOpenBlob_UnknownScheme(t *testing.T) {
	if _, err := OpenBlob(context.Background(), "nosuch://bucket", "k"); err == nil {
		t.Error("OpenBlob() accepted an unregistered scheme")
	}
}

type fakeUploader struct {
	bucket, key string
	body        []byte
	err         error
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.bucket, f.key = aws.ToString(in.Bucket), aws.ToString(in.Key)
	body, err := io.ReadAll(in.Body)
	f.body = body
	if err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{}, nil
}

func TestS3(t *testing.T) {
	up := &fakeUploader{}
	s := newS3(context.Background(), up, "firmware", "v2/image.bin")
	s.Accept([]byte("abc"))
	s.Accept([]byte("def"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if up.bucket != "firmware" || up.key != "v2/image.bin" || string(up.body) != "abcdef" {
		t.Errorf("uploaded %s/%s = %q", up.bucket, up.key, up.body)
	}
}

func TestS3_UploadError(t *testing.T) {
	up := &fakeUploader{err: errors.New("access denied")}
	s := newS3(context.Background(), up, "b", "k")
	s.Accept([]byte("abc"))
	if err := s.Close(); err == nil {
		t.Error("Close() succeeded after upload failure")
	}
}

func TestS3_Abort(t *testing.T) {
	up := &fakeUploader{}
	s := newS3(context.Background(), up, "b", "k")
	s.Accept([]byte("abc"))
	s.Abort(errors.New("download failed"))
	if err := s.Close(); err == nil {
		t.Error("Close() after Abort should report the aborted upload")
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		raw       string
		bucket    string
		key       string
		expectErr bool
	}{
		{"s3://bucket/key.bin", "bucket", "key.bin", false},
		{"s3://bucket/dir/key.bin", "bucket", "dir/key.bin", false},
		{"s3://bucket", "", "", true},
		{"s3:///key", "", "", true},
		{"http://bucket/key", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := ParseS3URL(tt.raw)
		if (err != nil) != tt.expectErr {
			t.Errorf("ParseS3URL(%q) error = %v, expectErr %v", tt.raw, err, tt.expectErr)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseS3URL(%q) = %q, %q", tt.raw, bucket, key)
		}
	}
}
