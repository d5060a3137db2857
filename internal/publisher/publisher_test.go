package publisher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
)

const testCID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

// ── IPFS ──

func newPinataServer(t *testing.T, stored map[string][]byte) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/pinning/pinFileToIPFS", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var opts map[string]int
		_ = json.Unmarshal([]byte(r.FormValue("pinataOptions")), &opts)
		if opts["cidVersion"] != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)

		mu.Lock()
		_, dup := stored[testCID]
		stored[testCID] = data
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"IpfsHash":    testCID,
			"PinSize":     len(data),
			"isDuplicate": dup,
		})
	})
	mux.HandleFunc("/ipfs/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		data, ok := stored[strings.TrimPrefix(r.URL.Path, "/ipfs/")]
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	})
	return httptest.NewServer(mux)
}

func TestIPFSPublisher_PublishAndResolve(t *testing.T) {
	stored := map[string][]byte{}
	srv := newPinataServer(t, stored)
	defer srv.Close()

	p := NewIPFSPublisher(&config.IPFSConfig{APIURL: srv.URL, GatewayURL: srv.URL, JWT: "test-jwt"}, zap.NewNop())
	ctx := context.Background()

	addr, err := p.Publish(ctx, []byte("%PDF-1.3 certificate"))
	require.NoError(t, err)
	assert.Equal(t, testCID, addr)

	again, err := p.Publish(ctx, []byte("%PDF-1.3 certificate"))
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	data, err := p.Resolve(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3 certificate"), data)
}

func TestIPFSPublisher_Errors(t *testing.T) {
	srv := newPinataServer(t, map[string][]byte{})
	defer srv.Close()
	ctx := context.Background()

	unauthorized := NewIPFSPublisher(&config.IPFSConfig{APIURL: srv.URL, GatewayURL: srv.URL, JWT: "wrong"}, zap.NewNop())
	_, err := unauthorized.Publish(ctx, []byte("data"))
	assert.Error(t, err)

	p := NewIPFSPublisher(&config.IPFSConfig{APIURL: srv.URL, GatewayURL: srv.URL, JWT: "test-jwt"}, zap.NewNop())
	_, err = p.Publish(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = p.Resolve(ctx, "not a cid")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = p.Resolve(ctx, testCID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ── S3 ──

type fakeS3 struct {
	s3iface.S3API
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "req-1")
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.types[*in.Key] = aws.StringValue(in.ContentType)
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Publisher_ContentAddressedAndIdempotent(t *testing.T) {
	fake := newFakeS3()
	p := NewS3PublisherWithClient(fake, "degree-artifacts", zap.NewNop())
	ctx := context.Background()
	data := []byte("%PDF-1.3\n%certificate body")

	addr, err := p.Publish(ctx, data)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), addr)
	assert.Equal(t, "application/pdf", fake.types["artifacts/"+hex.EncodeToString(sum[:])])

	again, err := p.Publish(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, 1, fake.puts, "相同内容不应重复上传")

	back, err := p.Resolve(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestS3Publisher_ResolveErrors(t *testing.T) {
	fake := newFakeS3()
	p := NewS3PublisherWithClient(fake, "degree-artifacts", zap.NewNop())
	ctx := context.Background()

	_, err := p.Resolve(ctx, "md5:abc")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = p.Resolve(ctx, "sha256:"+strings.Repeat("z", 64))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = p.Resolve(ctx, "sha256:"+strings.Repeat("a", 64))
	assert.ErrorIs(t, err, ErrNotFound)

	// 对象被篡改
	fake.objects["artifacts/"+strings.Repeat("b", 64)] = []byte("tampered")
	_, err = p.Resolve(ctx, "sha256:"+strings.Repeat("b", 64))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(&config.PublisherConfig{Driver: "ftp"}, zap.NewNop())
	assert.Error(t, err)
}
