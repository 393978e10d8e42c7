package objectstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ohowland/cgc_cim/internal/pkg/stream"
	"gotest.tools/v3/assert"
)

type memAPI struct {
	objects map[string][]byte
}

func (m *memAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (m *memAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

var snapshot = []stream.Record{
	{Payload: &stream.BaseVoltage{MRID: "bv1", NominalVoltage: 415}},
	{Payload: &stream.EnergyConsumer{Equipment: stream.Equipment{MRID: "ec1", BaseVoltageMRID: "bv1"}, CustomerCount: 3}},
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, key := range []string{"feeder/snapshot.jsonl", "feeder/snapshot.jsonl.gz"} {
		t.Run(key, func(t *testing.T) {
			api := &memAPI{objects: map[string][]byte{}}
			assert.NilError(t, WriteS3(context.Background(), api, "nets", key, snapshot))

			src, err := OpenS3(context.Background(), api, "nets", key)
			assert.NilError(t, err)
			defer src.Close()

			n, stats, err := stream.RetrieveNetwork(context.Background(), src, nil)
			assert.NilError(t, err)
			assert.Equal(t, stats.Applied, 2)
			assert.Equal(t, n.Summary().Equipment, 1)
		})
	}
}

func TestOpenS3MissingObject(t *testing.T) {
	_, err := OpenS3(context.Background(), &memAPI{objects: map[string][]byte{}}, "nets", "none.jsonl")
	assert.ErrorContains(t, err, "get s3://nets/none.jsonl")
}

func TestOpenS3NotGzip(t *testing.T) {
	api := &memAPI{objects: map[string][]byte{"x.gz": []byte("plain")}}
	_, err := OpenS3(context.Background(), api, "nets", "x.gz")
	assert.ErrorContains(t, err, "s3://nets/x.gz")
}

type objectTransport struct {
	body string
	path string
}

func (o *objectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	o.path = req.URL.Path
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/x-ndjson"}},
		Body:       io.NopCloser(strings.NewReader(o.body)),
	}, nil
}

func TestOpenS3WithClient(t *testing.T) {
	rt := &objectTransport{body: `{"ps": {"MRID": "ps1", "Code": "A1"}}` + "\n"}
	client, err := NewClient(context.Background(), Config{Bucket: "nets", Endpoint: "https://objects.local", PathStyle: true},
		func(o *s3.Options) {
			o.HTTPClient = &http.Client{Transport: rt}
			o.Credentials = credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")
		})
	assert.NilError(t, err)

	src, err := OpenS3(context.Background(), client, "nets", "tariffs.jsonl")
	assert.NilError(t, err)
	defer src.Close()
	assert.Equal(t, rt.path, "/nets/tariffs.jsonl")

	rec, err := src.Next(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, rec.Payload.(*stream.PricingStructure).Code, "A1")
	_, err = src.Next(context.Background())
	assert.Assert(t, errors.Is(err, io.EOF))
}
