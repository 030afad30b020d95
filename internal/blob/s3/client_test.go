package s3blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func TestKeyNamespace(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/prod/treasury/")}
	assert.Equal(t, "prod/treasury/reports/s1/x.json", c.key("reports/s1/x.json"))
	assert.Equal(t, "reports/s1/x.json", c.path("prod/treasury/reports/s1/x.json"))

	bare := &Client{prefix: normalisePrefix("")}
	assert.Equal(t, "reports/s1/x.json", bare.key("reports/s1/x.json"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com", normaliseEndpoint("s3.eu-west-1.amazonaws.com", true))
	assert.Equal(t, "http://127.0.0.1:9000", normaliseEndpoint("127.0.0.1:9000", false))
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsNotFound(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.True(t, isNotFound(fmt.Errorf("get: %w", &types.NoSuchKey{})))
	assert.True(t, isNotFound(statusErr(404)))
	assert.False(t, isNotFound(statusErr(403)))
	assert.False(t, isNotFound(errors.New("timeout")))
}
