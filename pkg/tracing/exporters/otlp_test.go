package exporters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := ParseHeaders(" api-key = abc , ,tenant=clover")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api-key": "abc", "tenant": "clover"}, headers)

	empty, err := ParseHeaders("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseHeaders("novalue")
	assert.Error(t, err)
	_, err = ParseHeaders("=x")
	assert.Error(t, err)
}

func TestNewOTLPExporter_Invalid(t *testing.T) {
	_, err := NewOTLPExporter(context.Background(), OTLPConfig{Protocol: "grpc"})
	assert.Error(t, err)

	_, err = NewOTLPExporter(context.Background(), OTLPConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	assert.Error(t, err)
}
