package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNestedField(t *testing.T) {
	msg := statusResponse(t, testFiles(t), 12345)

	cases := []struct {
		name      string
		fieldPath string
		wantValue string
		wantErr   string
	}{
		{name: "top level", fieldPath: "height", wantValue: "12345"},
		{name: "message", fieldPath: "sdk_block.header"},
		{name: "nested leaf", fieldPath: "sdk_block.header.height", wantValue: "12345"},
		{name: "nested string", fieldPath: "sdk_block.header.chain_id", wantValue: "manifest-1"},
		{name: "unset field", fieldPath: "earliest_store_height", wantValue: "0"},
		{name: "unknown field", fieldPath: "nonexistent", wantErr: "field 'nonexistent' not found"},
		{name: "unknown nested field", fieldPath: "sdk_block.nonexistent", wantErr: "field 'nonexistent' not found"},
		{name: "through a scalar", fieldPath: "height.something", wantErr: "'height' is not a message"},
		{name: "through a list", fieldPath: "tags.something", wantErr: "'tags' is not a message"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			val, err := getNestedField(msg, tc.fieldPath)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			if tc.wantValue == "" {
				assert.True(t, val.Message().IsValid())
				return
			}
			assert.Equal(t, tc.wantValue, val.String())
		})
	}
}

func TestParseMethodFullName(t *testing.T) {
	cases := []struct {
		name           string
		methodFullName string
		wantService    string
		wantMethod     string
		wantErr        string
	}{
		{
			name:           "cosmos method",
			methodFullName: "cosmos.base.node.v1beta1.Service.Status",
			wantService:    "cosmos.base.node.v1beta1.Service",
			wantMethod:     "Status",
		},
		{name: "short", methodFullName: "svc.Method", wantService: "svc", wantMethod: "Method"},
		{name: "empty", methodFullName: "", wantErr: "method full name is empty"},
		{name: "no dot", methodFullName: "Status", wantErr: "no dot found"},
		{name: "no service", methodFullName: ".Status", wantErr: "invalid method full name format"},
		{name: "no method", methodFullName: "svc.", wantErr: "invalid method full name format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service, method, err := ParseMethodFullName(tc.methodFullName)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantService, service)
			assert.Equal(t, tc.wantMethod, method)
		})
	}
}

func TestGetGRPCResponse(t *testing.T) {
	c := startTestNode(t, &testNode{height: 4242})

	out, err := GetGRPCResponse(c, statusMethod, 1, nil)
	require.NoError(t, err)
	var resp struct {
		Height   string `json:"height"`
		SdkBlock struct {
			Header struct {
				ChainID string `json:"chainId"`
			} `json:"header"`
		} `json:"sdkBlock"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "4242", resp.Height)
	assert.Equal(t, "manifest-1", resp.SdkBlock.Header.ChainID)

	_, err = GetGRPCResponse(c, "cosmos.base.node.v1beta1.Service.Missing", 1, nil)
	assert.ErrorContains(t, err, "method Missing not found")

	_, err = GetGRPCResponse(c, getBlockByHeightMethod, 1, []byte(`{"height":`))
	assert.ErrorContains(t, err, "failed to unmarshal input")
}

func TestGetGRPCResponseRetriesTransientErrors(t *testing.T) {
	node := &testNode{height: 77, unavailable: 2}
	c := startTestNode(t, node)

	height, err := LatestHeight(c, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), height)
	assert.Equal(t, int32(3), node.statusCalls.Load())
}

func TestGetGRPCResponseGivesUp(t *testing.T) {
	node := &testNode{height: 77, unavailable: 10}
	c := startTestNode(t, node)

	_, err := LatestHeight(c, 2)
	assert.ErrorContains(t, err, "node is syncing")
	assert.Equal(t, int32(2), node.statusCalls.Load())
}
