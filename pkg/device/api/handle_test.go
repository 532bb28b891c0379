package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpsec/device-trust/pkg/audit"
	"github.com/corpsec/device-trust/pkg/device"
	"github.com/corpsec/device-trust/pkg/fingerprint"
	"github.com/corpsec/device-trust/pkg/mfa"
)

func setupServer(t *testing.T, options device.Options) *httptest.Server {
	t.Helper()

	auditLogger := audit.NewLogger(audit.NewInMemRepository(), nil)
	deviceService := device.NewService(
		device.NewInMemRepository(),
		fingerprint.NewHasher("test-pepper"),
		auditLogger,
		options,
	)
	handle := NewHandle(deviceService, auditLogger, mfa.NewService("test"))

	server := httptest.NewServer(Routes(handle))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHandle_RegisterAndValidate(t *testing.T) {
	server := setupServer(t, device.Options{AutoApprove: true})

	resp := postJSON(t, server.URL+"/register", RegisterRequest{
		EmployeeID:  "emp-001",
		FullName:    "Test Employee",
		DeviceID:    "device-1",
		Fingerprint: "mozilla|gzip|UTC+0|1920x1080",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var registered RegisterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&registered))
	assert.Equal(t, device.StatusApproved, registered.Registration.Status)

	resp = postJSON(t, server.URL+"/validate", ValidateRequest{
		EmployeeID:  "emp-001",
		Fingerprint: "mozilla|gzip|UTC+0|1920x1080",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var validated ValidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&validated))
	assert.True(t, validated.Validation.Valid)
	assert.Equal(t, "FINGERPRINT_MATCH", validated.Validation.Reason)
}

func TestHandle_ValidateUnknownEmployee(t *testing.T) {
	server := setupServer(t, device.Options{})

	resp := postJSON(t, server.URL+"/validate", ValidateRequest{
		EmployeeID:  "ghost",
		Fingerprint: "anything",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var validated ValidateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&validated))
	assert.False(t, validated.Validation.Valid)
	assert.Equal(t, device.ReasonNotRegistered, validated.Validation.Reason)
}

func TestHandle_RegisterMissingFields(t *testing.T) {
	server := setupServer(t, device.Options{})

	resp := postJSON(t, server.URL+"/register", RegisterRequest{
		FullName: "No Employee ID",
		DeviceID: "device-1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_Check(t *testing.T) {
	server := setupServer(t, device.Options{AutoApprove: true})

	resp := postJSON(t, server.URL+"/register", RegisterRequest{
		EmployeeID:  "emp-001",
		FullName:    "Test Employee",
		DeviceID:    "device-1",
		Fingerprint: "fp",
	})
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/check/emp-001/device-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var checked CheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&checked))
	assert.True(t, checked.Registered)
	require.NotNil(t, checked.Registration)
	assert.Equal(t, "emp-001", checked.Registration.EmployeeID)

	resp, err = http.Get(server.URL + "/check/emp-001/wrong-device")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var missing CheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&missing))
	assert.False(t, missing.Registered)
	assert.Nil(t, missing.Registration)
}
