package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addItemRequest struct {
	ProductID int64  `json:"productId" validate:"required,gt=0"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=99"`
	Name      string `json:"name" validate:"omitempty,max=10"`
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate_Success(t *testing.T) {
	err := Validate(addItemRequest{ProductID: 7, Quantity: 2, Name: "Mug"})
	assert.NoError(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	fields := fieldsOf(t, Validate(addItemRequest{Quantity: 1}))
	assert.Equal(t, "is required", fields["productId"])
}

func TestValidate_OutOfRange(t *testing.T) {
	fields := fieldsOf(t, Validate(addItemRequest{ProductID: 7, Quantity: 150}))
	assert.Contains(t, fields["quantity"], "99")

	fields = fieldsOf(t, Validate(addItemRequest{ProductID: 7, Quantity: 0}))
	assert.Equal(t, "must be greater than or equal to 1", fields["quantity"])
}

func TestValidate_StringMax(t *testing.T) {
	fields := fieldsOf(t, Validate(addItemRequest{ProductID: 7, Quantity: 1, Name: "an overly long name"}))
	assert.Equal(t, "must be at most 10 characters", fields["name"])
}

type numericMin struct {
	Stock int `validate:"min=2"`
}

func TestValidate_NumericMin(t *testing.T) {
	fields := fieldsOf(t, Validate(numericMin{Stock: 1}))
	assert.Equal(t, "must be at least 2", fields["Stock"])
}

func TestValidate_Gt(t *testing.T) {
	fields := fieldsOf(t, Validate(addItemRequest{ProductID: -1, Quantity: 1}))
	assert.Equal(t, "must be greater than 0", fields["productId"])
}

type modeStruct struct {
	Mode string `validate:"oneof=guest remote"`
}

func TestValidate_OneOf(t *testing.T) {
	fields := fieldsOf(t, Validate(modeStruct{Mode: "offline"}))
	assert.Contains(t, fields["Mode"], "one of")
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(addItemRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'productId'")
	assert.Contains(t, err.Error(), "is required")
}

func TestDecodeAndValidate_Success(t *testing.T) {
	body := `{"productId":7,"quantity":3}`
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))

	var s addItemRequest
	require.NoError(t, DecodeAndValidate(req, &s))
	assert.Equal(t, int64(7), s.ProductID)
	assert.Equal(t, 3, s.Quantity)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{invalid"))

	var s addItemRequest
	err := DecodeAndValidate(req, &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_UnknownField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":7,"quantity":1,"qty":4}`))

	var s addItemRequest
	err := DecodeAndValidate(req, &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_ValidationFails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":0,"quantity":1}`))

	var s addItemRequest
	err := DecodeAndValidate(req, &s)
	require.Error(t, err)
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}
