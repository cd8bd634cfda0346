package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("failed to resolve price: %w", Validation("unknown product"))

	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, Is(err, KindValidation))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Equal(t, "unknown product", PublicMessage(err))
}

func TestUnavailableHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:443: connection refused")
	err := Unavailable(cause)

	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
	assert.Equal(t, UnavailableMessage, PublicMessage(err))
	assert.ErrorIs(t, err, cause)
}

func TestUnclassifiedErrorIsInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, "Internal server error", PublicMessage(err))
	assert.False(t, IsClientFacing(err))
}

func TestClientFacingKinds(t *testing.T) {
	assert.True(t, IsClientFacing(Auth("authentication failed")))
	assert.True(t, IsClientFacing(NotFound("missing")))
	assert.False(t, IsClientFacing(Persistence("write failed", errors.New("db"))))
	assert.False(t, IsClientFacing(nil))
}
