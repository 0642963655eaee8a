package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/teamgate-io/teamgate/internal/engine"
	"github.com/teamgate-io/teamgate/internal/forms"
	"github.com/teamgate-io/teamgate/internal/prompt"
	"github.com/teamgate-io/teamgate/internal/provider"
	"github.com/teamgate-io/teamgate/internal/upstream"
	"github.com/teamgate-io/teamgate/internal/vault"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantKind   string
	}{
		{provider.ErrUnknownProvider, http.StatusNotFound, "UnknownProvider"},
		{provider.ErrUnknownModel, http.StatusNotFound, "UnknownModel"},
		{provider.ErrUnsupportedModelType, http.StatusBadRequest, "UnsupportedModelType"},
		{forms.ErrMissing, http.StatusBadRequest, "MissingParameter"},
		{forms.ErrInvalid, http.StatusBadRequest, "InvalidParameter"},
		{provider.ErrMissingCredential, http.StatusBadRequest, "MissingCredential"},
		{provider.ErrInvalidCredential, http.StatusBadRequest, "InvalidCredential"},
		{engine.ErrContextOverflow, http.StatusBadRequest, "ContextOverflow"},
		{prompt.ErrNotImplemented, http.StatusNotImplemented, "NotImplemented"},
		{vault.ErrPrivateKeyNotFound, http.StatusInternalServerError, "PrivateKeyNotFound"},
		{vault.ErrCrypto, http.StatusInternalServerError, "CryptoError"},
		{upstream.ErrUpstreamTimeout, http.StatusGatewayTimeout, "UpstreamTimeout"},
		{upstream.ErrUpstreamDisconnected, http.StatusBadGateway, "UpstreamDisconnected"},
		{upstream.ErrUpstream, http.StatusBadGateway, "UpstreamError"},
		{errors.New("boom"), http.StatusInternalServerError, "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			status, kind := classify(tt.err)
			if status != tt.wantStatus || kind != tt.wantKind {
				t.Errorf("classify(%v) = (%d, %q), want (%d, %q)", tt.err, status, kind, tt.wantStatus, tt.wantKind)
			}
		})
	}
}

func TestClassify_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("model lookup: %w", provider.ErrUnknownModel)
	status, kind := classify(wrapped)
	if status != http.StatusNotFound || kind != "UnknownModel" {
		t.Errorf("classify(wrapped) = (%d, %q), want (404, UnknownModel)", status, kind)
	}
}
