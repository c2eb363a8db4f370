package middleware

import (
	"net/http"

	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/httputil"
)

func writeError(w http.ResponseWriter, status int, err *apperrors.AppError) {
	httputil.WriteErrorWithStatus(w, status, err)
}
