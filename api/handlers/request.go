package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/BaSui01/astrogeminibot/types"
)

// maxBodyBytes JSON 请求体上限
const maxBodyBytes = 1 << 20

// decodeJSON 校验 Content-Type 并严格解码请求体（拒绝未知字段与多余内容）
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) *types.Error {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		return types.NewInvalidRequestError("Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
	}
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewInvalidRequestError("request body is empty")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON value")
	}

	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tooLarge):
		return types.NewInvalidRequestError("request body too large").WithCause(err)
	case errors.Is(err, io.EOF):
		return types.NewInvalidRequestError("request body is empty")
	default:
		return types.NewInvalidRequestError("invalid JSON body").WithCause(err)
	}
}

// userIDFromPath 解析 {id} 路径参数，必须为正整数
func userIDFromPath(r *http.Request) (int64, *types.Error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewInvalidRequestError("user id must be a positive integer")
	}
	return id, nil
}
