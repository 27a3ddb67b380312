package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（バイト）。
const maxRequestBodySize = 16 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON はリクエストボディをdstにデコードし、validateタグで検証する。
// 失敗時はINVALID_REQUEST（emailタグの場合はINVALID_EMAIL）の*model.APIErrorを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewInvalidRequestError("リクエストボディが空です")
		}
		return model.NewInvalidRequestError("JSONの形式が不正です")
	}

	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError はvalidatorのエラーを最初のフィールドのメッセージに変換する。
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewInvalidRequestError(err.Error())
	}
	fe := verrs[0]
	if fe.Tag() == "email" {
		return model.NewInvalidEmailError(fmt.Sprint(fe.Value()))
	}
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	return model.NewInvalidRequestError(fmt.Sprintf("%s: %s", field, fe.Tag()))
}

// optionalString はJSONの「未指定」と「null」を区別する文字列フィールド。
type optionalString struct {
	model.Optional[string]
}

func (o *optionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// check は値が指定されている場合のみvalidatorのタグで検証する。
func (o optionalString) check(field, tag string) error {
	if !o.Set || o.Value == nil {
		return nil
	}
	if err := validate.Var(*o.Value, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NewInvalidRequestError(fmt.Sprintf("%s: %s", field, verrs[0].Tag()))
		}
		return model.NewInvalidRequestError(field)
	}
	return nil
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
